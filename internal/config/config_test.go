package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aurora-historian/engine/internal/aurerr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDataFilePoolSettings(t *testing.T) {
	path := writeFile(t, "settings.xml", `<?xml version="1.0"?>
<properties>
  <entry key="time">7</entry>
  <entry key="unit">DAYS</entry>
  <entry key="count">30</entry>
  <entry key="version">2</entry>
</properties>`)

	s, err := LoadDataFilePoolSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Time != 7 || s.Unit != Days || s.Count != 30 || s.Version != 2 {
		t.Fatalf("parsed settings = %+v, want Time=7 Unit=DAYS Count=30 Version=2", s)
	}
}

func TestTimeUnitDuration(t *testing.T) {
	if Days.Duration(1) != 24*time.Hour {
		t.Fatalf("Days.Duration(1) = %v, want 24h", Days.Duration(1))
	}
	if Hours.Duration(3) != 3*time.Hour {
		t.Fatalf("Hours.Duration(3) = %v, want 3h", Hours.Duration(3))
	}
}

func TestLoadEngineConfigValid(t *testing.T) {
	path := writeFile(t, "engine.json", `{
		"num-workers": 4,
		"shard-width-ms": 86400000,
		"keep-open-levels": 1,
		"checkpoints": {"directory": "/tmp/ckpt", "interval": "5m"},
		"retention": "30d",
		"memory-cap-mb": 256,
		"log-level": "info"
	}`)

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NumWorkers != 4 || cfg.MemoryCapMB != 256 || cfg.LogLevel != "info" {
		t.Fatalf("unexpected parsed config: %+v", cfg)
	}
}

func TestLoadEngineConfigMissingRequiredFieldFails(t *testing.T) {
	path := writeFile(t, "engine.json", `{"num-workers": 4}`)

	_, err := LoadEngineConfig(path)
	if !aurerr.Is(err, aurerr.KindInvalidArgument) {
		t.Fatalf("expected KindInvalidArgument for a config missing required fields, got %v", err)
	}
}

func TestLoadEngineConfigBadLogLevelFails(t *testing.T) {
	path := writeFile(t, "engine.json", `{
		"checkpoints": {"directory": "/tmp", "interval": "1m"},
		"retention": "1d",
		"memory-cap-mb": 10,
		"log-level": "verbose"
	}`)

	_, err := LoadEngineConfig(path)
	if !aurerr.Is(err, aurerr.KindInvalidArgument) {
		t.Fatalf("expected KindInvalidArgument for an out-of-enum log level, got %v", err)
	}
}
