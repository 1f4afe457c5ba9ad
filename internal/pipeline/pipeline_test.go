package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/aurora-historian/engine/internal/manager"
	"github.com/aurora-historian/engine/internal/multiplex"
	"github.com/aurora-historian/engine/internal/naming"
	"github.com/aurora-historian/engine/pkg/calc"
	"github.com/aurora-historian/engine/pkg/sample"
)

func newTestNext(t *testing.T) *multiplex.Stream {
	t.Helper()
	factory := naming.New(t.TempDir())
	mgr, err := manager.New(factory, 60_000, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	meta := sample.Metadata{
		ConfigurationID:   "boiler.avg",
		CalculationMethod: sample.MethodAverage,
		DetailLevelID:     1,
		DataType:          sample.DataTypeDouble,
		ProposedDataAge:   1_000_000,
	}
	return multiplex.New(mgr, meta)
}

func TestFlushedAggregateIsStampedAtWindowStart(t *testing.T) {
	next := newTestNext(t)
	provider := calc.ForMethod(sample.MethodAverage, 1000)
	level := New(1, provider, next, sample.KindDouble, 0)

	if err := level.Feed(sample.NewDouble(100, 1, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := level.Feed(sample.NewDouble(1100, 1, 0, 1, 2)); err != nil {
		t.Fatal(err)
	}

	out, err := next.GetValues(0, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one emitted aggregate after the first window flushed, got %d: %v", len(out), out)
	}
	if out[0].Time != 0 {
		t.Fatalf("emitted aggregate should be stamped at its window start, got %d", out[0].Time)
	}
}

func TestNonAscendingEmissionIsDropped(t *testing.T) {
	next := newTestNext(t)
	level := New(1, calc.ForMethod(sample.MethodNative, 0), next, sample.KindDouble, 0)

	if err := level.Feed(sample.NewDouble(100, 1, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := level.Feed(sample.NewDouble(50, 1, 0, 1, 2)); err != nil {
		t.Fatal(err)
	}

	out, err := next.GetValues(0, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Time != 100 {
		t.Fatalf("the earlier, non-ascending sample should have been dropped, got %v", out)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	next := newTestNext(t)
	provider := calc.ForMethod(sample.MethodAverage, 1000)
	level := New(1, provider, next, sample.KindDouble, 0)
	if err := level.Feed(sample.NewDouble(100, 1, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "checkpoint.avro")
	if err := level.WriteCheckpoint(path); err != nil {
		t.Fatal(err)
	}

	restored := New(1, provider, next, sample.KindDouble, 0)
	if err := restored.ReadCheckpoint(path); err != nil {
		t.Fatal(err)
	}

	before := level.Snapshot()
	after := restored.Snapshot()
	if before.WindowStart != after.WindowStart || len(before.Buffer) != len(after.Buffer) {
		t.Fatalf("checkpoint round trip mismatch: before=%+v after=%+v", before, after)
	}
}

func TestReadCheckpointMissingFileIsNotAnError(t *testing.T) {
	next := newTestNext(t)
	level := New(1, calc.ForMethod(sample.MethodAverage, 1000), next, sample.KindDouble, 0)

	if err := level.ReadCheckpoint(filepath.Join(t.TempDir(), "missing.avro")); err != nil {
		t.Fatalf("a missing checkpoint file should not be an error, got %v", err)
	}
}
