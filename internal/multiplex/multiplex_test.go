package multiplex

import (
	"os"
	"testing"
	"time"

	"github.com/aurora-historian/engine/internal/manager"
	"github.com/aurora-historian/engine/internal/naming"
	"github.com/aurora-historian/engine/pkg/sample"
)

func newTestStream(t *testing.T, shardWidth int64) *Stream {
	t.Helper()
	return newTestStreamKeepOpen(t, shardWidth, 0)
}

// newTestStreamKeepOpen builds a stream whose manager keeps descriptors
// open up to keepOpenLevels; pass -1 so level 0 always reopens (and thus
// re-validates its header) on every call.
func newTestStreamKeepOpen(t *testing.T, shardWidth, keepOpenLevels int64) *Stream {
	t.Helper()
	factory := naming.New(t.TempDir())
	mgr, err := manager.New(factory, shardWidth, keepOpenLevels, 8)
	if err != nil {
		t.Fatal(err)
	}
	meta := sample.Metadata{
		ConfigurationID:   "boiler",
		CalculationMethod: sample.MethodNative,
		DataType:          sample.DataTypeDouble,
		ProposedDataAge:   1_000_000,
	}
	return New(mgr, meta)
}

func TestMergeAcrossShards(t *testing.T) {
	s := newTestStream(t, 1000)
	in := []sample.Sample{
		sample.NewDouble(100, 1, 0, 1, 1),
		sample.NewDouble(1500, 1, 0, 1, 2),
		sample.NewDouble(2500, 1, 0, 1, 3),
	}
	if err := s.UpdateDoubles(in); err != nil {
		t.Fatal(err)
	}

	out, err := s.GetValues(0, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 merged values across shards, got %d: %v", len(out), out)
	}
	for i := 0; i < len(out)-1; i++ {
		if out[i].Time >= out[i+1].Time {
			t.Fatalf("merged results must be strictly ascending: %v", out)
		}
	}
}

func TestCorruptShardYieldsSentinelNotError(t *testing.T) {
	s := newTestStream(t, 1000)
	if err := s.UpdateDoubles([]sample.Sample{sample.NewDouble(100, 1, 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}

	shards, err := s.Manager.GetExistingBackEnds("boiler", 0, sample.MethodNative, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 1 {
		t.Fatalf("expected exactly one shard, got %d", len(shards))
	}
	if err := shards[0].Delete(); err != nil {
		t.Fatal(err)
	}

	out, err := s.GetValues(0, 1000)
	if err != nil {
		t.Fatalf("a corrupt/missing shard should not fail the whole read, got err: %v", err)
	}
	if len(out) != 1 || out[0].Quality != 0 {
		t.Fatalf("expected a single zero-quality sentinel, got %v", out)
	}
}

// TestCorruptHeaderOnIndexedShardYieldsSentinel trashes the on-disk header
// of a shard that is still present in the manager's in-memory index (the
// file is never deleted, only corrupted in place) and expects a read
// covering it to degrade to a zero-quality sentinel rather than an error,
// while a sibling shard's real data still comes through.
func TestCorruptHeaderOnIndexedShardYieldsSentinel(t *testing.T) {
	s := newTestStreamKeepOpen(t, 500, -1)
	in := []sample.Sample{
		sample.NewDouble(100, 1, 0, 1, 1),
		sample.NewDouble(600, 1, 0, 1, 2),
	}
	if err := s.UpdateDoubles(in); err != nil {
		t.Fatal(err)
	}

	shards, err := s.Manager.GetExistingBackEnds("boiler", 0, sample.MethodNative, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(shards) != 2 {
		t.Fatalf("expected two shards covering [0,1000), got %d", len(shards))
	}
	var firstShardPath string
	for _, sh := range shards {
		if sh.Meta.StartTime == 0 {
			firstShardPath = sh.Path
		}
	}
	if firstShardPath == "" {
		t.Fatal("could not find the shard covering [0,500)")
	}

	raw, err := os.ReadFile(firstShardPath)
	if err != nil {
		t.Fatal(err)
	}
	raw[10] ^= 0xFF
	if err := os.WriteFile(firstShardPath, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := s.GetValues(0, 1000)
	if err != nil {
		t.Fatalf("a corrupt-header covering shard should not fail the whole read, got err: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected a sentinel plus the surviving shard's sample, got %v", out)
	}
	if out[0].Time != 0 || out[0].Quality != 0 {
		t.Fatalf("expected a zero-quality sentinel at the start of the corrupt shard's span, got %v", out[0])
	}
	if out[1].Time != 600 {
		t.Fatalf("expected the second shard's real sample to survive, got %v", out[1])
	}

	shardsAfter, err := s.Manager.GetExistingBackEnds("boiler", 0, sample.MethodNative, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(shardsAfter) != 1 {
		t.Fatalf("the corrupt shard should have been dropped from the index, got %d shards", len(shardsAfter))
	}
}

func TestCleanupRelictsPreservesRecentData(t *testing.T) {
	s := newTestStream(t, 1000)
	s.Meta.ProposedDataAge = 500
	now := time.UnixMilli(10_000)
	s.Now = func() time.Time { return now }

	in := []sample.Sample{
		sample.NewDouble(100, 1, 0, 1, 1),
		sample.NewDouble(9_900, 1, 0, 1, 2),
	}
	if err := s.UpdateDoubles(in); err != nil {
		t.Fatal(err)
	}

	if err := s.CleanupRelicts(); err != nil {
		t.Fatal(err)
	}

	out, err := s.GetValues(0, 20_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) == 0 {
		t.Fatalf("cleanup should not remove all data")
	}
	newest := out[len(out)-1]
	if newest.Time != 9_900 {
		t.Fatalf("the newest sample must survive cleanup, got %v", out)
	}
}
