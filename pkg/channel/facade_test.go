package channel

import (
	"errors"
	"testing"

	"github.com/aurora-historian/engine/pkg/sample"
)

type fakeChannel struct {
	name       string
	values     []sample.Sample
	updates    []sample.Sample
	failUpdate bool
	failGet    bool
}

func (f *fakeChannel) UpdateLongs(vs []sample.Sample) error {
	if f.failUpdate {
		return errors.New("boom")
	}
	f.updates = append(f.updates, vs...)
	return nil
}

func (f *fakeChannel) UpdateDoubles(vs []sample.Sample) error { return f.UpdateLongs(vs) }

func (f *fakeChannel) GetValues(start, end int64) ([]sample.Sample, error) {
	if f.failGet {
		return nil, errors.New("boom")
	}
	return f.values, nil
}

func TestSingleChannelOptimization(t *testing.T) {
	f := New()
	c := &fakeChannel{values: []sample.Sample{sample.NewLong(1, 1, 0, 1, 1)}}
	f.Register(c)

	out, err := f.GetLongValues(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected the single channel's values returned directly, got %v", out)
	}
}

func TestBroadcastUpdate(t *testing.T) {
	f := New()
	a := &fakeChannel{}
	b := &fakeChannel{}
	f.Register(a)
	f.Register(b)

	v := sample.NewLong(1, 1, 0, 1, 9)
	if err := f.UpdateLong(v); err != nil {
		t.Fatal(err)
	}
	if len(a.updates) != 1 || len(b.updates) != 1 {
		t.Fatalf("expected both channels to receive the update: a=%v b=%v", a.updates, b.updates)
	}
}

func TestConcatenateMultipleChannels(t *testing.T) {
	f := New()
	a := &fakeChannel{values: []sample.Sample{sample.NewLong(1, 1, 0, 1, 1)}}
	b := &fakeChannel{values: []sample.Sample{sample.NewLong(2, 1, 0, 1, 2)}}
	f.Register(a)
	f.Register(b)

	out, err := f.GetLongValues(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected concatenated results from both channels, got %v", out)
	}
}

func TestUnregisterRemovesChannel(t *testing.T) {
	f := New()
	a := &fakeChannel{}
	f.Register(a)
	f.Unregister(a)

	if err := f.UpdateLong(sample.NewLong(1, 1, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if len(a.updates) != 0 {
		t.Fatalf("unregistered channel should not receive updates, got %v", a.updates)
	}
}

func TestBroadcastReturnsFirstError(t *testing.T) {
	f := New()
	a := &fakeChannel{failUpdate: true}
	b := &fakeChannel{}
	f.Register(a)
	f.Register(b)

	if err := f.UpdateLong(sample.NewLong(1, 1, 0, 1, 1)); err == nil {
		t.Fatalf("expected an error when one channel fails its update")
	}
	if len(b.updates) != 1 {
		t.Fatalf("a failing channel should not stop the broadcast to others")
	}
}
