// Package pipeline implements the aggregation pipeline: each
// coarser detail level buffers its input until a full required timespan
// has accumulated, then runs its calculation provider and forwards the
// result to the next level's multiplexer.
package pipeline

import (
	"sync"

	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/internal/multiplex"
	"github.com/aurora-historian/engine/pkg/calc"
	"github.com/aurora-historian/engine/pkg/sample"
)

// Level is one rung of the pipeline: it receives samples from the level
// below (or from direct ingestion, for level 0) and emits aggregates to
// Next, which owns the multiplexed shard storage for this level.
type Level struct {
	DetailLevelID int64
	Provider      calc.Provider
	Next          *multiplex.Stream
	OutputKind    sample.Kind

	mu              sync.Mutex
	windowStart     int64
	haveWindow      bool
	buffer          []sample.Sample
	lastEmittedTime int64
	haveEmitted     bool
}

// New builds a Level. A non-zero windowStart seeds the first aggregation
// window (e.g. a checkpointed value on restart); 0 leaves it unset for a
// fresh stream, so the first Feed aligns it down to a multiple of the
// provider's span.
func New(detailLevelID int64, provider calc.Provider, next *multiplex.Stream, outputKind sample.Kind, windowStart int64) *Level {
	return &Level{DetailLevelID: detailLevelID, Provider: provider, Next: next, OutputKind: outputKind, windowStart: windowStart, haveWindow: windowStart != 0}
}

// Feed accepts one input sample. NATIVE levels forward immediately;
// others buffer until their window is full, then emit and slide forward,
// repeating until the new sample fits in the current window.
func (l *Level) Feed(s sample.Sample) error {
	if l.Provider.PassThrough() {
		return l.emit(s.ConvertTo(l.OutputKind))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	span := l.Provider.RequiredTimespanMs()
	if !l.haveWindow {
		l.windowStart = (s.Time / span) * span
		l.haveWindow = true
	}

	for s.Time >= l.windowStart+span {
		if err := l.flushLocked(span); err != nil {
			return err
		}
	}
	l.buffer = append(l.buffer, s)
	return nil
}

// flushLocked runs the provider over the current window's buffer, emits
// the result, and slides the window forward by span. Caller holds mu.
func (l *Level) flushLocked(span int64) error {
	out := l.Provider.GenerateValue(l.buffer, l.windowStart, l.windowStart+span, l.OutputKind)
	windowStart := l.windowStart
	l.windowStart += span

	kept := l.buffer[:0]
	for _, s := range l.buffer {
		if s.Time >= l.windowStart {
			kept = append(kept, s)
		}
	}
	l.buffer = kept

	_ = windowStart
	return l.emit(out)
}

// emit enforces the strictly-ascending-time guarantee before forwarding to the next level's multiplexer.
func (l *Level) emit(s sample.Sample) error {
	if l.haveEmitted && s.Time <= l.lastEmittedTime {
		log.Warnf("pipeline: level %d dropping non-ascending emission t=%d (last=%d)", l.DetailLevelID, s.Time, l.lastEmittedTime)
		return nil
	}
	l.lastEmittedTime = s.Time
	l.haveEmitted = true

	if s.Kind == sample.KindDouble {
		return l.Next.UpdateDoubles([]sample.Sample{s})
	}
	return l.Next.UpdateLongs([]sample.Sample{s})
}

// Checkpoint captures the in-flight buffer state for persistence.
type Checkpoint struct {
	WindowStart     int64
	LastEmittedTime int64
	HaveEmitted     bool
	Buffer          []sample.Sample
}

func (l *Level) Snapshot() Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Checkpoint{
		WindowStart:     l.windowStart,
		LastEmittedTime: l.lastEmittedTime,
		HaveEmitted:     l.haveEmitted,
		Buffer:          append([]sample.Sample(nil), l.buffer...),
	}
}

func (l *Level) Restore(c Checkpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windowStart = c.WindowStart
	l.haveWindow = true
	l.lastEmittedTime = c.LastEmittedTime
	l.haveEmitted = c.HaveEmitted
	l.buffer = append([]sample.Sample(nil), c.Buffer...)
}
