// Package channel implements the storage channel façade: the
// public surface applications call, fanning updates out to every
// registered channel and optimizing reads when only one is registered.
package channel

import (
	"sync"

	"github.com/aurora-historian/engine/pkg/sample"
)

// ExtendedStorageChannel is the capability every registered back-end
// (typically a *multiplex.Stream) must provide.
type ExtendedStorageChannel interface {
	UpdateLongs(vs []sample.Sample) error
	UpdateDoubles(vs []sample.Sample) error
	GetValues(start, end int64) ([]sample.Sample, error)
}

// Facade broadcasts writes to, and merges reads from, a set of registered
// channels, holding an internal monitor so registration never races a
// broadcast.
type Facade struct {
	mu       sync.RWMutex
	channels []ExtendedStorageChannel
}

func New() *Facade { return &Facade{} }

func (f *Facade) Register(c ExtendedStorageChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, c)
}

func (f *Facade) Unregister(c ExtendedStorageChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.channels {
		if existing == c {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			return
		}
	}
}

func (f *Facade) UpdateLong(v sample.Sample) error { return f.UpdateLongs([]sample.Sample{v}) }
func (f *Facade) UpdateDouble(v sample.Sample) error { return f.UpdateDoubles([]sample.Sample{v}) }

func (f *Facade) UpdateLongs(vs []sample.Sample) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var firstErr error
	for _, c := range f.channels {
		if err := c.UpdateLongs(vs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Facade) UpdateDoubles(vs []sample.Sample) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var firstErr error
	for _, c := range f.channels {
		if err := c.UpdateDoubles(vs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetLongValues and GetDoubleValues both route through getValues; a
// single registered channel is returned directly,
// otherwise results are concatenated in registration order.
func (f *Facade) GetLongValues(start, end int64) ([]sample.Sample, error) { return f.getValues(start, end) }
func (f *Facade) GetDoubleValues(start, end int64) ([]sample.Sample, error) { return f.getValues(start, end) }

func (f *Facade) getValues(start, end int64) ([]sample.Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.channels) == 1 {
		return f.channels[0].GetValues(start, end)
	}

	var out []sample.Sample
	for _, c := range f.channels {
		vs, err := c.GetValues(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}
