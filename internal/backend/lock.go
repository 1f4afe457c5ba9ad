package backend

import (
	"sync"

	"github.com/gofrs/flock"
)

// shardLock is the reader/writer lock around a shard's file operations.
// The in-process sync.RWMutex gives fine-grained intra-process discipline;
// the layered gofrs/flock guards against another process opening the same
// shard file, something a pure in-memory mutex cannot do.
type shardLock struct {
	mu   sync.RWMutex
	file *flock.Flock
}

func newShardLock(path string) *shardLock {
	return &shardLock{file: flock.New(path + ".lock")}
}

func (l *shardLock) RLock() error {
	l.mu.RLock()
	if err := l.file.RLock(); err != nil {
		l.mu.RUnlock()
		return err
	}
	return nil
}

func (l *shardLock) RUnlock() {
	_ = l.file.Unlock()
	l.mu.RUnlock()
}

func (l *shardLock) Lock() error {
	l.mu.Lock()
	if err := l.file.Lock(); err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *shardLock) Unlock() {
	_ = l.file.Unlock()
	l.mu.Unlock()
}
