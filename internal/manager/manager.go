// Package manager implements the back-end manager: the lifecycle
// of per-shard handles for one stream, shard allocation on demand,
// corruption isolation, and deletion of aged shards.
package manager

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aurora-historian/engine/internal/aurerr"
	"github.com/aurora-historian/engine/internal/backend"
	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/internal/naming"
	"github.com/aurora-historian/engine/pkg/sample"
)

type streamKey struct {
	configID string
	level    int64
	method   sample.CalculationMethod
}

// Manager owns the shard index for every (stream, detail level,
// calculation method) triple opened through it.
type Manager struct {
	factory *naming.Factory

	// ShardWidth is the window width (ms) new shards are allocated with.
	ShardWidth int64

	// KeepOpenLevels bounds which detail levels stay pooled in the
	// keepOpen cache; levels above it are reopened on every call.
	KeepOpenLevels int64

	mu      sync.Mutex
	streams map[streamKey][]*backend.File // sorted ascending by StartTime
	keepOpen *lru.Cache[string, *backend.File]
}

// New builds a Manager rooted at factory, with a keepOpen descriptor pool
// bounded to capacity entries, evicting via Deinitialize rather than a
// silent drop.
func New(factory *naming.Factory, shardWidth int64, keepOpenLevels int64, capacity int) (*Manager, error) {
	m := &Manager{
		factory:        factory,
		ShardWidth:     shardWidth,
		KeepOpenLevels: keepOpenLevels,
		streams:        map[streamKey][]*backend.File{},
	}
	cache, err := lru.NewWithEvict[string, *backend.File](capacity, func(_ string, bf *backend.File) {
		_ = bf.Deinitialize()
	})
	if err != nil {
		return nil, aurerr.New(aurerr.KindInvalidArgument, "manager.New", err)
	}
	m.keepOpen = cache
	return m, nil
}

func (m *Manager) key(configID string, level int64, method sample.CalculationMethod) streamKey {
	return streamKey{configID, level, method}
}

// load lazily discovers the on-disk shards for a stream the first time
// it's touched.
func (m *Manager) load(k streamKey) ([]*backend.File, error) {
	if existing, ok := m.streams[k]; ok {
		return existing, nil
	}
	found, err := m.factory.GetExistingBackEnds(k.configID, k.level, k.method)
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Meta.StartTime < found[j].Meta.StartTime })
	m.streams[k] = found
	return found, nil
}

// GetBackEndForInsert returns the shard covering t, allocating and
// creating a new one aligned on ShardWidth if none exists.
func (m *Manager) GetBackEndForInsert(configID string, level int64, method sample.CalculationMethod, dataType sample.DataType, t int64, proposedDataAge, acceptedTimeDelta int64) (*backend.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(configID, level, method)
	shards, err := m.load(k)
	if err != nil {
		return nil, err
	}
	for _, s := range shards {
		if t >= s.Meta.StartTime && t < s.Meta.EndTime {
			opened, err := m.open(s)
			if err == nil {
				return opened, nil
			}
			log.Warnf("manager: shard %s failed to open for insert, marking corrupt and allocating a new one: %v", s.Path, err)
			m.markCorruptLocked(k, s)
			shards = m.streams[k]
			break
		}
	}

	start := (t / m.ShardWidth) * m.ShardWidth
	if start > t {
		start -= m.ShardWidth
	}
	meta := sample.Metadata{
		ConfigurationID:   configID,
		CalculationMethod: method,
		DetailLevelID:     level,
		StartTime:         start,
		EndTime:           start + m.ShardWidth,
		DataType:          dataType,
		ProposedDataAge:   proposedDataAge,
		AcceptedTimeDelta: acceptedTimeDelta,
	}
	bf := m.factory.CreateNewBackEnd(meta)
	if err := bf.Create(); err != nil {
		return nil, err
	}
	m.streams[k] = insertSorted(shards, bf)
	return m.open(bf)
}

func insertSorted(shards []*backend.File, bf *backend.File) []*backend.File {
	i := sort.Search(len(shards), func(i int) bool { return shards[i].Meta.StartTime >= bf.Meta.StartTime })
	shards = append(shards, nil)
	copy(shards[i+1:], shards[i:])
	shards[i] = bf
	return shards
}

func (m *Manager) open(bf *backend.File) (*backend.File, error) {
	if cached, ok := m.keepOpen.Get(bf.Path); ok {
		return cached, nil
	}
	if err := bf.Initialize(); err != nil {
		return nil, err
	}
	if bf.Meta.DetailLevelID <= m.KeepOpenLevels {
		m.keepOpen.Add(bf.Path, bf)
	}
	return bf, nil
}

// GetExistingBackEnds returns shards overlapping [startTime,endTime) in
// descending end-time order, initialized and ready to read.
//
// A shard that fails to open (trashed header CRC, version mismatch, a
// prior discovery that could only identify it by filename) is marked
// corrupt and still included in the result, unopened: its Meta is
// preserved from the index entry, but every call against it will fail
// with KindNotInitialized. The caller (the multiplexer's merge-read) is
// expected to treat that failure the same as any other shard-read
// failure and synthesize a sentinel — opening or reading one bad shard
// must never abort the whole call.
func (m *Manager) GetExistingBackEnds(configID string, level int64, method sample.CalculationMethod, startTime, endTime int64) ([]*backend.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(configID, level, method)
	shards, err := m.load(k)
	if err != nil {
		return nil, err
	}

	var out []*backend.File
	for _, s := range shards {
		if s == nil {
			continue
		}
		if s.Meta.EndTime > startTime && s.Meta.StartTime < endTime {
			opened, err := m.open(s)
			if err != nil {
				stale := s.Meta.EndTime < time.Now().UnixMilli()-s.Meta.ProposedDataAge
				log.WarnOrInfo(stale, "manager: shard %s failed to open, marking corrupt: %v", s.Path, err)
				m.markCorruptLocked(k, s)
				out = append(out, s)
				continue
			}
			out = append(out, opened)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meta.EndTime != out[j].Meta.EndTime {
			return out[i].Meta.EndTime > out[j].Meta.EndTime
		}
		return out[i].Meta.StartTime > out[j].Meta.StartTime
	})
	return out, nil
}

// DeinitializeBackEnd returns a borrowed handle. Handles kept in the
// keepOpen pool are left open; others are closed immediately.
func (m *Manager) DeinitializeBackEnd(bf *backend.File) error {
	if _, ok := m.keepOpen.Peek(bf.Path); ok {
		return nil
	}
	return bf.Deinitialize()
}

// MarkBackEndAsCorrupt moves the shard covering t aside and removes it
// from the index so the stream remains writable.
func (m *Manager) MarkBackEndAsCorrupt(configID string, level int64, method sample.CalculationMethod, t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(configID, level, method)
	shards, err := m.load(k)
	if err != nil {
		return err
	}

	for _, s := range shards {
		if t >= s.Meta.StartTime && t < s.Meta.EndTime {
			m.markCorruptLocked(k, s)
			return nil
		}
	}
	return nil
}

// markCorruptLocked removes s from stream k's index and renames its file
// aside. Callers must already hold m.mu; a shard already removed from the
// index (e.g. a repeat call for the same shard) is a silent no-op.
func (m *Manager) markCorruptLocked(k streamKey, s *backend.File) {
	m.keepOpen.Remove(s.Path)
	_ = s.Deinitialize()
	corruptPath := fmt.Sprintf("%s.corrupt-%d", s.Path, time.Now().UnixNano())
	if err := os.Rename(s.Path, corruptPath); err != nil {
		log.Warnf("manager: could not rename corrupt shard %s: %v", s.Path, err)
	}

	shards := m.streams[k]
	kept := shards[:0:0]
	for _, existing := range shards {
		if existing != s {
			kept = append(kept, existing)
		}
	}
	m.streams[k] = kept
}

// DeleteOldBackEnds deletes shards whose EndTime <= olderThan.
func (m *Manager) DeleteOldBackEnds(configID string, level int64, method sample.CalculationMethod, olderThan int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(configID, level, method)
	shards, err := m.load(k)
	if err != nil {
		return err
	}

	var kept []*backend.File
	for _, s := range shards {
		if s.Meta.EndTime <= olderThan {
			m.keepOpen.Remove(s.Path)
			if err := s.Delete(); err != nil {
				log.Warnf("manager: could not delete %s: %v", s.Path, err)
				kept = append(kept, s)
			}
			continue
		}
		kept = append(kept, s)
	}
	m.streams[k] = kept
	return nil
}

// FreeRelatedResourced releases every descriptor held for configID across
// all detail levels and methods.
func (m *Manager) FreeRelatedResourced(configID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, shards := range m.streams {
		if k.configID != configID {
			continue
		}
		for _, s := range shards {
			m.keepOpen.Remove(s.Path)
			_ = s.Deinitialize()
		}
	}
}
