// Package multiplex implements the time-sharded multiplexer: the
// virtual back-end over many shards for one stream, routing writes,
// merging reads, and isolating per-shard corruption.
package multiplex

import (
	"time"

	"github.com/aurora-historian/engine/internal/backend"
	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/internal/manager"
	"github.com/aurora-historian/engine/pkg/sample"
)

// Stream is the multiplexed view of one (configId, detailLevel, method)
// triple.
type Stream struct {
	Manager  *manager.Manager
	Meta     sample.Metadata // ConfigurationID, DetailLevelID, CalculationMethod, DataType, ProposedDataAge, AcceptedTimeDelta
	Now      func() time.Time
}

func New(m *manager.Manager, meta sample.Metadata) *Stream {
	s := &Stream{Manager: m, Meta: meta, Now: time.Now}
	return s
}

// IsTimeSpanConstant mirrors the file back-end surface; a multiplexed
// stream has no fixed span.
func (s *Stream) IsTimeSpanConstant() bool { return false }

// UpdateLongs and UpdateDoubles both route through updateSamples; the
// per-bucket batching and corruption isolation is payload-kind agnostic.
func (s *Stream) UpdateLongs(vs []sample.Sample) error  { return s.updateSamples(vs) }
func (s *Stream) UpdateDoubles(vs []sample.Sample) error { return s.updateSamples(vs) }

// updateSamples partitions vs by insertion shard and writes each bucket
// independently; a failing bucket is logged, marked corrupt, and skipped
// rather than aborting the whole batch.
func (s *Stream) updateSamples(vs []sample.Sample) error {
	buckets := map[*shardHandle][]sample.Sample{}
	order := []*shardHandle{}

	for _, v := range vs {
		bf, err := s.Manager.GetBackEndForInsert(s.Meta.ConfigurationID, s.Meta.DetailLevelID, s.Meta.CalculationMethod, s.Meta.DataType, v.Time, s.Meta.ProposedDataAge, s.Meta.AcceptedTimeDelta)
		if err != nil {
			log.Warnf("multiplex: could not allocate shard for t=%d: %v", v.Time, err)
			continue
		}
		h := &shardHandle{bf}
		found := false
		for _, existing := range order {
			if existing.bf.Path == bf.Path {
				h = existing
				found = true
				break
			}
		}
		if !found {
			order = append(order, h)
		}
		buckets[h] = append(buckets[h], v)
	}

	var firstErr error
	for _, h := range order {
		if err := h.bf.UpdateLongs(buckets[h]); err != nil {
			log.Warnf("multiplex: shard %s failed update, marking corrupt: %v", h.bf.Path, err)
			if merr := s.Manager.MarkBackEndAsCorrupt(s.Meta.ConfigurationID, s.Meta.DetailLevelID, s.Meta.CalculationMethod, h.bf.Meta.StartTime); merr != nil {
				log.Warnf("multiplex: could not mark %s corrupt: %v", h.bf.Path, merr)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_ = s.Manager.DeinitializeBackEnd(h.bf)
	}
	return firstErr
}

type shardHandle struct {
	bf *backend.File
}

// GetValues merges reads across every shard covering [start,end), newest
// shard first, inserting a zero-quality sentinel when a shard cannot be
// read, and stopping once the accumulator's earliest sample already
// covers start.
func (s *Stream) GetValues(start, end int64) ([]sample.Sample, error) {
	shards, err := s.Manager.GetExistingBackEnds(s.Meta.ConfigurationID, s.Meta.DetailLevelID, s.Meta.CalculationMethod, start, end)
	if err != nil {
		return nil, err
	}

	stale := start < s.Now().UnixMilli()-s.Meta.ProposedDataAge
	var acc []sample.Sample

	for _, bf := range shards {
		values, rerr := bf.GetValues(start, end)
		if rerr != nil {
			log.WarnOrInfo(stale, "multiplex: shard %s read failed: %v", bf.Path, rerr)
			if merr := s.Manager.MarkBackEndAsCorrupt(s.Meta.ConfigurationID, s.Meta.DetailLevelID, s.Meta.CalculationMethod, bf.Meta.StartTime); merr != nil {
				log.Warnf("multiplex: could not mark %s corrupt: %v", bf.Path, merr)
			}
			sentinel := sample.Sentinel(bf.Meta.StartTime, s.Meta.DataType.Kind())
			acc = prepend(acc, []sample.Sample{sentinel})
			_ = s.Manager.DeinitializeBackEnd(bf)
			if len(acc) > 0 && acc[0].Time <= start {
				break
			}
			continue
		}
		acc = prepend(acc, values)
		_ = s.Manager.DeinitializeBackEnd(bf)
		if len(acc) > 0 && acc[0].Time <= start {
			break
		}
	}
	return acc, nil
}

func prepend(acc []sample.Sample, head []sample.Sample) []sample.Sample {
	if len(head) == 0 {
		return acc
	}
	return append(append([]sample.Sample(nil), head...), acc...)
}

// CleanupRelicts finds the newest record, computes a retention boundary
// ProposedDataAge before it, and deletes shards entirely older than that
// boundary while always preserving at least two samples.
func (s *Stream) CleanupRelicts() error {
	now := s.Now().UnixMilli()
	newest, err := s.GetValues(now-1, now+1)
	if err != nil {
		return err
	}
	if len(newest) == 0 {
		return nil
	}
	boundaryTime := newest[len(newest)-1].Time - s.Meta.ProposedDataAge

	before, err := s.GetValues(boundaryTime-1, boundaryTime+1)
	if err != nil {
		return err
	}
	if len(before) < 1 {
		return nil
	}

	if len(newest) < 2 && len(before) > 0 {
		// Preserving at least two samples means never deleting past the
		// one immediately preceding the newest.
		boundaryTime = before[0].Time - 1
	}

	return s.Manager.DeleteOldBackEnds(s.Meta.ConfigurationID, s.Meta.DetailLevelID, s.Meta.CalculationMethod, boundaryTime)
}
