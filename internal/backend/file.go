// Package backend implements the file back-end: a single
// self-describing, CRC/LRC-protected file holding one shard's worth of a
// time-sorted sample sequence, with in-place insertion, overwrite, and
// binary-search lookup.
package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aurora-historian/engine/internal/aurerr"
	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/pkg/sample"
)

// File is one shard: a fixed [start,end) window of one stream at one
// detail level and calculation method.
type File struct {
	Path string
	Meta sample.Metadata

	lock *shardLock

	f              *os.File
	dataOffset     int64
	initialized    bool
	isEmpty        bool
	firstValueTime *int64
}

// New returns an uninitialized handle bound to path; it does not touch
// the filesystem.
func New(path string, meta sample.Metadata) *File {
	return &File{Path: path, Meta: meta.Clone(), lock: newShardLock(path)}
}

// Create writes a fresh header to Path. It fails with KindAlreadyExists if
// the file is already there.
func (b *File) Create() error {
	if b.Meta.StartTime >= b.Meta.EndTime {
		return aurerr.New(aurerr.KindInvalidArgument, "backend.Create", fmt.Errorf("startTime %d >= endTime %d", b.Meta.StartTime, b.Meta.EndTime))
	}
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Create", err)
	}
	if _, err := os.Stat(b.Path); err == nil {
		return aurerr.New(aurerr.KindAlreadyExists, "backend.Create", fmt.Errorf("%s exists", b.Path))
	}

	configBytes := []byte(b.Meta.ConfigurationID)
	h := header{
		fileVersion:         int64(FileVersion),
		detailLevelID:       b.Meta.DetailLevelID,
		startTime:           b.Meta.StartTime,
		endTime:             b.Meta.EndTime,
		proposedDataAge:     b.Meta.ProposedDataAge,
		acceptedTimeDelta:   b.Meta.AcceptedTimeDelta,
		dataTypeID:          b.Meta.DataType.ID(),
		calculationMethodID: b.Meta.CalculationMethod.ID(),
		paramCount:          int32(len(b.Meta.CalculationMethodParameters)),
		configIDByteLen:     int32(len(configBytes)),
		params:              b.Meta.CalculationMethodParameters,
		configurationID:     b.Meta.ConfigurationID,
	}
	h.dataOffset = headerDataOffset(h.paramCount, h.configIDByteLen)

	f, err := os.OpenFile(b.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Create", err)
	}
	defer f.Close()

	if _, err := f.Write(encodeHeader(h)); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Create", err)
	}
	return f.Sync()
}

// Initialize opens the shard and validates its header. Meta is replaced by
// the metadata read from the header; it is not compared with what Meta
// held before.
//
// Re-Initializing an already-open handle (the reopen-on-every-call path
// for detail levels above the keepOpen threshold) first closes the prior
// descriptor and clears the initialized flag, so a failed re-validation
// never leaves the handle reporting stale, pre-failure state as good.
func (b *File) Initialize() error {
	if b.f != nil {
		_ = b.f.Close()
		b.f = nil
	}
	b.initialized = false

	raw, err := os.ReadFile(b.Path)
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Initialize", err)
	}
	if len(raw) < 92 {
		return aurerr.New(aurerr.KindCorruptHeader, "backend.Initialize", fmt.Errorf("file too short (%d bytes)", len(raw)))
	}
	if got := beUint64(raw[0:8]); got != FileMarker {
		return aurerr.New(aurerr.KindCorruptHeader, "backend.Initialize", fmt.Errorf("bad marker %x", got))
	}

	h := decodeHeader(raw)
	wantOffset := headerDataOffset(h.paramCount, h.configIDByteLen)
	if h.dataOffset != wantOffset || int64(len(raw)) < h.dataOffset {
		return aurerr.New(aurerr.KindCorruptHeader, "backend.Initialize", fmt.Errorf("inconsistent dataOffset %d", h.dataOffset))
	}
	if h.fileVersion != int64(FileVersion) {
		return aurerr.New(aurerr.KindCorruptHeader, "backend.Initialize", fmt.Errorf("unsupported file version %d", h.fileVersion))
	}

	off := int64(88 + 8*int(h.paramCount))
	h.params = make([]int64, h.paramCount)
	for i := range h.params {
		h.params[i] = int64(beUint64(raw[88+8*i : 96+8*i]))
	}
	h.configurationID = string(trimNulls(raw[off : off+int64(h.configIDByteLen)]))

	wantCRC := beUint32(raw[h.dataOffset-4 : h.dataOffset])
	gotCRC := crc32IEEE(raw[8 : h.dataOffset-4])
	if wantCRC != gotCRC {
		return aurerr.New(aurerr.KindCorruptHeader, "backend.Initialize", fmt.Errorf("header CRC mismatch"))
	}

	meta := sample.Metadata{
		ConfigurationID:             h.configurationID,
		CalculationMethod:           sample.MethodFromID(h.calculationMethodID),
		CalculationMethodParameters: h.params,
		DetailLevelID:               h.detailLevelID,
		StartTime:                   h.startTime,
		EndTime:                     h.endTime,
		DataType:                    sample.DataTypeFromID(h.dataTypeID),
		ProposedDataAge:             h.proposedDataAge,
		AcceptedTimeDelta:           h.acceptedTimeDelta,
	}
	b.Meta = meta
	b.dataOffset = h.dataOffset

	f, err := os.OpenFile(b.Path, os.O_RDWR, 0o644)
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Initialize", err)
	}
	b.f = f

	n, err := b.alignedRecordCount()
	if err != nil {
		f.Close()
		return err
	}
	b.isEmpty = n == 0
	if n > 0 {
		buf := make([]byte, RecordSize)
		if _, err := b.f.ReadAt(buf, b.dataOffset); err != nil {
			f.Close()
			return aurerr.New(aurerr.KindIoFailure, "backend.Initialize", err)
		}
		t := int64(beUint64(buf[0:8]))
		b.firstValueTime = &t
	}
	b.initialized = true
	return nil
}

// Deinitialize closes the open descriptor and drops cached state.
func (b *File) Deinitialize() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	b.initialized = false
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Deinitialize", err)
	}
	return nil
}

// Delete removes the shard file. Idempotent.
func (b *File) Delete() error {
	if err := b.lock.Lock(); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.Delete", err)
	}
	defer b.lock.Unlock()
	_ = b.Deinitialize()
	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return aurerr.New(aurerr.KindIoFailure, "backend.Delete", err)
	}
	_ = os.Remove(b.Path + ".lock")
	return nil
}

// IsTimeSpanConstant reports that a shard's window never changes after
// creation.
func (b *File) IsTimeSpanConstant() bool { return true }

// alignedRecordCount returns the number of complete records currently on
// disk, logging (not failing) when the tail is torn.
func (b *File) alignedRecordCount() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, aurerr.New(aurerr.KindIoFailure, "backend.alignedRecordCount", err)
	}
	dataLen := fi.Size() - b.dataOffset
	if dataLen < 0 {
		dataLen = 0
	}
	rem := dataLen % RecordSize
	if rem != 0 {
		log.Warnf("backend: %s: torn tail of %d bytes, ignoring", b.Path, rem)
	}
	return dataLen / RecordSize, nil
}

func (b *File) readRecordAt(idx int64) ([]byte, error) {
	buf := make([]byte, RecordSize)
	if _, err := b.f.ReadAt(buf, b.dataOffset+idx*RecordSize); err != nil {
		return nil, aurerr.New(aurerr.KindIoFailure, "backend.readRecordAt", err)
	}
	return buf, nil
}

// UpdateLongs and UpdateDoubles both funnel through updateSamples; the
// insertion algorithm does not distinguish payload kind.
func (b *File) UpdateLongs(vs []sample.Sample) error  { return b.updateSamples(vs) }
func (b *File) UpdateDoubles(vs []sample.Sample) error { return b.updateSamples(vs) }
func (b *File) UpdateLong(v sample.Sample) error       { return b.updateSamples([]sample.Sample{v}) }
func (b *File) UpdateDouble(v sample.Sample) error     { return b.updateSamples([]sample.Sample{v}) }

func (b *File) updateSamples(vs []sample.Sample) error {
	if !b.initialized {
		return aurerr.New(aurerr.KindNotInitialized, "backend.updateSamples", nil)
	}
	if err := b.lock.Lock(); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "backend.updateSamples", err)
	}
	defer b.lock.Unlock()

	sorted := append([]sample.Sample(nil), vs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sample.Less(sorted[i], sorted[j]) })

	n, err := b.alignedRecordCount()
	if err != nil {
		return err
	}

	for _, s := range sorted {
		if s.Time < b.Meta.StartTime {
			continue // out of the shard's span, silently dropped
		}
		if s.Time >= b.Meta.EndTime {
			break
		}
		var werr error
		n, werr = b.insertOne(n, s)
		if werr != nil {
			return werr
		}
	}

	b.isEmpty = n == 0
	if n > 0 {
		buf, err := b.readRecordAt(0)
		if err == nil {
			t := int64(beUint64(buf[0:8]))
			b.firstValueTime = &t
		}
	}
	return b.f.Sync()
}

// insertOne performs one backward scan + overwrite-or-shift insertion,
// returning the new record count.
func (b *File) insertOne(n int64, s sample.Sample) (int64, error) {
	pos := n
	for pos > 0 {
		prev, err := b.readRecordAt(pos - 1)
		if err != nil {
			return n, err
		}
		prevTime := int64(beUint64(prev[0:8]))
		if prevTime < s.Time {
			break
		}
		pos--
	}

	if pos < n {
		existing, err := b.readRecordAt(pos)
		if err != nil {
			return n, err
		}
		if int64(beUint64(existing[0:8])) == s.Time {
			rec := encodeRecord(s)
			if _, err := b.f.WriteAt(rec, b.dataOffset+pos*RecordSize); err != nil {
				return n, aurerr.New(aurerr.KindIoFailure, "backend.insertOne", err)
			}
			return n, nil
		}
	}

	if pos == n {
		rec := encodeRecord(s)
		if _, err := b.f.WriteAt(rec, b.dataOffset+pos*RecordSize); err != nil {
			return n, aurerr.New(aurerr.KindIoFailure, "backend.insertOne", err)
		}
		return n + 1, nil
	}

	if err := b.shiftTailForward(pos, n); err != nil {
		return n, err
	}
	rec := encodeRecord(s)
	if _, err := b.f.WriteAt(rec, b.dataOffset+pos*RecordSize); err != nil {
		return n, aurerr.New(aurerr.KindIoFailure, "backend.insertOne", err)
	}
	return n + 1, nil
}

// shiftTailForward moves records [from, n) forward by one RecordSize,
// copying back-to-front in MaxCopyBufferFillSize chunks so the move never
// reads bytes it has already overwritten.
func (b *File) shiftTailForward(from, n int64) error {
	chunkRecords := int64(MaxCopyBufferFillSize / RecordSize)
	if chunkRecords < 1 {
		chunkRecords = 1
	}
	buf := make([]byte, chunkRecords*RecordSize)

	end := n
	for end > from {
		start := end - chunkRecords
		if start < from {
			start = from
		}
		count := end - start
		chunk := buf[:count*RecordSize]
		if _, err := b.f.ReadAt(chunk, b.dataOffset+start*RecordSize); err != nil {
			return aurerr.New(aurerr.KindIoFailure, "backend.shiftTailForward", err)
		}
		if _, err := b.f.WriteAt(chunk, b.dataOffset+(start+1)*RecordSize); err != nil {
			return aurerr.New(aurerr.KindIoFailure, "backend.shiftTailForward", err)
		}
		end = start
	}
	return nil
}

// GetValues implements the binary-search read algorithm,
// returning samples with time in [start,end) plus the last sample with
// time strictly before start, when one exists.
func (b *File) GetValues(start, end int64) ([]sample.Sample, error) {
	if !b.initialized {
		return nil, aurerr.New(aurerr.KindNotInitialized, "backend.GetValues", nil)
	}
	if err := b.lock.RLock(); err != nil {
		return nil, aurerr.New(aurerr.KindIoFailure, "backend.GetValues", err)
	}
	defer b.lock.RUnlock()

	n, err := b.alignedRecordCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	if b.Meta.EndTime < start {
		buf, err := b.readRecordAt(n - 1)
		if err != nil {
			return nil, err
		}
		s, verr := b.decodeVerified(buf)
		if verr != nil {
			return nil, verr
		}
		return []sample.Sample{s}, nil
	}

	lo, hi := int64(0), n
	idx := int64(0)
	for lo < hi {
		mid := (lo + hi) / 2
		buf, err := b.readRecordAt(mid)
		if err != nil {
			return nil, err
		}
		midTime := int64(beUint64(buf[0:8]))
		switch {
		case midTime < start:
			lo = mid + 1
		case midTime > start:
			hi = mid - 1
		default:
			lo, hi = mid, mid
		}
		idx = mid
	}
	if lo >= hi {
		idx = lo
	}
	if idx >= n {
		idx = n - 1
	}

	buf, err := b.readRecordAt(idx)
	if err != nil {
		return nil, err
	}
	if int64(beUint64(buf[0:8])) > start && idx > 0 {
		idx--
	}

	var out []sample.Sample
	for ; idx < n; idx++ {
		buf, err := b.readRecordAt(idx)
		if err != nil {
			return nil, err
		}
		s, verr := b.decodeVerified(buf)
		if verr != nil {
			return nil, verr
		}
		if s.Time >= end {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *File) decodeVerified(buf []byte) (sample.Sample, error) {
	if !recordValid(buf) {
		return sample.Sample{}, aurerr.New(aurerr.KindCorruptRecord, "backend.decodeVerified", fmt.Errorf("LRC mismatch in %s", b.Path))
	}
	return decodeRecord(buf, b.Meta.DataType.Kind()), nil
}

// IsEmpty reports whether the shard currently holds zero records.
func (b *File) IsEmpty() bool { return b.isEmpty }

// FirstValueTime returns the time of the earliest record, if any.
func (b *File) FirstValueTime() (int64, bool) {
	if b.firstValueTime == nil {
		return 0, false
	}
	return *b.firstValueTime, true
}
