package backend

import (
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/aurora-historian/engine/pkg/sample"
)

// FileMarker identifies a shard file; it is the first 8 bytes of every
// header.
const FileMarker uint64 = 0x0a2d04b20b580ca9

// FileVersion is the only on-disk schema version this engine writes or
// accepts; older (manualIndicator-less, DST-offset-less) revisions are
// rejected outright rather than guessed at.
const FileVersion uint64 = 1

// RecordSize is the fixed on-disk size of one sample record.
const RecordSize = 41

// MaxCopyBufferFillSize bounds the chunk size used when shifting a shard's
// tail forward during insertion.
const MaxCopyBufferFillSize = 1 << 20 // 1 MiB

// header mirrors the fixed on-disk header fields, in file order.
type header struct {
	dataOffset           int64
	fileVersion          int64
	detailLevelID        int64
	startTime            int64
	endTime              int64
	proposedDataAge      int64
	acceptedTimeDelta    int64
	dataTypeID           int64
	calculationMethodID  int64
	paramCount           int32
	configIDByteLen      int32
	params               []int64
	configurationID      string
}

// encodeHeader renders h to its on-disk byte form, including the trailing
// CRC32 over bytes [8, dataOffset-4).
func encodeHeader(h header) []byte {
	buf := make([]byte, h.dataOffset)
	binary.BigEndian.PutUint64(buf[0:8], FileMarker)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.dataOffset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.fileVersion))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.detailLevelID))
	binary.BigEndian.PutUint64(buf[32:40], uint64(h.startTime))
	binary.BigEndian.PutUint64(buf[40:48], uint64(h.endTime))
	binary.BigEndian.PutUint64(buf[48:56], uint64(h.proposedDataAge))
	binary.BigEndian.PutUint64(buf[56:64], uint64(h.acceptedTimeDelta))
	binary.BigEndian.PutUint64(buf[64:72], uint64(h.dataTypeID))
	binary.BigEndian.PutUint64(buf[72:80], uint64(h.calculationMethodID))
	binary.BigEndian.PutUint32(buf[80:84], uint32(h.paramCount))
	binary.BigEndian.PutUint32(buf[84:88], uint32(h.configIDByteLen))

	off := 88
	for _, p := range h.params {
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(p))
		off += 8
	}
	copy(buf[off:off+int(h.configIDByteLen)], h.configurationID)
	off += int(h.configIDByteLen)

	crc := crc32.ChecksumIEEE(buf[8:off])
	binary.BigEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// decodeHeader parses buf (which must be at least 88 bytes, the fixed
// prefix) into a header, without yet validating the CRC or dataOffset —
// callers do that once they know how many bytes to re-read.
func decodeHeader(buf []byte) header {
	var h header
	h.dataOffset = int64(binary.BigEndian.Uint64(buf[8:16]))
	h.fileVersion = int64(binary.BigEndian.Uint64(buf[16:24]))
	h.detailLevelID = int64(binary.BigEndian.Uint64(buf[24:32]))
	h.startTime = int64(binary.BigEndian.Uint64(buf[32:40]))
	h.endTime = int64(binary.BigEndian.Uint64(buf[40:48]))
	h.proposedDataAge = int64(binary.BigEndian.Uint64(buf[48:56]))
	h.acceptedTimeDelta = int64(binary.BigEndian.Uint64(buf[56:64]))
	h.dataTypeID = int64(binary.BigEndian.Uint64(buf[64:72]))
	h.calculationMethodID = int64(binary.BigEndian.Uint64(buf[72:80]))
	h.paramCount = int32(binary.BigEndian.Uint32(buf[80:84]))
	h.configIDByteLen = int32(binary.BigEndian.Uint32(buf[84:88]))
	return h
}

func headerDataOffset(paramCount, configIDByteLen int32) int64 {
	return (11+int64(paramCount))*8 + int64(configIDByteLen) + 4
}

// encodeRecord renders one sample to its RecordSize-byte on-disk form.
func encodeRecord(s sample.Sample) []byte {
	buf := make([]byte, RecordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.Time))
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(s.Quality))
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(s.Manual))
	binary.BigEndian.PutUint64(buf[24:32], s.BaseValueCount)
	if s.Kind == sample.KindDouble {
		binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(s.Double))
	} else {
		binary.BigEndian.PutUint64(buf[32:40], uint64(s.Long))
	}
	buf[40] = lrc(buf[:40])
	return buf
}

// decodeRecord parses a RecordSize-byte buffer into a Sample of the given
// kind, without checking the LRC — callers verify that separately so a
// mismatch can be reported with context (which record, which shard).
func decodeRecord(buf []byte, kind sample.Kind) sample.Sample {
	s := sample.Sample{
		Time:           int64(binary.BigEndian.Uint64(buf[0:8])),
		Quality:        math.Float64frombits(binary.BigEndian.Uint64(buf[8:16])),
		Manual:         math.Float64frombits(binary.BigEndian.Uint64(buf[16:24])),
		BaseValueCount: binary.BigEndian.Uint64(buf[24:32]),
		Kind:           kind,
	}
	raw := binary.BigEndian.Uint64(buf[32:40])
	if kind == sample.KindDouble {
		s.Double = math.Float64frombits(raw)
	} else {
		s.Long = int64(raw)
	}
	return s
}

func recordValid(buf []byte) bool { return buf[40] == lrc(buf[:40]) }

// lrc is the single-byte XOR checksum seeded with 0x5a.
func lrc(data []byte) byte {
	c := byte(0x5a)
	for _, b := range data {
		c ^= b
	}
	return c
}

func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func crc32IEEE(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

// trimNulls strips trailing NUL bytes a torn or padded configId field may
// carry.
func trimNulls(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
