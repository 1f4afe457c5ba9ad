package pipeline

import (
	"bufio"
	"fmt"
	"os"

	"github.com/linkedin/goavro/v2"

	"github.com/aurora-historian/engine/internal/aurerr"
	"github.com/aurora-historian/engine/pkg/sample"
)

// checkpointSchema is fixed: a pipeline level's in-flight state is always
// the same shape (window bounds plus a buffer of samples), so it needs no
// per-metric schema generation.
const checkpointSchema = `{
  "type": "record",
  "name": "LevelCheckpoint",
  "fields": [
    {"name": "windowStart", "type": "long"},
    {"name": "lastEmittedTime", "type": "long"},
    {"name": "haveEmitted", "type": "boolean"},
    {"name": "buffer", "type": {"type": "array", "items": {
      "type": "record",
      "name": "BufferedSample",
      "fields": [
        {"name": "time", "type": "long"},
        {"name": "quality", "type": "double"},
        {"name": "manual", "type": "double"},
        {"name": "baseValueCount", "type": "long"},
        {"name": "kind", "type": "int"},
        {"name": "long", "type": "long"},
        {"name": "double", "type": "double"}
      ]
    }}}
  ]
}`

// WriteCheckpoint persists a level's in-flight buffer to an Avro
// container file at path, using deflate compression.
func (l *Level) WriteCheckpoint(path string) error {
	cp := l.Snapshot()

	codec, err := goavro.NewCodec(checkpointSchema)
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "pipeline.WriteCheckpoint", err)
	}

	buf := make([]map[string]any, 0, len(cp.Buffer))
	for _, s := range cp.Buffer {
		buf = append(buf, map[string]any{
			"time":           s.Time,
			"quality":        s.Quality,
			"manual":         s.Manual,
			"baseValueCount": int64(s.BaseValueCount),
			"kind":           int32(s.Kind),
			"long":           s.Long,
			"double":         s.Double,
		})
	}
	record := map[string]any{
		"windowStart":     cp.WindowStart,
		"lastEmittedTime": cp.LastEmittedTime,
		"haveEmitted":     cp.HaveEmitted,
		"buffer":          buf,
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "pipeline.WriteCheckpoint", err)
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "pipeline.WriteCheckpoint", err)
	}
	if err := writer.Append([]any{record}); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "pipeline.WriteCheckpoint", err)
	}
	return nil
}

// ReadCheckpoint restores a level's in-flight buffer from a file written
// by WriteCheckpoint. A missing file is not an error: a fresh stream has
// no prior checkpoint.
func (l *Level) ReadCheckpoint(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return aurerr.New(aurerr.KindIoFailure, "pipeline.ReadCheckpoint", err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(bufio.NewReader(f))
	if err != nil {
		return aurerr.New(aurerr.KindIoFailure, "pipeline.ReadCheckpoint", err)
	}

	for reader.Scan() {
		rec, err := reader.Read()
		if err != nil {
			return aurerr.New(aurerr.KindIoFailure, "pipeline.ReadCheckpoint", err)
		}
		m, ok := rec.(map[string]any)
		if !ok {
			return aurerr.New(aurerr.KindCorruptRecord, "pipeline.ReadCheckpoint", fmt.Errorf("unexpected record shape"))
		}

		cp := Checkpoint{
			WindowStart:     m["windowStart"].(int64),
			LastEmittedTime: m["lastEmittedTime"].(int64),
			HaveEmitted:     m["haveEmitted"].(bool),
		}
		for _, item := range m["buffer"].([]any) {
			bm := item.(map[string]any)
			cp.Buffer = append(cp.Buffer, sample.Sample{
				Time:           bm["time"].(int64),
				Quality:        bm["quality"].(float64),
				Manual:         bm["manual"].(float64),
				BaseValueCount: uint64(bm["baseValueCount"].(int64)),
				Kind:           sample.Kind(bm["kind"].(int32)),
				Long:           bm["long"].(int64),
				Double:         bm["double"].(float64),
			})
		}
		l.Restore(cp)
	}
	return nil
}
