// Package naming implements the back-end factory: mapping stream
// metadata to on-disk shard paths, and discovering existing shards.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aurora-historian/engine/internal/aurerr"
	"github.com/aurora-historian/engine/internal/backend"
	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/pkg/sample"
	"golang.org/x/sync/errgroup"
)

// Factory maps StorageChannelMetaData to shard files under Root.
type Factory struct {
	Root string
}

func New(root string) *Factory { return &Factory{Root: root} }

// encodeConfigID percent-encodes a configuration id for filesystem safety,
// replacing spaces with underscores first.
func encodeConfigID(id string) string {
	id = strings.ReplaceAll(id, " ", "_")
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func decodeConfigID(enc string) string {
	id, err := unescapePercent(enc)
	if err != nil {
		return enc
	}
	return strings.ReplaceAll(id, "_", " ")
}

func unescapePercent(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(v))
			i += 2
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// formatTimestamp renders ms as YYYYMMDD.HHMMSS.mmm.dstOffset in UTC, the
// filename timestamp schema.
func formatTimestamp(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	_, offset := t.Zone() // UTC always yields 0; dstOffset is carried for schema fidelity
	return fmt.Sprintf("%04d%02d%02d.%02d%02d%02d.%03d.%d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6, offset)
}

func parseTimestamp(s string) (int64, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	layout := "20060102.150405.000"
	t, err := time.Parse(layout, strings.Join(parts[:3], "."))
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

var filenamePattern = regexp.MustCompile(`^(.*)_(-?\d+)_([A-Z]{3})_([0-9.]+)_([0-9.]+)\.va$`)

// dirFor returns the per-configuration shard directory.
func (f *Factory) dirFor(configID string) string {
	return filepath.Join(f.Root, encodeConfigID(configID))
}

// path renders the full shard filename for meta.
func (f *Factory) path(meta sample.Metadata) string {
	name := fmt.Sprintf("%s_%d_%s_%s_%s.va",
		encodeConfigID(meta.ConfigurationID),
		meta.DetailLevelID,
		meta.CalculationMethod.ShortCode(),
		formatTimestamp(meta.StartTime),
		formatTimestamp(meta.EndTime),
	)
	return filepath.Join(f.dirFor(meta.ConfigurationID), name)
}

// CreateNewBackEnd constructs the path for meta and returns an
// uninitialized handle; it does not write to disk (the caller calls
// Create on the result).
func (f *Factory) CreateNewBackEnd(meta sample.Metadata) *backend.File {
	return backend.New(f.path(meta), meta)
}

// candidate is a filename that matched the shard naming pattern, with the
// span already recovered from the filename itself — available even when
// the file's own header turns out to be unreadable.
type candidate struct {
	path  string
	start int64
	end   int64
}

// GetExistingBackEnds scans the configuration's directory for shards
// matching detailLevelID and method, opening and verifying each
// concurrently (discovery order does not affect the sorted result), then
// returns them sorted by endTime descending, then startTime descending.
//
// A candidate whose header fails to open (trashed CRC, bad version,
// truncated below the header) is not simply dropped: the span it would
// have covered is known from its filename, so it is returned as an
// uninitialized placeholder carrying that span. Any later call against it
// fails with KindNotInitialized, which the manager and multiplexer treat
// like any other shard-read failure — marking it corrupt and synthesizing
// a sentinel — rather than letting the gap vanish silently from the
// stream.
func (f *Factory) GetExistingBackEnds(configID string, detailLevelID int64, method sample.CalculationMethod) ([]*backend.File, error) {
	dir := f.dirFor(configID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, aurerr.New(aurerr.KindIoFailure, "naming.GetExistingBackEnds", err)
	}

	candidates := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".va") {
			continue
		}
		m := filenamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		lvl, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || lvl != detailLevelID || m[3] != method.ShortCode() {
			continue
		}
		start, serr := parseTimestamp(m[4])
		end, eerr := parseTimestamp(m[5])
		if serr != nil || eerr != nil {
			log.Warnf("naming: %s has an unparsable timestamp, ignoring", e.Name())
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, e.Name()), start: start, end: end})
	}

	results := make([]*backend.File, len(candidates))
	var g errgroup.Group
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			bf := backend.New(c.path, sample.Metadata{})
			if err := bf.Initialize(); err != nil {
				log.Warnf("naming: %s failed to open, surfacing as an unreadable placeholder: %v", c.path, err)
				results[i] = backend.New(c.path, sample.Metadata{
					ConfigurationID: configID,
					CalculationMethod: method,
					DetailLevelID:   detailLevelID,
					StartTime:       c.start,
					EndTime:         c.end,
				})
				return nil
			}
			if bf.Meta.ConfigurationID != configID || bf.Meta.DetailLevelID != detailLevelID || bf.Meta.CalculationMethod != method {
				log.Warnf("naming: %s header disagrees with filename, ignoring", c.path)
				_ = bf.Deinitialize()
				return nil
			}
			results[i] = bf
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*backend.File, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
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

// GetExistingBackEndsMetaData returns the metadata of every shard under
// Root; when merge is true, entries sharing (configId, detailLevel,
// method) are collapsed into one widened [start,end] span using the
// remaining fields from the entry with the latest endTime.
func (f *Factory) GetExistingBackEndsMetaData(merge bool) ([]sample.Metadata, error) {
	var all []sample.Metadata
	configDirs, err := os.ReadDir(f.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, aurerr.New(aurerr.KindIoFailure, "naming.GetExistingBackEndsMetaData", err)
	}
	for _, cd := range configDirs {
		if !cd.IsDir() {
			continue
		}
		configID := decodeConfigID(cd.Name())
		entries, err := os.ReadDir(filepath.Join(f.Root, cd.Name()))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".va") {
				continue
			}
			bf := backend.New(filepath.Join(f.Root, cd.Name(), e.Name()), sample.Metadata{})
			if err := bf.Initialize(); err != nil {
				log.Warnf("naming: ignoring %s: %v", e.Name(), err)
				continue
			}
			_ = configID
			all = append(all, bf.Meta)
			_ = bf.Deinitialize()
		}
	}
	if !merge {
		return all, nil
	}

	type key struct {
		config string
		level  int64
		method sample.CalculationMethod
	}
	groups := map[key]sample.Metadata{}
	for _, m := range all {
		k := key{m.ConfigurationID, m.DetailLevelID, m.CalculationMethod}
		if existing, ok := groups[k]; ok {
			if m.StartTime < existing.StartTime {
				existing.StartTime = m.StartTime
			}
			if m.EndTime > existing.EndTime {
				existing.EndTime = m.EndTime
				existing.ProposedDataAge = m.ProposedDataAge
				existing.AcceptedTimeDelta = m.AcceptedTimeDelta
				existing.DataType = m.DataType
				existing.CalculationMethodParameters = m.CalculationMethodParameters
			}
			groups[k] = existing
		} else {
			groups[k] = m
		}
	}
	merged := make([]sample.Metadata, 0, len(groups))
	for _, m := range groups {
		merged = append(merged, m)
	}
	return merged, nil
}

// DeleteBackEnds removes every shard file for configID, then its directory.
func (f *Factory) DeleteBackEnds(configID string) error {
	dir := f.dirFor(configID)
	if err := os.RemoveAll(dir); err != nil {
		return aurerr.New(aurerr.KindIoFailure, "naming.DeleteBackEnds", err)
	}
	return nil
}

// ParseFilenameTimestamp exposes parseTimestamp for callers outside this
// package that need to recover a shard's span from its filename alone.
func ParseFilenameTimestamp(s string) (int64, error) { return parseTimestamp(s) }
