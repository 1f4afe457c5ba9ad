// Package sample defines the tagged value type samples flow through the
// storage engine as, plus the per-stream metadata describing where a
// sample belongs.
package sample

import "math"

// Kind tags which flavor of payload a Sample carries.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLong
	KindDouble
)

// Sample is a single historized data point. Exactly one of the payload
// fields is meaningful, selected by Kind — this replaces the parallel
// LongValue/DoubleValue hierarchy with one flat struct.
type Sample struct {
	Time           int64
	Quality        float64
	Manual         float64
	BaseValueCount uint64
	Kind           Kind
	Long           int64
	Double         float64
}

// NewLong builds a long-flavored sample.
func NewLong(t int64, quality, manual float64, baseValueCount uint64, value int64) Sample {
	return Sample{Time: t, Quality: quality, Manual: manual, BaseValueCount: baseValueCount, Kind: KindLong, Long: value}
}

// NewDouble builds a double-flavored sample.
func NewDouble(t int64, quality, manual float64, baseValueCount uint64, value float64) Sample {
	return Sample{Time: t, Quality: quality, Manual: manual, BaseValueCount: baseValueCount, Kind: KindDouble, Double: value}
}

// Sentinel returns the zero-quality gap marker the multiplexer inserts
// in place of a shard it could not read.
func Sentinel(t int64, kind Kind) Sample {
	s := Sample{Time: t, Quality: 0, Manual: 0, BaseValueCount: 0, Kind: kind}
	if kind == KindDouble {
		s.Double = math.NaN()
	}
	return s
}

// Equal compares every field; NaN doubles compare equal to each other
// rather than by IEEE 754 comparison, since NaN marks a sentinel value
// here, not an undefined result.
func (s Sample) Equal(o Sample) bool {
	if s.Time != o.Time || s.Quality != o.Quality || s.Manual != o.Manual ||
		s.BaseValueCount != o.BaseValueCount || s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case KindLong:
		return s.Long == o.Long
	case KindDouble:
		if math.IsNaN(s.Double) && math.IsNaN(o.Double) {
			return true
		}
		return s.Double == o.Double
	default:
		return true
	}
}

// Less orders samples ascending by Time, the only ordering the format requires.
func Less(a, b Sample) bool { return a.Time < b.Time }

// AsDouble widens a long payload to double, or returns the payload unchanged
// if it already is one.
func (s Sample) AsDouble() float64 {
	if s.Kind == KindLong {
		return float64(s.Long)
	}
	return s.Double
}

// AsLong narrows a double payload to long, rounding half-away-from-zero, or
// returns the payload unchanged if it already is one.
func (s Sample) AsLong() int64 {
	if s.Kind == KindDouble {
		if s.Double >= 0 {
			return int64(math.Floor(s.Double + 0.5))
		}
		return int64(math.Ceil(s.Double - 0.5))
	}
	return s.Long
}

// ConvertTo returns a copy of s with its payload converted to kind.
func (s Sample) ConvertTo(kind Kind) Sample {
	if s.Kind == kind || kind == KindUnknown {
		return s
	}
	out := s
	out.Kind = kind
	if kind == KindDouble {
		out.Double = s.AsDouble()
		out.Long = 0
	} else {
		out.Long = s.AsLong()
		out.Double = 0
	}
	return out
}
