// Package calc implements the calculation providers: pure reductions of a
// window of input samples into one aggregated output sample. NATIVE passes
// through; AVERAGE/MINIMUM/MAXIMUM apply a flat dispatch table in place of
// a deep provider class hierarchy.
package calc

import (
	"math"

	"github.com/aurora-historian/engine/pkg/sample"
)

// Provider is the calculation-logic capability a detail level applies to
// its input window.
type Provider interface {
	PassThrough() bool
	RequiredTimespanMs() int64
	GenerateValue(window []sample.Sample, windowStart, windowEnd int64, outputKind sample.Kind) sample.Sample
}

// ForMethod returns the provider for a calculation method, given the
// detail level's required timespan (drawn from CalculationMethodParameters
// by convention: parameter 0).
func ForMethod(method sample.CalculationMethod, requiredTimespanMs int64) Provider {
	switch method {
	case sample.MethodAverage:
		return averageProvider{span: requiredTimespanMs}
	case sample.MethodMinimum:
		return minMaxProvider{span: requiredTimespanMs, wantMax: false}
	case sample.MethodMaximum:
		return minMaxProvider{span: requiredTimespanMs, wantMax: true}
	default:
		return nativeProvider{}
	}
}

type nativeProvider struct{}

func (nativeProvider) PassThrough() bool       { return true }
func (nativeProvider) RequiredTimespanMs() int64 { return 0 }

// GenerateValue implements the identity law: a single input sample is
// returned unchanged (converted to outputKind if needed).
func (nativeProvider) GenerateValue(window []sample.Sample, _, _ int64, outputKind sample.Kind) sample.Sample {
	if len(window) == 0 {
		return sample.Sentinel(0, outputKind)
	}
	return window[0].ConvertTo(outputKind)
}

// validSamples filters out samples with Quality <= 0.
func validSamples(window []sample.Sample) []sample.Sample {
	out := make([]sample.Sample, 0, len(window))
	for _, s := range window {
		if s.Quality > 0 {
			out = append(out, s)
		}
	}
	return out
}

func zeroQuality(t int64, outputKind sample.Kind) sample.Sample {
	s := sample.Sample{Time: t, Quality: 0, Manual: 0, BaseValueCount: 0, Kind: outputKind}
	if outputKind == sample.KindDouble {
		s.Double = math.NaN()
	}
	return s
}

func sumBaseValueCount(window []sample.Sample) uint64 {
	var n uint64
	for _, s := range window {
		n += s.BaseValueCount
	}
	return n
}

type averageProvider struct{ span int64 }

func (averageProvider) PassThrough() bool         { return false }
func (p averageProvider) RequiredTimespanMs() int64 { return p.span }

// GenerateValue computes a time-weighted mean over [windowStart,windowEnd):
// each sample's value is weighted by the duration until the next sample
// (or the window end for the last one). Quality is the duration-weighted
// mean of input qualities; baseValueCount sums inputs.
func (p averageProvider) GenerateValue(window []sample.Sample, windowStart, windowEnd int64, outputKind sample.Kind) sample.Sample {
	valid := validSamples(window)
	if len(valid) == 0 {
		return zeroQuality(windowStart, outputKind)
	}

	var weightedValue, weightedQuality float64
	var totalWeight float64
	var weightedManual float64

	for i, s := range valid {
		segStart := s.Time
		if segStart < windowStart {
			segStart = windowStart
		}
		segEnd := windowEnd
		if i+1 < len(valid) {
			segEnd = valid[i+1].Time
		}
		if segEnd <= segStart {
			continue
		}
		weight := float64(segEnd - segStart)
		weightedValue += s.AsDouble() * weight
		weightedQuality += s.Quality * weight
		weightedManual += s.Manual * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return zeroQuality(windowStart, outputKind)
	}

	out := sample.NewDouble(windowStart, weightedQuality/totalWeight, weightedManual/totalWeight, sumBaseValueCount(window), weightedValue/totalWeight)
	return out.ConvertTo(outputKind)
}

type minMaxProvider struct {
	span    int64
	wantMax bool
}

func (minMaxProvider) PassThrough() bool           { return false }
func (p minMaxProvider) RequiredTimespanMs() int64 { return p.span }

// GenerateValue picks the extremum among quality>0 samples; quality is the
// fraction of the window's duration actually covered by valid samples
//.
func (p minMaxProvider) GenerateValue(window []sample.Sample, windowStart, windowEnd int64, outputKind sample.Kind) sample.Sample {
	valid := validSamples(window)
	if len(valid) == 0 {
		return zeroQuality(windowStart, outputKind)
	}

	best := valid[0]
	for _, s := range valid[1:] {
		if p.wantMax {
			if s.AsDouble() > best.AsDouble() {
				best = s
			}
		} else if s.AsDouble() < best.AsDouble() {
			best = s
		}
	}

	covered := coveredDuration(valid, windowStart, windowEnd)
	span := windowEnd - windowStart
	quality := 1.0
	if span > 0 {
		quality = covered / float64(span)
	}

	out := sample.Sample{
		Time:           windowStart,
		Quality:        quality,
		Manual:         best.Manual,
		BaseValueCount: sumBaseValueCount(window),
		Kind:           sample.KindDouble,
		Double:         best.AsDouble(),
	}
	return out.ConvertTo(outputKind)
}

func coveredDuration(valid []sample.Sample, windowStart, windowEnd int64) float64 {
	var covered float64
	for i, s := range valid {
		segStart := s.Time
		if segStart < windowStart {
			segStart = windowStart
		}
		segEnd := windowEnd
		if i+1 < len(valid) {
			segEnd = valid[i+1].Time
		}
		if segEnd > segStart {
			covered += float64(segEnd - segStart)
		}
	}
	return covered
}
