package calc

import (
	"math"
	"testing"

	"github.com/aurora-historian/engine/pkg/sample"
)

func TestNativeIsIdentity(t *testing.T) {
	p := ForMethod(sample.MethodNative, 0)
	if !p.PassThrough() {
		t.Fatalf("native provider must report PassThrough")
	}
	in := sample.NewLong(100, 1, 0, 1, 42)
	out := p.GenerateValue([]sample.Sample{in}, 0, 0, sample.KindLong)
	if !out.Equal(in) {
		t.Fatalf("native GenerateValue altered the sample: in=%+v out=%+v", in, out)
	}
}

func TestNativeEmptyWindowYieldsSentinel(t *testing.T) {
	p := ForMethod(sample.MethodNative, 0)
	out := p.GenerateValue(nil, 0, 0, sample.KindDouble)
	if out.Quality != 0 || !math.IsNaN(out.Double) {
		t.Fatalf("empty native window should yield a zero-quality sentinel, got %+v", out)
	}
}

func TestMaxProviderPicksLargest(t *testing.T) {
	p := ForMethod(sample.MethodMaximum, 1000)
	window := []sample.Sample{
		sample.NewDouble(0, 1, 0, 1, 3),
		sample.NewDouble(300, 1, 0, 1, 9),
		sample.NewDouble(600, 1, 0, 1, 1),
	}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.Double != 9 {
		t.Fatalf("max provider picked %v, want 9", out.Double)
	}
}

func TestMinProviderPicksSmallest(t *testing.T) {
	p := ForMethod(sample.MethodMinimum, 1000)
	window := []sample.Sample{
		sample.NewDouble(0, 1, 0, 1, 3),
		sample.NewDouble(300, 1, 0, 1, 9),
		sample.NewDouble(600, 1, 0, 1, 1),
	}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.Double != 1 {
		t.Fatalf("min provider picked %v, want 1", out.Double)
	}
}

func TestMinMaxIgnoreZeroQuality(t *testing.T) {
	p := ForMethod(sample.MethodMaximum, 1000)
	window := []sample.Sample{
		sample.NewDouble(0, 1, 0, 1, 3),
		{Time: 300, Quality: 0, Kind: sample.KindDouble, Double: 99},
	}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.Double != 3 {
		t.Fatalf("zero-quality sample should be excluded, got max=%v", out.Double)
	}
}

func TestMinMaxFullCoverageHasQualityOne(t *testing.T) {
	p := ForMethod(sample.MethodMaximum, 1000)
	window := []sample.Sample{sample.NewDouble(0, 1, 0, 1, 3)}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.Quality != 1 {
		t.Fatalf("a single sample spanning the whole window should report full coverage, got %v", out.Quality)
	}
}

func TestMinMaxPartialCoverageIsFractional(t *testing.T) {
	p := ForMethod(sample.MethodMaximum, 1000)
	window := []sample.Sample{sample.NewDouble(750, 1, 0, 1, 3)}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.Quality <= 0 || out.Quality >= 1 {
		t.Fatalf("a sample covering only part of the window should report fractional coverage, got %v", out.Quality)
	}
}

func TestAverageIsTimeWeighted(t *testing.T) {
	p := ForMethod(sample.MethodAverage, 1000)
	window := []sample.Sample{
		sample.NewDouble(0, 1, 0, 1, 0),   // holds for 900ms
		sample.NewDouble(900, 1, 0, 1, 10), // holds for 100ms
	}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	want := (0.0*900 + 10.0*100) / 1000
	if math.Abs(out.Double-want) > 1e-9 {
		t.Fatalf("time-weighted average = %v, want %v", out.Double, want)
	}
}

func TestAverageEmptyWindowYieldsSentinel(t *testing.T) {
	p := ForMethod(sample.MethodAverage, 1000)
	out := p.GenerateValue(nil, 0, 1000, sample.KindDouble)
	if out.Quality != 0 {
		t.Fatalf("empty average window should yield zero quality, got %v", out.Quality)
	}
}

func TestAverageSumsBaseValueCount(t *testing.T) {
	p := ForMethod(sample.MethodAverage, 1000)
	window := []sample.Sample{
		sample.NewDouble(0, 1, 0, 3, 1),
		sample.NewDouble(500, 1, 0, 4, 2),
	}
	out := p.GenerateValue(window, 0, 1000, sample.KindDouble)
	if out.BaseValueCount != 7 {
		t.Fatalf("BaseValueCount = %d, want 7", out.BaseValueCount)
	}
}
