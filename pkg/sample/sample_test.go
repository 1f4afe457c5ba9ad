package sample

import (
	"math"
	"testing"
)

func TestEqualNaNDoubles(t *testing.T) {
	a := Sentinel(100, KindDouble)
	b := Sentinel(100, KindDouble)
	if !a.Equal(b) {
		t.Fatalf("two NaN sentinels should compare equal: %+v vs %+v", a, b)
	}
}

func TestEqualDistinguishesKind(t *testing.T) {
	a := NewLong(1, 1, 0, 1, 5)
	b := NewDouble(1, 1, 0, 1, 5)
	if a.Equal(b) {
		t.Fatalf("samples of different Kind must not compare equal")
	}
}

func TestLessOrdersByTime(t *testing.T) {
	a := NewLong(1, 1, 0, 1, 100)
	b := NewLong(2, 1, 0, 1, 1)
	if !Less(a, b) || Less(b, a) {
		t.Fatalf("Less should order strictly by Time, got Less(a,b)=%v Less(b,a)=%v", Less(a, b), Less(b, a))
	}
}

func TestAsLongRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{2.5, 3},
		{2.4, 2},
		{-2.5, -3},
		{-2.4, -2},
		{0.5, 1},
		{-0.5, -1},
	}
	for _, c := range cases {
		s := NewDouble(0, 1, 0, 1, c.in)
		if got := s.AsLong(); got != c.want {
			t.Errorf("AsLong(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAsDoubleWidensLong(t *testing.T) {
	s := NewLong(0, 1, 0, 1, 7)
	if got := s.AsDouble(); got != 7.0 {
		t.Fatalf("AsDouble() = %v, want 7.0", got)
	}
}

func TestConvertToRoundTrip(t *testing.T) {
	orig := NewLong(10, 1, 0, 1, 42)
	asDouble := orig.ConvertTo(KindDouble)
	if asDouble.Kind != KindDouble || asDouble.Double != 42.0 {
		t.Fatalf("ConvertTo(KindDouble) = %+v", asDouble)
	}
	back := asDouble.ConvertTo(KindLong)
	if back.Kind != KindLong || back.Long != 42 {
		t.Fatalf("round trip conversion = %+v, want Long=42", back)
	}
}

func TestConvertToUnknownIsNoop(t *testing.T) {
	orig := NewLong(10, 1, 0, 1, 42)
	if got := orig.ConvertTo(KindUnknown); !got.Equal(orig) {
		t.Fatalf("ConvertTo(KindUnknown) should be a no-op, got %+v", got)
	}
}

func TestSentinelDoubleIsNaN(t *testing.T) {
	s := Sentinel(5, KindDouble)
	if s.Quality != 0 {
		t.Fatalf("sentinel must have zero quality, got %v", s.Quality)
	}
	if !math.IsNaN(s.Double) {
		t.Fatalf("double sentinel payload should be NaN, got %v", s.Double)
	}
}
