// Package health implements a non-authoritative freshness probe: a
// stream is healthy if its newest sample is recent enough given its
// expected update frequency.
package health

import "time"

// Status reports whether a stream's newest data is fresh enough.
type Status struct {
	Healthy       bool
	NewestTime    int64
	ExpectedFreq  int64
	MissingPoints int64
}

// Check reports whether newestTime is within maxMissingDataPoints *
// expectedFrequency of now. A stream with no data at all is unhealthy.
func Check(newestTime int64, hasData bool, expectedFrequencyMs int64, maxMissingDataPoints int64, now time.Time) Status {
	if !hasData || expectedFrequencyMs <= 0 {
		return Status{Healthy: false, ExpectedFreq: expectedFrequencyMs}
	}
	age := now.UnixMilli() - newestTime
	missing := age / expectedFrequencyMs
	return Status{
		Healthy:       missing <= maxMissingDataPoints,
		NewestTime:    newestTime,
		ExpectedFreq:  expectedFrequencyMs,
		MissingPoints: missing,
	}
}
