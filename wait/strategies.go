package wait

import (
	"math"
	"math/rand"
	"time"
)

const (
	// ReconnectInitial is the first delay after a failed connection attempt.
	ReconnectInitial = 10 * time.Second
	// ReconnectMax caps the delay between connection attempts.
	ReconnectMax = 600 * time.Second
)

// FixedStrategy waits for a fixed duration between attempts
type FixedStrategy struct {
	duration time.Duration
}

// NewFixedStrategy creates a new fixed wait strategy
func NewFixedStrategy(duration time.Duration) *FixedStrategy {
	return &FixedStrategy{duration: duration}
}

// Next returns the next wait duration
func (s *FixedStrategy) Next() (time.Duration, bool) {
	return s.duration, true
}

// Reset resets the strategy
func (s *FixedStrategy) Reset() {}

// ExponentialBackoffStrategy implements exponential backoff with optional jitter
type ExponentialBackoffStrategy struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	jitter     bool
	attempt    int
}

// NewExponentialBackoffStrategy creates a new exponential backoff strategy
func NewExponentialBackoffStrategy(initial time.Duration, multiplier float64, max time.Duration, jitter bool) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		initial:    initial,
		multiplier: multiplier,
		max:        max,
		jitter:     jitter,
	}
}

// NewReconnectStrategy returns the backoff used between IRC connection
// attempts: 10s, 20s, 40s and so on, never more than 600s, without jitter.
func NewReconnectStrategy() *ExponentialBackoffStrategy {
	return NewExponentialBackoffStrategy(ReconnectInitial, 2.0, ReconnectMax, false)
}

// Next returns the next wait duration. The Nth call returns
// min(initial * multiplier^(N-1), max).
func (s *ExponentialBackoffStrategy) Next() (time.Duration, bool) {
	scaled := float64(s.initial) * math.Pow(s.multiplier, float64(s.attempt))

	var duration time.Duration
	switch {
	case s.max > 0 && scaled >= float64(s.max):
		duration = s.max
	case scaled >= math.MaxInt64:
		duration = time.Duration(math.MaxInt64)
	default:
		duration = time.Duration(scaled)
		s.attempt++
	}

	if s.jitter {
		// ±25% of duration
		jitterRange := float64(duration) * 0.25
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		duration = time.Duration(float64(duration) + jitter)
		if duration < 0 {
			duration = 0
		}
	}

	return duration, true
}

// Reset resets the strategy
func (s *ExponentialBackoffStrategy) Reset() {
	s.attempt = 0
}
