// Package ratelimit tracks HubSpot API rate limit state and gates requests.
// It monitors the X-HubSpot-RateLimit-Remaining, -Interval-Milliseconds and
// -Daily-Remaining response headers so that concurrent writer processes
// sharing one token back off before the API starts rejecting calls.
package ratelimit

import (
	"time"
)

// Thresholds for rate limit decisions, in requests remaining within the
// current interval.
const (
	// ThresholdCritical blocks dispatch until the interval resets when
	// remaining requests fall below this value.
	ThresholdCritical = 5

	// ThresholdWarning applies throttling when remaining requests fall below
	// this value.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation; at or above it no
	// restrictions apply.
	ThresholdHealthy = 50
)

// State is the current HubSpot rate limit state. When a shared store backs
// the tracker, this state is visible to all writer processes using the same
// token.
type State struct {
	// Remaining is the number of requests left in the current interval,
	// from the X-HubSpot-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// DailyRemaining is the number of requests left in the daily window,
	// from the X-HubSpot-RateLimit-Daily-Remaining header.
	DailyRemaining int `json:"daily_remaining"`

	// ResetAt is when the current interval window resets, derived from the
	// X-HubSpot-RateLimit-Interval-Milliseconds header.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if dispatch should pause until the
// interval resets.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if dispatch should slow down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the interval resets, or 0 if the
// reset time has passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

// defaultState is assumed until the first response headers arrive.
func defaultState() *State {
	return &State{
		Remaining:      100,
		DailyRemaining: 250000,
		ResetAt:        time.Now().Add(10 * time.Second),
		LastUpdate:     time.Now(),
		IsHealthy:      true,
	}
}
