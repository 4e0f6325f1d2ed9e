package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	hubspotRequestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hubspot_writer_requests_remaining",
		Help: "Requests remaining in the current HubSpot rate limit interval",
	})

	hubspotDailyRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hubspot_writer_daily_requests_remaining",
		Help: "Requests remaining in the HubSpot daily rate limit window",
	})

	hubspotRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_writer_rate_limit_blocks_total",
		Help: "Total number of dispatches paused until the rate limit interval reset",
	})

	hubspotRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hubspot_writer_rate_limit_throttles_total",
		Help: "Total number of dispatches throttled due to low remaining requests",
	})
)

// throttleDelay is the pause applied per request while in the warning band.
const throttleDelay = 1 * time.Second

// Tracker monitors HubSpot rate limit headers and gates dispatches.
type Tracker struct {
	store  Store
	logger zerolog.Logger
}

// NewTracker creates a rate limit tracker backed by the given store.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// GetState retrieves the current rate limit state, or a default healthy
// state when nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limit state: %w", err)
	}
	if state == nil {
		t.logger.Debug().Msg("No rate limit state recorded, assuming healthy")
		return defaultState(), nil
	}
	return state, nil
}

// UpdateFromHeaders parses HubSpot rate limit headers and updates the store.
// Responses without rate limit headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-HubSpot-RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-HubSpot-RateLimit-Remaining header: %w", err)
	}

	intervalMs := 10000
	if intervalStr := headers.Get("X-HubSpot-RateLimit-Interval-Milliseconds"); intervalStr != "" {
		intervalMs, err = strconv.Atoi(intervalStr)
		if err != nil {
			return fmt.Errorf("parse X-HubSpot-RateLimit-Interval-Milliseconds header: %w", err)
		}
	}

	daily := -1
	if dailyStr := headers.Get("X-HubSpot-RateLimit-Daily-Remaining"); dailyStr != "" {
		daily, err = strconv.Atoi(dailyStr)
		if err != nil {
			return fmt.Errorf("parse X-HubSpot-RateLimit-Daily-Remaining header: %w", err)
		}
	}

	now := time.Now()
	state := &State{
		Remaining:      remain,
		DailyRemaining: daily,
		ResetAt:        now.Add(time.Duration(intervalMs) * time.Millisecond),
		LastUpdate:     now,
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	hubspotRequestsRemaining.Set(float64(remain))
	if daily >= 0 {
		hubspotDailyRemaining.Set(float64(daily))
	}

	logEvent := t.logger.Debug().
		Int("remaining", remain).
		Int("daily_remaining", daily).
		Time("reset_at", state.ResetAt).
		Bool("is_healthy", state.IsHealthy)

	if state.NeedsCriticalBlock() {
		logEvent = t.logger.Warn().Int("remaining", remain).Time("reset_at", state.ResetAt)
		logEvent.Msg("HubSpot rate limit nearly exhausted, dispatches will pause")
	} else if state.NeedsThrottling() {
		logEvent = t.logger.Warn().Int("remaining", remain)
		logEvent.Msg("HubSpot rate limit low, dispatches will be throttled")
	} else {
		logEvent.Msg("HubSpot rate limit state updated")
	}

	return nil
}

// Wait blocks until the rate limit state allows another request. In the
// critical band it waits out the interval reset; in the warning band it
// applies a fixed throttle delay. The wait is per dispatch call and honors
// context cancellation.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		wait := state.TimeUntilReset()

		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait", wait).
			Msg("HubSpot rate limit critical, pausing until interval reset")

		hubspotRateLimitBlocksTotal.Inc()
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		return nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("HubSpot rate limit low, throttling dispatch")

		hubspotRateLimitThrottlesTotal.Inc()
		return sleepCtx(ctx, throttleDelay)
	}

	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
