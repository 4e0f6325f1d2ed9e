//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func integrationTracker(client *redis.Client) *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewTracker(NewRedisStore(client), logger)
}

func TestTracker_Integration_GetState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := integrationTracker(redisClient)
	ctx := context.Background()

	// Default state when Redis is empty
	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 100 {
		t.Errorf("Default Remaining = %d, want 100", state.Remaining)
	}
	if !state.IsHealthy {
		t.Error("Default state should be healthy")
	}

	// Update state and retrieve it through Redis
	headers := http.Header{}
	headers.Set("X-HubSpot-RateLimit-Remaining", "75")
	headers.Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")
	headers.Set("X-HubSpot-RateLimit-Daily-Remaining", "120000")

	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after update error = %v", err)
	}
	if state.Remaining != 75 {
		t.Errorf("Remaining = %d, want 75", state.Remaining)
	}
	if state.DailyRemaining != 120000 {
		t.Errorf("DailyRemaining = %d, want 120000", state.DailyRemaining)
	}
	if !state.IsHealthy {
		t.Error("State with 75 remaining should be healthy")
	}

	expectedResetDuration := 10 * time.Second
	actualResetDuration := state.TimeUntilReset()
	tolerance := 2 * time.Second

	if actualResetDuration < expectedResetDuration-tolerance || actualResetDuration > expectedResetDuration+tolerance {
		t.Errorf("TimeUntilReset = %v, want approximately %v", actualResetDuration, expectedResetDuration)
	}
}

func TestTracker_Integration_SharedState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()

	// Two trackers over the same Redis model two writer processes sharing
	// one token.
	writer := integrationTracker(redisClient)
	observer := integrationTracker(redisClient)

	headers := http.Header{}
	headers.Set("X-HubSpot-RateLimit-Remaining", "15")
	headers.Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")

	if err := writer.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, err := observer.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 15 {
		t.Errorf("Remaining = %d, want 15 via shared store", state.Remaining)
	}
	if !state.NeedsThrottling() {
		t.Error("observer must see the warning band recorded by the writer")
	}
}

func TestTracker_Integration_Wait_Warning(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := integrationTracker(redisClient)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("X-HubSpot-RateLimit-Remaining", "15")
	headers.Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")

	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	// Warning band applies the fixed throttle delay
	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if duration := time.Since(start); duration < 900*time.Millisecond {
		t.Errorf("Wait() throttle duration = %v, want >= 1s", duration)
	}
}

func TestTracker_Integration_Wait_Healthy(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := integrationTracker(redisClient)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("X-HubSpot-RateLimit-Remaining", "90")
	headers.Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")

	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if duration := time.Since(start); duration > 100*time.Millisecond {
		t.Errorf("Wait() duration = %v, want < 100ms for healthy state", duration)
	}
}

func TestTracker_Integration_Wait_Critical(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := integrationTracker(redisClient)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("X-HubSpot-RateLimit-Remaining", "2")
	headers.Set("X-HubSpot-RateLimit-Interval-Milliseconds", "2000")

	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	// Critical band pauses until the interval reset
	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if duration := time.Since(start); duration < 1500*time.Millisecond {
		t.Errorf("Wait() duration = %v, want a pause until interval reset", duration)
	}
}
