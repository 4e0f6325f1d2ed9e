// Package testutil provides testing utilities for the HubSpot writer.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock HubSpot endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHubSpot is a configurable mock HubSpot API server for testing.
type MockHubSpot struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	LastRequestPath   string
	LastRequestQuery  string
}

// NewMockHubSpot creates a new mock HubSpot server.
func NewMockHubSpot() *MockHubSpot {
	mock := &MockHubSpot{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRequestPath = r.URL.Path
		mock.LastRequestQuery = r.URL.RawQuery
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL with a trailing slash, suitable as a
// dispatcher base URL.
func (m *MockHubSpot) URL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockHubSpot) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockHubSpot) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.LastRequestPath = ""
	m.LastRequestQuery = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockHubSpot) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockHubSpot) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetResponseSequence configures a path to answer with a fixed sequence of
// responses, then keep repeating the last one. Used for retry tests.
func (m *MockHubSpot) SetResponseSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	call := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[call]
		if call < len(responses)-1 {
			call++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHubSpot) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler provides default HubSpot-like responses.
func (m *MockHubSpot) defaultHandler(w http.ResponseWriter, _ *http.Request) {
	setRateLimitHeaders(w, "95")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "COMPLETE"}`))
}

func setRateLimitHeaders(w http.ResponseWriter, remaining string) {
	w.Header().Set("X-HubSpot-RateLimit-Remaining", remaining)
	w.Header().Set("X-HubSpot-RateLimit-Interval-Milliseconds", "10000")
	w.Header().Set("X-HubSpot-RateLimit-Daily-Remaining", "240000")
}

func healthyHeaders() map[string]string {
	return map[string]string{
		"X-HubSpot-RateLimit-Remaining":             "95",
		"X-HubSpot-RateLimit-Interval-Milliseconds": "10000",
		"X-HubSpot-RateLimit-Daily-Remaining":       "240000",
		"Content-Type":                              "application/json; charset=utf-8",
	}
}

// NewBatchCreatedResponse creates a 201 v3 batch response.
func NewBatchCreatedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusCreated,
		Body:       `{"status": "COMPLETE", "results": []}`,
		Headers:    healthyHeaders(),
	}
}

// NewMultiStatusResponse creates a 207 v3 batch response with per-item
// errors attributed to the given ids.
func NewMultiStatusResponse(errorsJSON string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusMultiStatus,
		Body:       `{"status": "COMPLETE", "results": [], "errors": ` + errorsJSON + `}`,
		Headers:    healthyHeaders(),
	}
}

// NewListMembershipResponse creates a v1 list membership response.
func NewListMembershipResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    healthyHeaders(),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a
// Retry-After hint.
func NewRateLimitResponse(retryAfterSeconds string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"status": "error", "message": "Rate limit exceeded", "category": "RATE_LIMITS"}`,
		Headers: map[string]string{
			"Retry-After":                   retryAfterSeconds,
			"X-HubSpot-RateLimit-Remaining": "0",
			"X-HubSpot-RateLimit-Interval-Milliseconds": "10000",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"status": "error", "message": "internal error"}`,
		Headers:    healthyHeaders(),
	}
}

// NewValidationErrorResponse creates a 400 validation error (permanent, not
// retried). The dynamic list rejection surfaces this way.
func NewValidationErrorResponse(message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"status": "error", "message": "` + message + `"}`,
		Headers:    healthyHeaders(),
	}
}

// NewAuthErrorResponse creates a 401 invalid credential response.
func NewAuthErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"status": "error", "message": "The API key provided is invalid.", "category": "INVALID_AUTHENTICATION"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
