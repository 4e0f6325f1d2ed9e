// Package dispatcher sends batches as authenticated HTTP requests to the
// HubSpot API, applying client-side pacing, retry with exponential backoff
// on transient failures, and rate limit handling.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dataloaders/hubspot-writer/pkg/batcher"
	"github.com/dataloaders/hubspot-writer/pkg/logging"
	"github.com/dataloaders/hubspot-writer/pkg/mapper"
	"github.com/dataloaders/hubspot-writer/pkg/ratelimit"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
)

// Prometheus metrics for dispatch operations.
var (
	hubspotRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_requests_total",
		Help: "Total HubSpot requests by operation and status",
	}, []string{"operation", "status"})

	hubspotRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hubspot_writer_request_duration_seconds",
		Help:    "HubSpot request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	hubspotErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_errors_total",
		Help: "Total dispatch errors by class",
	}, []string{"class"})

	hubspotRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	hubspotRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hubspot_writer_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	hubspotRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	hubspotBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_batches_total",
		Help: "Total dispatched batches by operation and outcome",
	}, []string{"operation", "outcome"})
)

// Status is the outcome of one dispatched batch.
type Status string

const (
	// StatusSuccess means the whole batch was accepted.
	StatusSuccess Status = "success"

	// StatusPartial means the endpoint reported per-item errors for some
	// members.
	StatusPartial Status = "partial"

	// StatusFailure means the batch failed as a whole.
	StatusFailure Status = "failure"
)

// Result is the outcome of one dispatched batch.
type Result struct {
	Status     Status
	HTTPStatus int

	// Retries is the number of retry attempts consumed (0 when the first
	// attempt settled the batch).
	Retries int

	// ErrorDetail carries the response body or error message on failure.
	ErrorDetail string

	// ItemErrors maps a member's index within the batch to its error detail,
	// for endpoints that return per-item results.
	ItemErrors map[int]string
}

// batchState tracks a batch through the dispatch state machine.
type batchState string

const (
	statePending  batchState = "pending"
	stateInFlight batchState = "in_flight"
	stateRetrying batchState = "retrying"
)

// Config holds the dispatcher configuration.
type Config struct {
	// BaseURL is the API root, ending with a slash.
	BaseURL string

	// Credential attaches authentication to each request.
	Credential Credential

	// UserAgent identifies the writer.
	UserAgent string

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration

	// Retry configures backoff on transient failures.
	Retry RetryConfig

	// RequestsPerSecond paces outgoing requests client-side. HubSpot private
	// apps allow around 100 requests per 10 seconds.
	RequestsPerSecond float64

	// Burst is the pacing burst size.
	Burst int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(cred Credential) Config {
	return Config{
		BaseURL:           "https://api.hubapi.com/",
		Credential:        cred,
		UserAgent:         "hubspot-writer/1.0",
		Timeout:           30 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: 8,
		Burst:             8,
	}
}

// Dispatcher sends batches to the HubSpot API.
type Dispatcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a dispatcher.
func New(cfg Config, tracker *ratelimit.Tracker) (*Dispatcher, error) {
	if cfg.Credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Dispatcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		tracker: tracker,
		config:  cfg,
		logger:  logging.NewLogger("dispatcher"),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	d.httpClient = client
}

// Send dispatches one batch and returns its outcome. Transient failures
// (429, 5xx, network errors) are retried with exponential backoff; a 429
// additionally honors the server's Retry-After hint. Non-429 4xx responses
// fail immediately with the response body as error detail. Send never
// returns an error: a batch's terminal failure is a Result, not a run
// failure.
func (d *Dispatcher) Send(ctx context.Context, b batcher.Batch) Result {
	operation := b.Descriptor.Key()

	start := time.Now()
	defer func() {
		hubspotRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	body, err := buildBody(b)
	if err != nil {
		return d.finish(b, Result{
			Status:      StatusFailure,
			ErrorDetail: fmt.Sprintf("assemble request body: %v", err),
		})
	}

	state := statePending
	attempt := 0
	var lastErr *APIError

	for {
		switch state {
		case statePending, stateRetrying:
			if err := d.limiter.Wait(ctx); err != nil {
				return d.finish(b, cancelResult(attempt, err))
			}
			if err := d.tracker.Wait(ctx); err != nil {
				return d.finish(b, cancelResult(attempt, err))
			}
			attempt++
			state = stateInFlight

		case stateInFlight:
			resp, apiErr := d.execute(ctx, b, body)
			if apiErr == nil {
				hubspotRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.status)).Inc()
				if attempt > 1 {
					d.logger.Info().
						Str("operation", operation).
						Int("batch", b.Seq).
						Int("attempt", attempt).
						Msg("Batch succeeded after retry")
				}
				return d.finish(b, d.correlate(b, resp, attempt-1))
			}

			lastErr = apiErr
			hubspotErrorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
			hubspotRequestsTotal.WithLabelValues(operation, requestStatusLabel(apiErr)).Inc()

			if !shouldRetry(apiErr.Class) {
				d.logger.Error().
					Str("operation", operation).
					Int("batch", b.Seq).
					Int("status_code", apiErr.StatusCode).
					Str("error_class", string(apiErr.Class)).
					Msg("Batch failed permanently")
				return d.finish(b, failureResult(lastErr, attempt-1))
			}

			if attempt >= d.config.Retry.MaxAttempts {
				hubspotRetryExhaustedTotal.WithLabelValues(string(apiErr.Class)).Inc()
				d.logger.Error().
					Str("operation", operation).
					Int("batch", b.Seq).
					Int("max_attempts", d.config.Retry.MaxAttempts).
					Str("error_class", string(apiErr.Class)).
					Msg("Retry attempts exhausted")

				r := failureResult(lastErr, attempt-1)
				r.ErrorDetail = fmt.Sprintf("%v after %d attempts: %s",
					ErrRetryExhausted, attempt, r.ErrorDetail)
				return d.finish(b, r)
			}

			backoff := d.config.Retry.backoffFor(attempt)
			if apiErr.RetryAfter > 0 {
				// Server wait hint wins over computed backoff
				backoff = apiErr.RetryAfter
			}

			hubspotRetriesTotal.WithLabelValues(string(apiErr.Class)).Inc()
			hubspotRetryBackoffSeconds.WithLabelValues(string(apiErr.Class)).Observe(backoff.Seconds())

			d.logger.Warn().
				Str("operation", operation).
				Int("batch", b.Seq).
				Int("attempt", attempt).
				Str("error_class", string(apiErr.Class)).
				Dur("backoff", backoff).
				Msg("Retrying batch after backoff")

			select {
			case <-ctx.Done():
				d.logger.Warn().
					Str("operation", operation).
					Int("batch", b.Seq).
					Msg("Context cancelled during retry backoff")
				return d.finish(b, cancelResult(attempt, ctx.Err()))
			case <-time.After(backoff):
			}
			state = stateRetrying
		}
	}
}

// finish records batch outcome metrics and returns the result unchanged.
func (d *Dispatcher) finish(b batcher.Batch, r Result) Result {
	hubspotBatchesTotal.WithLabelValues(b.Descriptor.Key(), string(r.Status)).Inc()
	return r
}

// response carries a settled non-error HTTP exchange.
type response struct {
	status int
	body   []byte
}

// execute performs one HTTP attempt.
func (d *Dispatcher) execute(ctx context.Context, b batcher.Batch, body []byte) (*response, *APIError) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, b.Descriptor.Method, d.config.BaseURL+b.Path, reader)
	if err != nil {
		return nil, &APIError{Class: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	d.config.Credential.Apply(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Class: ErrorClassNetwork, Err: fmt.Errorf("read response body: %w", err)}
	}

	if err := d.tracker.UpdateFromHeaders(ctx, resp.Header); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Body:       strings.TrimSpace(string(data)),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}

	return &response{status: resp.StatusCode, body: data}, nil
}

// parseRetryAfter reads the Retry-After header as a delay in seconds.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// requestStatusLabel returns the metric status label for a failed attempt.
func requestStatusLabel(err *APIError) string {
	if err.StatusCode > 0 {
		return strconv.Itoa(err.StatusCode)
	}
	return "network_error"
}

// failureResult builds a terminal failure result from the last error.
func failureResult(err *APIError, retries int) Result {
	detail := err.Error()
	if err.Body != "" {
		detail = err.Body
	}
	return Result{
		Status:      StatusFailure,
		HTTPStatus:  err.StatusCode,
		Retries:     retries,
		ErrorDetail: detail,
	}
}

// cancelResult builds a failure result for a cancelled dispatch.
func cancelResult(attempt int, err error) Result {
	retries := attempt - 1
	if retries < 0 {
		retries = 0
	}
	return Result{
		Status:      StatusFailure,
		Retries:     retries,
		ErrorDetail: fmt.Sprintf("%v: %v", ErrContextCancelled, err),
	}
}

// buildBody assembles the request body for a batch under the descriptor's
// body shape.
func buildBody(b batcher.Batch) ([]byte, error) {
	switch b.Descriptor.BodyShape {
	case registry.BodyObjectBatch:
		inputs := make([]map[string]any, 0, len(b.Payloads))
		for _, p := range b.Payloads {
			inputs = append(inputs, objectBatchInput(b.Descriptor, p))
		}
		return json.Marshal(map[string]any{"inputs": inputs})

	case registry.BodyListMembership:
		vids := []string{}
		emails := []string{}
		for _, p := range b.Payloads {
			vids = append(vids, p.Vids...)
			emails = append(emails, p.Emails...)
		}
		return json.Marshal(map[string]any{"vids": vids, "emails": emails})

	case registry.BodySingle:
		return json.Marshal(b.Payloads[0].Body)

	case registry.BodyNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown body shape %q", b.Descriptor.BodyShape)
	}
}

// objectBatchInput builds one member of a v3 {"inputs": [...]} envelope.
func objectBatchInput(desc registry.Descriptor, p *mapper.Payload) map[string]any {
	// Archive members carry only the object ID
	if desc.Action == registry.ActionRemove {
		return map[string]any{"id": p.ObjectID}
	}

	input := map[string]any{"properties": p.Properties}
	if p.ObjectID != "" {
		input["id"] = p.ObjectID
	}

	if len(p.Associations) > 0 {
		assocs := make([]map[string]any, 0, len(p.Associations))
		for _, a := range p.Associations {
			assocs = append(assocs, map[string]any{
				"to": map[string]any{"id": a.ToID},
				"types": []map[string]any{{
					"associationCategory": a.Category,
					"associationTypeId":   a.TypeID,
				}},
			})
		}
		input["associations"] = assocs
	}

	return input
}

// correlate maps a settled 2xx response back to per-member outcomes under
// the descriptor's result mode.
func (d *Dispatcher) correlate(b batcher.Batch, resp *response, retries int) Result {
	switch b.Descriptor.ResultMode {
	case registry.ResultBatchItems:
		return correlateBatchItems(b, resp, retries)
	case registry.ResultListMembership:
		return correlateListMembership(b, resp, retries)
	default:
		return Result{Status: StatusSuccess, HTTPStatus: resp.status, Retries: retries}
	}
}

// correlateBatchItems parses a v3 batch response. A 207 Multi-Status carries
// an errors array whose context ids name the failed members.
func correlateBatchItems(b batcher.Batch, resp *response, retries int) Result {
	result := Result{Status: StatusSuccess, HTTPStatus: resp.status, Retries: retries}
	if resp.status != http.StatusMultiStatus {
		return result
	}

	var parsed struct {
		Errors []struct {
			Message string `json:"message"`
			Context struct {
				IDs []string `json:"ids"`
			} `json:"context"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil || len(parsed.Errors) == 0 {
		// Multi-status without a parseable error list: every member inherits
		// the batch-level outcome
		result.Status = StatusPartial
		result.ErrorDetail = strings.TrimSpace(string(resp.body))
		return result
	}

	indexByID := make(map[string]int, len(b.Payloads))
	for i, p := range b.Payloads {
		if p.ObjectID != "" {
			indexByID[p.ObjectID] = i
		}
	}

	result.ItemErrors = make(map[int]string)
	for _, e := range parsed.Errors {
		for _, id := range e.Context.IDs {
			if idx, ok := indexByID[id]; ok {
				result.ItemErrors[idx] = e.Message
			}
		}
	}

	if len(result.ItemErrors) > 0 {
		result.Status = StatusPartial
	} else {
		// Errors that cannot be attributed to members fail the whole batch
		result.Status = StatusPartial
		result.ErrorDetail = parsed.Errors[0].Message
	}
	return result
}

// correlateListMembership parses the v1 list membership response and fails
// members whose vid or email was reported invalid.
func correlateListMembership(b batcher.Batch, resp *response, retries int) Result {
	result := Result{Status: StatusSuccess, HTTPStatus: resp.status, Retries: retries}

	var parsed struct {
		Updated       []json.Number `json:"updated"`
		Discarded     []json.Number `json:"discarded"`
		InvalidVids   []json.Number `json:"invalidVids"`
		InvalidEmails []string      `json:"invalidEmails"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return result
	}

	invalidVids := make(map[string]bool, len(parsed.InvalidVids))
	for _, v := range parsed.InvalidVids {
		invalidVids[v.String()] = true
	}
	invalidEmails := make(map[string]bool, len(parsed.InvalidEmails))
	for _, e := range parsed.InvalidEmails {
		invalidEmails[e] = true
	}
	if len(invalidVids) == 0 && len(invalidEmails) == 0 {
		return result
	}

	result.ItemErrors = make(map[int]string)
	for i, p := range b.Payloads {
		for _, vid := range p.Vids {
			if invalidVids[vid] {
				result.ItemErrors[i] = fmt.Sprintf("vid %s is not a valid contact", vid)
			}
		}
		for _, email := range p.Emails {
			if invalidEmails[email] {
				result.ItemErrors[i] = fmt.Sprintf("email %s is not a valid contact", email)
			}
		}
	}

	if len(result.ItemErrors) > 0 {
		result.Status = StatusPartial
	}
	return result
}

// CheckAuth probes the credential against a cheap read endpoint before any
// write is attempted. A failure here is configuration-grade: the run must
// abort without touching the CRM.
func (d *Dispatcher) CheckAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.config.BaseURL+"contacts/v1/lists/all/contacts/recent?count=1", nil)
	if err != nil {
		return fmt.Errorf("create auth check request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	d.config.Credential.Apply(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		StatusCode: resp.StatusCode,
		Class:      classifyStatus(resp.StatusCode),
		Body:       strings.TrimSpace(string(data)),
		Err:        fmt.Errorf("authentication check failed, check your API token"),
	}
}
