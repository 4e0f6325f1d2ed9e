// Package pipeline orchestrates one writer run: registry resolution, row
// mapping, batching, dispatch, and ledger aggregation. The data flow is
// strictly one-directional; no stage depends on a later one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/dataloaders/hubspot-writer/pkg/batcher"
	"github.com/dataloaders/hubspot-writer/pkg/dispatcher"
	"github.com/dataloaders/hubspot-writer/pkg/ledger"
	"github.com/dataloaders/hubspot-writer/pkg/logging"
	"github.com/dataloaders/hubspot-writer/pkg/mapper"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
	"github.com/dataloaders/hubspot-writer/pkg/table"
)

// Prometheus metrics for pipeline runs.
var (
	hubspotRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_writer_rows_total",
		Help: "Total input rows by mapping outcome",
	}, []string{"outcome"})

	hubspotRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hubspot_writer_run_duration_seconds",
		Help:    "Duration of complete writer runs",
		Buckets: []float64{1, 5, 15, 60, 300, 1800},
	})
)

// Config describes one run.
type Config struct {
	// Object and Action select the endpoint descriptor.
	Object registry.Object
	Action registry.Action

	// Table is the run's single logical input table.
	Table *table.Table

	// MapperOptions carry object-specific flags (custom object table-name
	// resolution).
	MapperOptions mapper.Options

	// Concurrency is the number of parallel dispatch workers; values <= 1
	// dispatch sequentially.
	Concurrency int

	// AuthCheck probes the credential before the first write.
	AuthCheck bool
}

// Runner executes writer runs against one dispatcher.
type Runner struct {
	dispatcher *dispatcher.Dispatcher
	logger     zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(d *dispatcher.Dispatcher) *Runner {
	return &Runner{
		dispatcher: d,
		logger:     logging.NewLogger("pipeline"),
	}
}

// Run executes one run and returns the completed ledger. A returned error is
// configuration-grade (unsupported operation, table-level missing column,
// failed auth check) and means no request reached the CRM for this run's
// rows; row- and batch-level failures are recorded in the ledger instead.
func (r *Runner) Run(ctx context.Context, cfg Config) (*ledger.Ledger, error) {
	runID := uuid.NewString()
	logger := r.logger.With().
		Str("run_id", runID).
		Str("operation", fmt.Sprintf("%s.%s", cfg.Object, cfg.Action)).
		Logger()

	start := time.Now()
	defer func() {
		hubspotRunDuration.Observe(time.Since(start).Seconds())
	}()

	desc, err := registry.Resolve(cfg.Object, cfg.Action)
	if err != nil {
		return nil, err
	}

	if cfg.Table == nil {
		return nil, errors.New("input table is required")
	}

	if err := r.validateColumns(desc, cfg); err != nil {
		return nil, err
	}

	if cfg.AuthCheck {
		if err := r.dispatcher.CheckAuth(ctx); err != nil {
			logger.Error().Err(err).Msg("Credential check failed")
			return nil, fmt.Errorf("auth check: %w", err)
		}
		logger.Debug().Msg("Credential check passed")
	}

	logger.Info().
		Str("table", cfg.Table.Name).
		Int("rows", len(cfg.Table.Rows)).
		Msg("Run started")

	led := ledger.New()

	// Stage 1: map rows. A failing row is isolated into the ledger and the
	// run continues.
	m := mapper.New(desc, cfg.Table.Columns, cfg.MapperOptions)
	var payloads []*mapper.Payload
	for _, row := range cfg.Table.Rows {
		payload, err := m.Map(row)
		if err != nil {
			logger.Warn().
				Int("row", row.Index).
				Err(err).
				Msg("Row excluded from dispatch")
			led.RecordRowError(row.Index, err)
			hubspotRowsTotal.WithLabelValues("map_failed").Inc()
			continue
		}
		payloads = append(payloads, payload)
		hubspotRowsTotal.WithLabelValues("mapped").Inc()
	}

	// Stage 2: batch and dispatch. The ledger has a single writer: results
	// from parallel workers are drained here, then reconciled to row order
	// on emission.
	batches := batcher.Build(desc, payloads)
	logger.Info().
		Int("payloads", len(payloads)).
		Int("batches", len(batches)).
		Msg("Dispatching batches")

	if cfg.Concurrency > 1 && len(batches) > 1 {
		r.dispatchParallel(ctx, logger, batches, cfg.Concurrency, led)
	} else {
		for _, b := range batches {
			led.RecordBatch(b, r.dispatcher.Send(ctx, b))
		}
	}

	summary := led.Summarize()
	logger.Info().
		Int("rows", summary.Rows).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("duration", time.Since(start)).
		Msg("Run complete")

	return led, nil
}

// validateColumns enforces table-level required column presence before any
// row is processed. The object_type column is exempt for custom objects when
// the table-name flag is set.
func (r *Runner) validateColumns(desc registry.Descriptor, cfg Config) error {
	required := desc.RequiredColumns
	if desc.Object == registry.ObjectCustomObject && cfg.MapperOptions.UseTableNameAsType {
		filtered := make([]string, 0, len(required))
		for _, col := range required {
			if col != "object_type" {
				filtered = append(filtered, col)
			}
		}
		required = filtered
	}

	if missing := cfg.Table.MissingColumns(required); len(missing) > 0 {
		return &mapper.MissingColumnError{Column: missing[0]}
	}
	return nil
}

// batchOutcome pairs a batch with its dispatch result for ledger recording.
type batchOutcome struct {
	batch  batcher.Batch
	result dispatcher.Result
}

// dispatchParallel sends batches through a bounded worker pool. Batches for
// one run carry no ordering dependency on each other; the ledger restores
// row order on emission.
func (r *Runner) dispatchParallel(ctx context.Context, logger zerolog.Logger, batches []batcher.Batch, workers int, led *ledger.Ledger) {
	if workers > len(batches) {
		workers = len(batches)
	}

	queue := make(chan batcher.Batch, len(batches))
	outcomes := make(chan batchOutcome, len(batches))

	for _, b := range batches {
		queue <- b
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for b := range queue {
				select {
				case <-ctx.Done():
					logger.Debug().
						Int("worker_id", workerID).
						Msg("Worker stopping (context cancelled)")
					outcomes <- batchOutcome{batch: b, result: dispatcher.Result{
						Status:      dispatcher.StatusFailure,
						ErrorDetail: fmt.Sprintf("dispatch cancelled: %v", ctx.Err()),
					}}
					continue
				default:
				}
				outcomes <- batchOutcome{batch: b, result: r.dispatcher.Send(ctx, b)}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	done := 0
	for outcome := range outcomes {
		led.RecordBatch(outcome.batch, outcome.result)
		done++
		if done%50 == 0 {
			logger.Info().
				Int("dispatched", done).
				Int("total", len(batches)).
				Msg("Dispatch progress")
		}
	}
}
