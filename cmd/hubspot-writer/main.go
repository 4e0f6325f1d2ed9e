// Command hubspot-writer runs one (object, action) write run: it reads a
// CSV input table, translates each row into HubSpot API requests, and writes
// a per-row outcome ledger.
//
// Exit codes: 0 run completed (row failures allowed), 1 run completed with
// row failures while fail_on_row_errors is set, 2 fatal configuration or
// auth error (no ledger written).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dataloaders/hubspot-writer/pkg/config"
	"github.com/dataloaders/hubspot-writer/pkg/dispatcher"
	"github.com/dataloaders/hubspot-writer/pkg/logging"
	"github.com/dataloaders/hubspot-writer/pkg/mapper"
	"github.com/dataloaders/hubspot-writer/pkg/pipeline"
	"github.com/dataloaders/hubspot-writer/pkg/ratelimit"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
	"github.com/dataloaders/hubspot-writer/pkg/table"
)

const (
	exitOK    = 0
	exitRows  = 1
	exitFatal = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; real deployments pass environment directly
	_ = godotenv.Load()

	configPath := flag.String("config", "config.json", "path to the run configuration file")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitFatal
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel(),
		Pretty: *pretty,
		Output: os.Stderr,
	})

	object, action, err := cfg.Operation()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid operation configuration")
		return exitFatal
	}
	if _, err := registry.Resolve(object, action); err != nil {
		logger.Error().Err(err).Msg("Invalid operation configuration")
		return exitFatal
	}

	tbl, err := table.ReadCSVFile(cfg.InputPath, table.ReadOptions{
		Name:      cfg.TableName,
		Encoding:  cfg.Encoding,
		Delimiter: rune(cfg.Delimiter[0]),
	})
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.InputPath).Msg("Failed to read input table")
		return exitFatal
	}

	tracker, cleanup, err := newTracker(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect rate limit store")
		return exitFatal
	}
	defer cleanup()

	dispatchCfg := dispatcher.DefaultConfig(cfg.Credential())
	if cfg.BaseURL != "" {
		dispatchCfg.BaseURL = cfg.BaseURL
	}
	d, err := dispatcher.New(dispatchCfg, tracker)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create dispatcher")
		return exitFatal
	}

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort, logger)
	}

	runner := pipeline.NewRunner(d)
	led, err := runner.Run(context.Background(), pipeline.Config{
		Object: object,
		Action: action,
		Table:  tbl,
		MapperOptions: mapper.Options{
			TableName:          tbl.Name,
			UseTableNameAsType: cfg.UseTableNameAsType,
		},
		Concurrency: cfg.Concurrency,
		AuthCheck:   !cfg.DisableAuthCheck,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Run aborted")
		return exitFatal
	}

	out, err := os.Create(cfg.LedgerPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.LedgerPath).Msg("Failed to create ledger file")
		return exitFatal
	}
	defer out.Close()

	if err := led.WriteCSV(out); err != nil {
		logger.Error().Err(err).Msg("Failed to write ledger")
		return exitFatal
	}

	summary := led.Summarize()
	logger.Info().
		Str("ledger", cfg.LedgerPath).
		Int("rows", summary.Rows).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("Ledger written")

	if cfg.FailOnRowErrors && summary.Failed > 0 {
		return exitRows
	}
	return exitOK
}

// newTracker wires the rate limit tracker to Redis when configured, or to an
// in-process store otherwise.
func newTracker(cfg *config.Config) (*ratelimit.Tracker, func(), error) {
	logger := logging.NewLogger("ratelimit")

	if cfg.RedisURL == "" {
		return ratelimit.NewTracker(ratelimit.NewMemoryStore(), logger), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
	}

	return ratelimit.NewTracker(ratelimit.NewRedisStore(client), logger),
		func() { client.Close() }, nil
}

// serveMetrics exposes /metrics and /health while the run executes.
func serveMetrics(port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
