// Package config loads run configuration from a JSON file with environment
// overrides, and validates it before the pipeline starts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/dataloaders/hubspot-writer/pkg/dispatcher"
	"github.com/dataloaders/hubspot-writer/pkg/logging"
	"github.com/dataloaders/hubspot-writer/pkg/registry"
)

// Config is one run's configuration.
type Config struct {
	// APIToken is the HubSpot credential. Accepted under "api_token" or the
	// legacy secret key "#api_token".
	APIToken string `json:"api_token" validate:"required"`

	// AuthStyle selects the credential transport: "bearer" (private app
	// token header) or "hapikey" (legacy query parameter).
	AuthStyle string `json:"auth_style" validate:"omitempty,oneof=bearer hapikey"`

	// Object and Action select the endpoint. Alternatively, Endpoint carries
	// a legacy endpoint name that is normalized to an (object, action) pair.
	Object   string `json:"hubspot_object"`
	Action   string `json:"action"`
	Endpoint string `json:"endpoint"`

	// InputPath is the CSV input table.
	InputPath string `json:"input_path" validate:"required"`

	// TableName overrides the table name derived from the file name.
	TableName string `json:"table_name"`

	// Encoding is the input charset.
	Encoding string `json:"encoding" validate:"omitempty,oneof=utf-8 windows-1250 windows-1251 windows-1252"`

	// Delimiter is the CSV field separator (single character, default ",").
	Delimiter string `json:"delimiter" validate:"omitempty,len=1"`

	// LedgerPath is where the output ledger table is written.
	LedgerPath string `json:"ledger_path"`

	// UseTableNameAsType makes custom object creation take the object type
	// from the table name instead of the object_type column.
	UseTableNameAsType bool `json:"use_table_name_as_type"`

	// DisableAuthCheck skips the pre-run credential probe.
	DisableAuthCheck bool `json:"disable_auth_check"`

	// FailOnRowErrors makes the process exit non-zero when any row failed.
	FailOnRowErrors bool `json:"fail_on_row_errors"`

	// Debug switches the log level to debug.
	Debug bool `json:"debug"`

	// Concurrency is the number of parallel dispatch workers (0 or 1 =
	// sequential).
	Concurrency int `json:"concurrency" validate:"min=0,max=32"`

	// RedisURL enables sharing rate limit state across writer processes.
	RedisURL string `json:"redis_url"`

	// MetricsPort serves /metrics and /health during the run when non-zero.
	MetricsPort int `json:"metrics_port" validate:"min=0,max=65535"`

	// BaseURL overrides the HubSpot API root (testing).
	BaseURL string `json:"base_url"`
}

// Load reads and validates a configuration file, applying environment
// overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// The legacy secret key "#api_token" wins over "api_token" when both
	// are present.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if secret, ok := raw["#api_token"]; ok {
		raw["api_token"] = secret
	}
	merged, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	c.APIToken = getEnv("HUBSPOT_API_TOKEN", c.APIToken)
	c.AuthStyle = getEnv("HUBSPOT_AUTH_STYLE", c.AuthStyle)
	c.Object = getEnv("HUBSPOT_OBJECT", c.Object)
	c.Action = getEnv("HUBSPOT_ACTION", c.Action)
	c.Endpoint = getEnv("HUBSPOT_ENDPOINT", c.Endpoint)
	c.InputPath = getEnv("HUBSPOT_INPUT_PATH", c.InputPath)
	c.LedgerPath = getEnv("HUBSPOT_LEDGER_PATH", c.LedgerPath)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.BaseURL = getEnv("HUBSPOT_BASE_URL", c.BaseURL)

	if port := os.Getenv("METRICS_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			c.MetricsPort = v
		}
	}
	if debug := os.Getenv("HUBSPOT_DEBUG"); debug != "" {
		c.Debug = debug == "true" || debug == "1"
	}
}

// applyDefaults fills unset optional fields.
func (c *Config) applyDefaults() {
	if c.AuthStyle == "" {
		c.AuthStyle = "bearer"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = "ledger.csv"
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
}

// Operation resolves the configured operation to an (object, action) pair.
// A legacy endpoint name takes effect only when no explicit object is set.
func (c *Config) Operation() (registry.Object, registry.Action, error) {
	if c.Object != "" {
		if c.Action == "" {
			return "", "", fmt.Errorf("action is required for object %q", c.Object)
		}
		return registry.Object(c.Object), registry.Action(c.Action), nil
	}

	if c.Endpoint != "" {
		object, action, ok := registry.NormalizeLegacy(c.Endpoint)
		if !ok {
			return "", "", fmt.Errorf("%w: unknown endpoint %q", registry.ErrUnsupportedOperation, c.Endpoint)
		}
		logger := logging.NewLogger("config")
		logger.Debug().
			Str("endpoint", c.Endpoint).
			Str("object", string(object)).
			Str("action", string(action)).
			Msg("Normalized legacy endpoint name")
		return object, action, nil
	}

	return "", "", fmt.Errorf("either hubspot_object/action or endpoint must be configured")
}

// Credential builds the dispatcher credential for the configured auth style.
func (c *Config) Credential() dispatcher.Credential {
	if c.AuthStyle == "hapikey" {
		return dispatcher.APIKey(c.APIToken)
	}
	return dispatcher.BearerToken(c.APIToken)
}

// LogLevel returns the configured logging level.
func (c *Config) LogLevel() logging.LogLevel {
	if c.Debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// getEnv returns the environment value for key, or fallback when unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
