// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// Carrier subprocess identity, endpoint, and launch command. Credentials
	// are passed through to the subprocess via its own environment, never
	// via command line.
	CarrierClientID      string `env:"CARRIER_CLIENT_ID"`
	CarrierClientSecret  string `env:"CARRIER_CLIENT_SECRET"`
	CarrierAccountNumber string `env:"CARRIER_ACCOUNT_NUMBER"`
	CarrierBaseURL       string `env:"CARRIER_BASE_URL" envDefault:"https://wwwcie.ups.com"`
	CarrierCommand       string `env:"CARRIER_COMMAND"`

	// Data source subprocess command; arguments/credentials are supplied
	// by the adapter that owns the data source's connection details.
	DataSourceCommand string `env:"DATASOURCE_COMMAND"`

	// NL interpreter: a single chat-completion endpoint the interpreter
	// calls to turn one conversational turn into a filter clause and
	// service code. Its prompt engineering is not part of this system's
	// core; this is only the client-side wiring to reach it.
	InterpreterAPIKey    string        `env:"INTERPRETER_API_KEY"`
	InterpreterBaseURL   string        `env:"INTERPRETER_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	InterpreterModel     string        `env:"INTERPRETER_MODEL" envDefault:"llama-3.3-70b-versatile"`
	InterpreterTimeout   time.Duration `env:"INTERPRETER_TIMEOUT" envDefault:"20s"`
	InterpreterMaxTokens int           `env:"INTERPRETER_MAX_TOKENS" envDefault:"512"`

	// Batch Engine tuning.
	BatchConcurrency     int    `env:"BATCH_CONCURRENCY" envDefault:"5"`
	BatchPreviewMaxRows  int    `env:"BATCH_PREVIEW_MAX_ROWS" envDefault:"50"`
	WarningRowsPolicy    string `env:"WARNING_ROWS_POLICY" envDefault:"ask"`
	LabelsOutputDir      string `env:"LABELS_OUTPUT_DIR" envDefault:"./data/labels"`
	InternationalLanes   string `env:"INTERNATIONAL_ENABLED_LANES" envSeparator:"," envDefault:"*"`

	// FilterTokenSecret signs FilterSpec canonical forms; must be >= 32 bytes.
	FilterTokenSecret string `env:"FILTER_TOKEN_SECRET"`

	// REST/SSE surface.
	APIKey          string `env:"API_KEY"`
	AllowedOrigins  string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	RateLimitPerMin int    `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`

	StoreDSN string `env:"STORE_DSN" envDefault:"file:./data/shipagent.db?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"shipagent"`

	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	DataRetentionDays int           `env:"DATA_RETENTION_DAYS" envDefault:"90"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	SubprocessStartTimeout    time.Duration `env:"SUBPROCESS_START_TIMEOUT" envDefault:"10s"`
	SubprocessShutdownTimeout time.Duration `env:"SUBPROCESS_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// Carrier retry/backoff tuning (read-only operation class; see §4.2).
	CarrierBackoffMaxRetries     int           `env:"CARRIER_BACKOFF_MAX_RETRIES" envDefault:"2"`
	CarrierBackoffInitialInterval time.Duration `env:"CARRIER_BACKOFF_INITIAL_INTERVAL" envDefault:"200ms"`
	CarrierBackoffMultiplier      float64       `env:"CARRIER_BACKOFF_MULTIPLIER" envDefault:"2.0"`

	// Carrier throttling (one token bucket shared by all operations).
	CarrierRateLimitPerSec float64 `env:"CARRIER_RATE_LIMIT_PER_SEC" envDefault:"10"`
	CarrierRateLimitBurst  int     `env:"CARRIER_RATE_LIMIT_BURST" envDefault:"20"`

	// Cross-process carrier quota, enforced via Redis when configured.
	RedisAddr        string `env:"REDIS_ADDR"`
	CarrierQuotaPerDay int  `env:"CARRIER_QUOTA_PER_DAY" envDefault:"0"` // 0 = unlimited

	// Shipper identity: static origin address and account the process
	// ships every job under (§3's ShipperProfile is process-wide and
	// immutable during a job, so it is loaded once here rather than
	// accepted per-request).
	ShipperName       string `env:"SHIPPER_NAME"`
	ShipperCompany    string `env:"SHIPPER_COMPANY"`
	ShipperStreet1    string `env:"SHIPPER_STREET1"`
	ShipperStreet2    string `env:"SHIPPER_STREET2"`
	ShipperCity       string `env:"SHIPPER_CITY"`
	ShipperStateProv  string `env:"SHIPPER_STATE_PROV"`
	ShipperPostalCode string `env:"SHIPPER_POSTAL_CODE"`
	ShipperCountryISO string `env:"SHIPPER_COUNTRY_ISO" envDefault:"US"`
	ShipperPhone      string `env:"SHIPPER_PHONE"`
	ShipperEmail      string `env:"SHIPPER_EMAIL"`
	ShipperNegotiatedRate bool `env:"SHIPPER_NEGOTIATED_RATE" envDefault:"false"`
}

// AdminEnabled returns true if the API key gate should be enforced.
func (c Config) AdminEnabled() bool { return c.APIKey != "" }

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetCarrierBackoffConfig returns backoff configuration appropriate for the
// current environment. Test environments use much shorter timeouts so the
// suite doesn't pay real carrier-style backoff delays.
func (c Config) GetCarrierBackoffConfig() (maxRetries int, initialInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return c.CarrierBackoffMaxRetries, 5 * time.Millisecond, c.CarrierBackoffMultiplier
	}
	return c.CarrierBackoffMaxRetries, c.CarrierBackoffInitialInterval, c.CarrierBackoffMultiplier
}

// InternationalLaneAllowed reports whether destCountryISO is enabled for
// international shipments; "*" in InternationalLanes enables all lanes.
func (c Config) InternationalLaneAllowed(destCountryISO string) bool {
	for _, lane := range strings.Split(c.InternationalLanes, ",") {
		lane = strings.TrimSpace(lane)
		if lane == "*" || strings.EqualFold(lane, destCountryISO) {
			return true
		}
	}
	return false
}
