package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "IPO"

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	API       APIConfig       `yaml:"api" envconfig:"API"`
	EntityAPI APIConfig       `yaml:"entity_api" envconfig:"ENTITY_API"`
	Retry     RetryConfig     `yaml:"retry" envconfig:"RETRY"`
	Collector CollectorConfig `yaml:"collector" envconfig:"COLLECTOR"`
	Cache     CacheConfig     `yaml:"cache" envconfig:"CACHE"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Sheets    SheetsConfig    `yaml:"sheets" envconfig:"SHEETS"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system locations. Relative entries other than
// DataDir are resolved against DataDir.
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR"`
	CacheDir       string `yaml:"cache_dir" envconfig:"CACHE_DIR"`
	CheckpointFile string `yaml:"checkpoint_file" envconfig:"CHECKPOINT_FILE"`
	LastRunFile    string `yaml:"last_run_file" envconfig:"LAST_RUN_FILE"`
	OutputDir      string `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
}

// APIConfig describes the upstream market data API
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"BASE_URL"`
	AuthURL     string        `yaml:"auth_url" envconfig:"AUTH_URL"`
	AppKey      string        `yaml:"app_key" envconfig:"APP_KEY"`
	AppSecret   string        `yaml:"app_secret" envconfig:"APP_SECRET"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	DailyQuota  int           `yaml:"daily_quota" envconfig:"DAILY_QUOTA"`
	QuotaWarnAt float64       `yaml:"quota_warn_at" envconfig:"QUOTA_WARN_AT"`
	MinInterval time.Duration `yaml:"min_interval" envconfig:"MIN_INTERVAL"`
}

// RetryConfig controls backoff for transient upstream failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
}

// Collection modes
const (
	// ModeSnapshot fetches one whole-market snapshot per trading day
	ModeSnapshot = "snapshot"
	// ModeEntity fetches one daily bar per listing and trading day from EntityAPI
	ModeEntity = "entity"
)

// CollectorConfig contains batch collection settings
type CollectorConfig struct {
	JobName            string `yaml:"job_name" envconfig:"JOB_NAME"`
	CheckpointInterval int    `yaml:"checkpoint_interval" envconfig:"CHECKPOINT_INTERVAL"`
	Mode               string `yaml:"mode" envconfig:"MODE"`
	// DefaultStart is the first day collected when a job has never run (YYYY-MM-DD).
	// Empty means January 1st two years before today.
	DefaultStart string `yaml:"default_start" envconfig:"DEFAULT_START"`
}

// CacheConfig selects the response cache backend
type CacheConfig struct {
	Backend    string `yaml:"backend" envconfig:"BACKEND"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

// SchedulerConfig controls the recurring run loop in serve mode
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	// Retention is how long finished runs stay visible over the API
	Retention time.Duration `yaml:"retention" envconfig:"RETENTION"`
}

// ExportConfig controls the tabular output written after reassembly
type ExportConfig struct {
	Format   string `yaml:"format" envconfig:"FORMAT"`
	BaseName string `yaml:"base_name" envconfig:"BASE_NAME"`
	BOM      bool   `yaml:"bom" envconfig:"BOM"`
	// Append adds each run's rows to the existing files instead of replacing them
	Append bool `yaml:"append" envconfig:"APPEND"`
}

// SheetsConfig contains Google Sheets publishing settings
type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"ENABLED"`
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	SheetName       string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RateLimit caps API requests per second; zero disables limiting
	RateLimit      float64  `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// TelemetryConfig toggles OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/collector.log",
		},
		Paths: PathsConfig{
			DataDir:        "data",
			CacheDir:       "cache",
			CheckpointFile: "checkpoint.json",
			LastRunFile:    ".last_run.json",
			OutputDir:      "output",
		},
		API: APIConfig{
			BaseURL:     "https://data-dbg.krx.co.kr/svc/apis/sto",
			Timeout:     30 * time.Second,
			DailyQuota:  10000,
			QuotaWarnAt: 0.9,
			MinInterval: time.Second,
		},
		EntityAPI: APIConfig{
			BaseURL:     "https://openapi.koreainvestment.com:9443",
			AuthURL:     "https://openapi.koreainvestment.com:9443/oauth2/tokenP",
			Timeout:     30 * time.Second,
			DailyQuota:  10000,
			QuotaWarnAt: 0.9,
			MinInterval: time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		Collector: CollectorConfig{
			JobName:            "ipo_prices",
			CheckpointInterval: 10,
			Mode:               ModeSnapshot,
		},
		Cache: CacheConfig{
			Backend:    "file",
			SQLitePath: "cache.db",
		},
		Scheduler: SchedulerConfig{
			Interval:  24 * time.Hour,
			Retention: 24 * time.Hour,
		},
		Export: ExportConfig{
			Format:   "csv",
			BaseName: "ipo_prices",
			BOM:      true,
			Append:   true,
		},
		Sheets: SheetsConfig{
			SheetName:       "IPO",
			CredentialsFile: "credentials.json",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       20,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "ipo-collector",
			MetricsEnabled: true,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// IPO_CONFIG_FILE (or ./config.yaml), and IPO_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the path to the config file, or "" if none exists
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_FILE"); p != "" {
		return p
	}
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api base url is required")
	}
	if c.API.DailyQuota <= 0 {
		return fmt.Errorf("api daily quota must be positive: %d", c.API.DailyQuota)
	}
	if c.API.MinInterval < 0 {
		return fmt.Errorf("api min interval must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1: %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry base delay %s exceeds max delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Collector.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint interval must be at least 1: %d", c.Collector.CheckpointInterval)
	}
	if c.Collector.JobName == "" {
		return fmt.Errorf("collector job name is required")
	}
	switch c.Collector.Mode {
	case ModeSnapshot:
	case ModeEntity:
		if strings.TrimSpace(c.EntityAPI.BaseURL) == "" {
			return fmt.Errorf("entity api base url is required in %s mode", ModeEntity)
		}
		if c.EntityAPI.DailyQuota <= 0 {
			return fmt.Errorf("entity api daily quota must be positive: %d", c.EntityAPI.DailyQuota)
		}
		if c.EntityAPI.MinInterval < 0 {
			return fmt.Errorf("entity api min interval must not be negative")
		}
	default:
		return fmt.Errorf("unknown collector mode %q", c.Collector.Mode)
	}
	if c.Collector.DefaultStart != "" {
		if _, err := time.Parse("2006-01-02", c.Collector.DefaultStart); err != nil {
			return fmt.Errorf("invalid collector default start %q: %w", c.Collector.DefaultStart, err)
		}
	}

	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	switch c.Export.Format {
	case "csv", "xlsx", "both":
	default:
		return fmt.Errorf("unknown export format %q", c.Export.Format)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	if c.Sheets.Enabled && c.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("sheets publishing enabled without a spreadsheet id")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rate limit must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive when enabled")
	}

	return nil
}

// DefaultStartDate returns the configured first collection day, or January 1st
// two years before now.
func (c *Config) DefaultStartDate(now time.Time) time.Time {
	if c.Collector.DefaultStart != "" {
		if t, err := time.ParseInLocation("2006-01-02", c.Collector.DefaultStart, now.Location()); err == nil {
			return t
		}
	}
	return time.Date(now.Year()-2, time.January, 1, 0, 0, 0, 0, now.Location())
}
