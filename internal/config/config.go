package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Geocoder GeocoderConfig `yaml:"geocoder" mapstructure:"geocoder"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Quota    QuotaConfig    `yaml:"quota" mapstructure:"quota"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocoderConfig configures the Nominatim client and the shared limiter.
type GeocoderConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	ContactEmail string        `yaml:"contact_email" mapstructure:"contact_email"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BatchConfig configures the job engine.
type BatchConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	RowDelay          time.Duration `yaml:"row_delay" mapstructure:"row_delay"`
	PreviewRows       int           `yaml:"preview_rows" mapstructure:"preview_rows"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout" mapstructure:"notify_timeout"`
	RetryAttempts     int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int           `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// QuotaConfig configures monthly lookup limits. Limits override the policy
// file, which overrides the built-in defaults.
type QuotaConfig struct {
	PolicyFile     string         `yaml:"policy_file" mapstructure:"policy_file"`
	Limits         map[string]int `yaml:"limits" mapstructure:"limits"`
	TrackAnonymous bool           `yaml:"track_anonymous" mapstructure:"track_anonymous"`
}

// NotifyConfig configures completion notifications. Both sinks are optional.
type NotifyConfig struct {
	WebhookURL   string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	KafkaBrokers []string `yaml:"kafka_brokers" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic" mapstructure:"kafka_topic"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SMARTGEOCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("geocoder.base_url", "SMARTGEOCODE_GEOCODER_BASE_URL", "NOMINATIM_URL"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "smartgeocode.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "smartgeocode/1.0")
	v.SetDefault("geocoder.interval", "1s")
	v.SetDefault("geocoder.timeout", "10s")
	v.SetDefault("batch.max_concurrent_jobs", 4)
	v.SetDefault("batch.row_delay", "1s")
	v.SetDefault("batch.preview_rows", 50)
	v.SetDefault("batch.notify_timeout", "10s")
	v.SetDefault("batch.retry_attempts", 3)
	v.SetDefault("batch.retry_backoff_ms", 100)
	v.SetDefault("notify.kafka_topic", "geocode.jobs.completed")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of serve,
// batch, geocode or migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "batch", "geocode", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	if mode == "migrate" {
		return joinErrs(errs)
	}

	if c.Geocoder.BaseURL == "" {
		errs = append(errs, "geocoder.base_url is required")
	}
	if c.Geocoder.Interval < 0 {
		errs = append(errs, "geocoder.interval must be >= 0")
	}

	if mode == "serve" || mode == "batch" {
		if c.Batch.MaxConcurrentJobs < 1 || c.Batch.MaxConcurrentJobs > 64 {
			errs = append(errs, fmt.Sprintf("batch.max_concurrent_jobs must be between 1 and 64, got %d", c.Batch.MaxConcurrentJobs))
		}
		if c.Batch.RowDelay < 0 {
			errs = append(errs, "batch.row_delay must be >= 0")
		}
		for tier, limit := range c.Quota.Limits {
			if limit < 0 {
				errs = append(errs, fmt.Sprintf("quota.limits.%s must be >= 0", tier))
			}
		}
		if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
			errs = append(errs, "notify.kafka_topic is required when kafka_brokers is set")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
	}

	return joinErrs(errs)
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return eris.New("config: " + strings.Join(errs, "; "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
