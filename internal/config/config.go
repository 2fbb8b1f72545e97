package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Providers ProvidersConfig `mapstructure:"providers"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds the run-record database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the object store backend
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "s3" or "local"
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
	Path    string `mapstructure:"path"` // local backend root
}

// ProvidersConfig holds configuration for cost and AI providers
type ProvidersConfig struct {
	Source       string             `mapstructure:"source"` // "datadog" or "costexplorer"
	Datadog      DatadogConfig      `mapstructure:"datadog"`
	CostExplorer CostExplorerConfig `mapstructure:"costexplorer"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
}

// DatadogConfig holds Datadog Cloud Cost API credentials
type DatadogConfig struct {
	APIKey   string `mapstructure:"api_key"`
	AppKey   string `mapstructure:"app_key"`
	DemoMode bool   `mapstructure:"demo_mode"` // serve synthetic data without credentials
}

// CostExplorerConfig holds AWS Cost Explorer configuration
type CostExplorerConfig struct {
	Region string `mapstructure:"region"`
}

// GeminiConfig holds the AI narrative provider configuration
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// SMTPConfig holds email delivery configuration
type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// PipelineConfig holds run execution configuration
type PipelineConfig struct {
	Workers          int           `mapstructure:"workers"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	AITimeout        time.Duration `mapstructure:"ai_timeout"`
	AIRatePerSecond  float64       `mapstructure:"ai_rate_per_second"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.path", "./data/cost-sentinel.db")

	// Storage defaults
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.path", "./data/objects")

	// Provider defaults
	v.SetDefault("providers.source", "datadog")
	v.SetDefault("providers.datadog.demo_mode", false)
	v.SetDefault("providers.costexplorer.region", "us-east-1")
	v.SetDefault("providers.gemini.model", "gemini-1.5-flash")

	// SMTP defaults
	v.SetDefault("smtp.enabled", true)
	v.SetDefault("smtp.port", 587)

	// Pipeline defaults
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay", 2*time.Second)
	v.SetDefault("pipeline.retry_max_delay", 30*time.Second)
	v.SetDefault("pipeline.scheduler_enabled", true)
	v.SetDefault("pipeline.ai_timeout", 30*time.Second)
	v.SetDefault("pipeline.ai_rate_per_second", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Provider credentials from environment
	bindEnv("providers.datadog.api_key", "DD_API_KEY")
	bindEnv("providers.datadog.app_key", "DD_APP_KEY")
	bindEnv("providers.datadog.demo_mode", "DD_DEMO_MODE")
	bindEnv("providers.gemini.api_key", "GEMINI_API_KEY")
	bindEnv("providers.costexplorer.region", "AWS_REGION")

	// Storage
	bindEnv("storage.backend", "STORAGE_BACKEND")
	bindEnv("storage.bucket", "S3_BUCKET")
	bindEnv("storage.region", "AWS_REGION")
	bindEnv("storage.path", "STORAGE_PATH")

	// SMTP credentials
	bindEnv("smtp.host", "SMTP_HOST")
	bindEnv("smtp.port", "SMTP_PORT")
	bindEnv("smtp.username", "SMTP_USERNAME")
	bindEnv("smtp.password", "SMTP_PASSWORD")
	bindEnv("smtp.from", "SMTP_FROM")

	// Database path
	bindEnv("database.path", "DATABASE_PATH")

	// Server config
	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when storage backend is s3")
		}
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required when storage backend is local")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want s3 or local)", c.Storage.Backend)
	}

	switch c.Providers.Source {
	case "datadog":
		if !c.Providers.Datadog.DemoMode &&
			(c.Providers.Datadog.APIKey == "" || c.Providers.Datadog.AppKey == "") {
			return fmt.Errorf("DD_API_KEY and DD_APP_KEY are required when the datadog source is enabled without demo mode")
		}
	case "costexplorer":
		if c.Providers.CostExplorer.Region == "" {
			return fmt.Errorf("AWS_REGION is required when the costexplorer source is enabled")
		}
	default:
		return fmt.Errorf("unknown cost source %q (want datadog or costexplorer)", c.Providers.Source)
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when smtp is enabled")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("SMTP_FROM is required when smtp is enabled")
		}
	}

	return nil
}
