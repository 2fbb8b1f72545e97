package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	// Clear environment
	os.Unsetenv("DD_API_KEY")
	os.Unsetenv("DD_APP_KEY")
	os.Unsetenv("GEMINI_API_KEY")
	os.Unsetenv("S3_BUCKET")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	// Check defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/cost-sentinel.db", cfg.Database.Path)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "datadog", cfg.Providers.Source)
	assert.Equal(t, "gemini-1.5-flash", cfg.Providers.Gemini.Model)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.RetryMaxDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv_WithEnvVars(t *testing.T) {
	os.Setenv("DD_API_KEY", "test-dd-key")
	os.Setenv("DD_APP_KEY", "test-dd-app")
	os.Setenv("S3_BUCKET", "cost-reports")
	os.Setenv("STORAGE_BACKEND", "s3")
	os.Setenv("SERVER_PORT", "9090")
	defer func() {
		os.Unsetenv("DD_API_KEY")
		os.Unsetenv("DD_APP_KEY")
		os.Unsetenv("S3_BUCKET")
		os.Unsetenv("STORAGE_BACKEND")
		os.Unsetenv("SERVER_PORT")
	}()

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "test-dd-key", cfg.Providers.Datadog.APIKey)
	assert.Equal(t, "test-dd-app", cfg.Providers.Datadog.AppKey)
	assert.Equal(t, "cost-reports", cfg.Storage.Bucket)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestConfig_Validate_DatadogMissingKeys(t *testing.T) {
	cfg := &Config{
		Storage:   StorageConfig{Backend: "local", Path: "./data"},
		Providers: ProvidersConfig{Source: "datadog"},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DD_API_KEY")
}

func TestConfig_Validate_DatadogDemoModeNeedsNoKeys(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "local", Path: "./data"},
		Providers: ProvidersConfig{
			Source:  "datadog",
			Datadog: DatadogConfig{DemoMode: true},
		},
	}

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_S3RequiresBucket(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "s3"},
		Providers: ProvidersConfig{
			Source:  "datadog",
			Datadog: DatadogConfig{DemoMode: true},
		},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestConfig_Validate_UnknownSource(t *testing.T) {
	cfg := &Config{
		Storage:   StorageConfig{Backend: "local", Path: "./data"},
		Providers: ProvidersConfig{Source: "stripe"},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cost source")
}

func TestConfig_Validate_SMTPRequiresHost(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "local", Path: "./data"},
		Providers: ProvidersConfig{
			Source:  "datadog",
			Datadog: DatadogConfig{DemoMode: true},
		},
		SMTP: SMTPConfig{Enabled: true, From: "reports@example.com"},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_HOST")
}

func TestConfig_Validate_Success(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "s3", Bucket: "cost-reports"},
		Providers: ProvidersConfig{
			Source:       "costexplorer",
			CostExplorer: CostExplorerConfig{Region: "us-east-1"},
		},
		SMTP: SMTPConfig{
			Enabled: true,
			Host:    "smtp.example.com",
			Port:    587,
			From:    "reports@example.com",
		},
	}

	assert.NoError(t, cfg.Validate())
}
