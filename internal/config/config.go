package config

import (
	"encoding/json"
	"fmt"
	"os"

	"wadesk/internal/constants"
	"wadesk/internal/models"
	"wadesk/internal/security"
)

// LoadConfig reads the JSON config file, layers environment overrides on
// top, fills defaults, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets secrets and deployment-specific values come from the
// environment instead of the config file.
func applyEnvOverrides(cfg *models.Config) {
	if v := os.Getenv("WADESK_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("WADESK_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("WADESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WADESK_AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("WADESK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *models.Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = constants.DefaultServerPort
	}
	if cfg.Server.ReadTimeoutSec <= 0 {
		cfg.Server.ReadTimeoutSec = constants.DefaultReadTimeoutSec
	}
	if cfg.Server.WriteTimeoutSec <= 0 {
		cfg.Server.WriteTimeoutSec = constants.DefaultWriteTimeoutSec
	}
	if cfg.Gateway.TimeoutSec <= 0 {
		cfg.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if cfg.Gateway.RetryCount <= 0 {
		cfg.Gateway.RetryCount = constants.DefaultGatewayRetryCount
	}
	if cfg.Monitor.IntervalSec <= 0 {
		cfg.Monitor.IntervalSec = constants.DefaultMonitorIntervalSec
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "wadesk"
	}
	if cfg.Tracing.SampleRate <= 0 {
		cfg.Tracing.SampleRate = 0.1
	}
}

// IsProduction reports whether the process runs with production hardening
// requirements.
func IsProduction() bool {
	return os.Getenv("WADESK_ENV") == "production"
}

// Validate checks structural requirements plus the production-only rules.
func Validate(cfg *models.Config) error {
	if cfg.Database.Path == "" {
		return models.ConfigError{Message: "database.path is required"}
	}
	if cfg.Gateway.BaseURL == "" {
		return models.ConfigError{Message: "gateway.baseUrl is required"}
	}
	if cfg.AMQP.Enabled {
		if cfg.AMQP.URL == "" {
			return models.ConfigError{Message: "amqp.url is required when amqp is enabled"}
		}
		if cfg.AMQP.Exchange == "" {
			return models.ConfigError{Message: "amqp.exchange is required when amqp is enabled"}
		}
	}

	if IsProduction() {
		if cfg.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "server.webhookSecret is required in production (set WADESK_WEBHOOK_SECRET)"}
		}
		if cfg.Gateway.APIKey == "" {
			return models.ConfigError{Message: "gateway.apiKey is required in production (set WADESK_GATEWAY_API_KEY)"}
		}
	}
	return nil
}
