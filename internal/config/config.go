package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/models"
	"wadispatch/internal/retry"
	"wadispatch/internal/security"
	"wadispatch/internal/service"
	"wadispatch/internal/validation"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingSessionsDir = models.ConfigError{Message: "missing WhatsApp sessions directory"}
)

const minProductionAdminTokenLength = 24

// LoadConfig reads the JSON file at path, fills defaults, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}
	return Parse(file)
}

// Parse builds a config from raw JSON. Fields absent from the document keep
// their defaults; environment variables override both.
func Parse(data []byte) (*models.Config, error) {
	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	if err := validateSecurity(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the configuration used for every field the file omits.
func Default() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{
			Port:            constants.DefaultServerPort,
			ReadTimeoutSec:  constants.DefaultServerReadTimeoutSec,
			WriteTimeoutSec: constants.DefaultServerWriteTimeoutSec,
			IdleTimeoutSec:  constants.DefaultServerIdleTimeoutSec,
		},
		Database: models.DatabaseConfig{Path: constants.DefaultDatabasePath},
		WhatsApp: models.WhatsAppConfig{
			SessionsDir:      constants.DefaultSessionsDir,
			RestoreOnStartup: true,
		},
		Dispatch: models.DispatchConfig{
			SendTimeoutSec: constants.DefaultSendTimeoutSec,
			MinJitterSec:   constants.DefaultMinJitterSec,
			MaxJitterSec:   constants.DefaultMaxJitterSec,
			QuotaTimezone:  constants.DefaultQuotaTimezone,
		},
		Accounts: models.AccountDefaults{
			DeviceLimit:              constants.DefaultDeviceLimit,
			DailyLimit:               constants.DefaultDailyLimit,
			MessagesPerDevice:        constants.DefaultMessagesPerDevice,
			DeviceSwitchDelaySeconds: constants.DefaultDeviceSwitchDelaySeconds,
			ValidityDays:             constants.DefaultAccountValidityDays,
		},
		Retention: models.RetentionConfig{
			Days:     constants.DefaultRetentionDays,
			Schedule: constants.DefaultRetentionSchedule,
		},
		Retry: models.RetryConfig{
			InitialBackoffMs: constants.DefaultRetryBackoffMs,
			MaxBackoffMs:     constants.DefaultMaxBackoffMs,
			MaxAttempts:      constants.DefaultMaxAttempts,
		},
		Tracing: models.TracingConfig{
			ServiceName: "wadispatch",
			SampleRate:  0.1,
			UseConsole:  true,
		},
		LogLevel: "info",
	}
}

func validate(c *models.Config) error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("server port out of range: %d", c.Server.Port)}
	}
	for name, v := range map[string]int{
		"server.readTimeoutSec":  c.Server.ReadTimeoutSec,
		"server.writeTimeoutSec": c.Server.WriteTimeoutSec,
		"server.idleTimeoutSec":  c.Server.IdleTimeoutSec,
	} {
		if err := validation.ValidateTimeout(v, name); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if strings.TrimSpace(c.WhatsApp.SessionsDir) == "" {
		return ErrMissingSessionsDir
	}

	if err := validateDispatch(c.Dispatch); err != nil {
		return err
	}

	a := c.Accounts
	if a.DeviceLimit < 0 || a.DailyLimit < 0 || a.MessagesPerDevice < 0 ||
		a.DeviceSwitchDelaySeconds < 0 || a.ValidityDays < 0 {
		return models.ConfigError{Message: "account defaults must not be negative"}
	}

	if err := validation.ValidateRetentionDays(c.Retention.Days); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := service.ValidateSchedule(c.Retention.Schedule); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid retention schedule %q: %v", c.Retention.Schedule, err)}
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.InitialBackoffMs < 1 || c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry settings must be positive with maxBackoffMs >= initialBackoffMs"}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log level: %s", c.LogLevel)}
	}
	return nil
}

func validateDispatch(d models.DispatchConfig) error {
	if d.SendTimeoutSec < 1 {
		return models.ConfigError{Message: "dispatch.sendTimeoutSec must be at least 1"}
	}
	if d.MinJitterSec < 0 || d.MaxJitterSec < d.MinJitterSec {
		return models.ConfigError{Message: "dispatch jitter must satisfy 0 <= minJitterSec <= maxJitterSec"}
	}
	if d.SendRatePerSec < 0 {
		return models.ConfigError{Message: "dispatch.sendRatePerSec must not be negative"}
	}
	if _, err := QuotaLocation(d); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid quota timezone %q: %v", d.QuotaTimezone, err)}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Tracing.Environment == "production" {
		if len(c.Server.AdminToken) < minProductionAdminTokenLength {
			return models.ConfigError{Message: fmt.Sprintf(
				"admin token must be at least %d characters in production (set WADISPATCH_ADMIN_TOKEN)",
				minProductionAdminTokenLength)}
		}
		if c.LogLevel == "debug" || c.Server.DebugHTTP {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		return nil
	}

	if c.Server.AdminToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: admin token not set. The admin API is disabled until WADISPATCH_ADMIN_TOKEN is set.\n")
	}
	return nil
}

// QuotaLocation resolves the time zone that defines a quota day.
func QuotaLocation(d models.DispatchConfig) (*time.Location, error) {
	switch d.QuotaTimezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(d.QuotaTimezone)
	}
}

// DispatchPacing converts the dispatch section into dispatcher pacing.
func DispatchPacing(d models.DispatchConfig) service.Pacing {
	return service.Pacing{
		SendTimeout:    time.Duration(d.SendTimeoutSec) * time.Second,
		MinJitter:      time.Duration(d.MinJitterSec) * time.Second,
		MaxJitter:      time.Duration(d.MaxJitterSec) * time.Second,
		SendRatePerSec: d.SendRatePerSec,
	}
}

// StartupRetryPolicy converts the retry section into a backoff policy.
func StartupRetryPolicy(r models.RetryConfig) retry.Policy {
	return retry.Policy{
		InitialDelay: time.Duration(r.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  r.MaxAttempts,
		Jitter:       0.25,
	}
}
