package models

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Accounts  AccountDefaults `json:"accounts"`
	Retention RetentionConfig `json:"retention"`
	Retry     RetryConfig     `json:"retry"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level" env:"WADISPATCH_LOG_LEVEL"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int    `json:"port" env:"PORT"`
	ReadTimeoutSec  int    `json:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
	AdminToken      string `json:"adminToken" env:"WADISPATCH_ADMIN_TOKEN"`
	// DebugHTTP logs masked request and response bodies at debug level.
	DebugHTTP bool `json:"debugHttp" env:"WADISPATCH_DEBUG_HTTP"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" env:"WADISPATCH_DB_PATH"`
}

// WhatsAppConfig controls where provider credentials live and whether
// previously paired sessions are brought back at startup.
type WhatsAppConfig struct {
	SessionsDir      string `json:"sessionsDir" env:"WADISPATCH_SESSIONS_DIR"`
	RestoreOnStartup bool   `json:"restoreOnStartup" env:"WADISPATCH_RESTORE_SESSIONS"`
}

// DispatchConfig holds pacing for outbound sends. It is hot-reloadable.
type DispatchConfig struct {
	SendTimeoutSec int     `json:"sendTimeoutSec" env:"WADISPATCH_SEND_TIMEOUT_SEC"`
	MinJitterSec   int     `json:"minJitterSec"`
	MaxJitterSec   int     `json:"maxJitterSec"`
	SendRatePerSec float64 `json:"sendRatePerSec" env:"WADISPATCH_SEND_RATE"`
	QuotaTimezone  string  `json:"quotaTimezone" env:"WADISPATCH_QUOTA_TZ"`
}

// AccountDefaults seed newly created accounts.
type AccountDefaults struct {
	DeviceLimit              int `json:"deviceLimit"`
	DailyLimit               int `json:"dailyLimit"`
	MessagesPerDevice        int `json:"messagesPerDevice"`
	DeviceSwitchDelaySeconds int `json:"deviceSwitchDelaySeconds"`
	ValidityDays             int `json:"validityDays"`
}

// RetentionConfig controls message log purging
type RetentionConfig struct {
	Days     int    `json:"days" env:"WADISPATCH_RETENTION_DAYS"`
	Schedule string `json:"schedule"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" env:"WADISPATCH_TRACING_ENABLED"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment" env:"WADISPATCH_ENV"`
	OTLPEndpoint   string  `json:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	SampleRate     float64 `json:"sampleRate"`
	UseConsole     bool    `json:"useConsole"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
