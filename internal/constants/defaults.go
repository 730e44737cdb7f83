package constants

// Default account policy values, applied when an account is created without
// explicit limits.
const (
	DefaultDeviceLimit              = 1
	DefaultDailyLimit               = 1000
	DefaultMessagesPerDevice        = 30
	DefaultDeviceSwitchDelaySeconds = 60
	DefaultAccountValidityDays      = 30
)

// Default dispatch pacing
const (
	DefaultSendTimeoutSec  = 30
	DefaultMinJitterSec    = 4
	DefaultMaxJitterSec    = 10
	DefaultQuotaTimezone   = "Local"
	DefaultRecentLogsLimit = 100
	MaxBulkDestinations    = 5000
	MaxMessageLength       = 4096
	MinPhoneNumberLength   = 7
	MaxPhoneNumberLength   = 15
	MaxSessionIDLength     = 64
	MaxAccountNameLength   = 128
)

// Default retention values
const (
	DefaultRetentionDays     = 30
	DefaultRetentionSchedule = "@daily"
)

// Default retry and database values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseBackoffMs      = 100
	DefaultDatabaseMaxBackoffMs   = 2000
	DefaultSessionsDir            = "sessions"
	DefaultDatabasePath           = "wadispatch.db"
	DefaultSessionRestoreDelaySec = 2
)

// Default server values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultHealthCheckTimeoutSec = 3
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 1 << 20
)

// Realtime notification values
const (
	DefaultSubscriberBufferSize = 32
	DefaultWebsocketWriteSec    = 10
	DefaultWebsocketPingSec     = 30
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)
