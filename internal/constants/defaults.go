package constants

// Default server configuration values
const (
	DefaultServerPort            = 3000
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 30
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	MaxForwardRequestBytes       = 50 * 1024 * 1024
)

// Default forwarding pacing values
const (
	DefaultDestinationDelayMs = 1000
	DefaultMessageDelayMs     = 2000
	DefaultRestartSettleMs    = 2000
)

// Default storage values
const (
	DefaultDataDir            = "data"
	DefaultStorageBackend     = "file"
	DefaultSQLiteFile         = "whatsrelay.db"
	DefaultConfigFileName     = "forwarding.json"
	DefaultStatsFileName      = "stats.json"
	DefaultRetentionDays      = 30
	DefaultCleanupIntervalHrs = 24
	DefaultRetryBackoffMs     = 500
	DefaultMaxBackoffMs       = 5000
	DefaultMaxAttempts        = 5
	DefaultDatabaseRetries    = 3
)

// Default WhatsApp session values
const (
	DefaultSessionName            = "default"
	DefaultWhatsAppTimeoutMs      = 30000
	DefaultStatusPollSec          = 10
	DefaultSessionWaitTimeoutSec  = 60
	DefaultSessionRestartTimeout  = 30
	DefaultSessionPollIntervalMs  = 2000
	DefaultMonitorInitDelaySec    = 1
	MaxWAHAResponseBytes          = 1 << 20
	DefaultMonitorBreakerFailures = 5
	DefaultMonitorBreakerResetSec = 30
)

// Default notification values
const (
	DefaultSubscriberBufferSize = 64
	DefaultWebSocketWriteSec    = 10
)

// Default Kafka ingestion values
const (
	DefaultKafkaGroupID = "whatsrelay"
	DefaultKafkaTopic   = "channel.messages"
)

// Validation and privacy
const (
	MinPhoneNumberLength = 10
	MaxPhoneNumberLength = 20
	MaxMessageTextLength = 65536
	MaxMessageIDLength   = 256
	MaxChannelNameLength = 256
	MaxTemplateLength    = 4096
	MaxSessionNameLength = 64
)

// Encryption salts for data at rest in the sqlite store
const (
	EncryptionSalt       = "whatsrelay-state-v1"
	EncryptionLookupSalt = "whatsrelay-lookup-v1"
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)
