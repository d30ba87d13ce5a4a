package models

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp" yaml:"whatsapp"`
	Forwarding ForwardingTuning `json:"forwarding" yaml:"forwarding"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int    `json:"port" yaml:"port"`
	ReadTimeoutSec int    `json:"readTimeoutSec" yaml:"readTimeoutSec"`
	WriteTimeout   int    `json:"writeTimeoutSec" yaml:"writeTimeoutSec"`
	IdleTimeoutSec int    `json:"idleTimeoutSec" yaml:"idleTimeoutSec"`
	AdminJWTSecret string `json:"adminJwtSecret" yaml:"adminJwtSecret"`
	ForwardSecret  string `json:"forwardSecret" yaml:"forwardSecret"`

	// AllowedOrigins are host patterns accepted for cross-origin websockets
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// WhatsAppConfig holds WAHA connection settings
type WhatsAppConfig struct {
	APIBaseURL       string `json:"api_base_url" yaml:"api_base_url"`
	APIKey           string `json:"api_key" yaml:"api_key"`
	SessionName      string `json:"session_name" yaml:"session_name"`
	TimeoutMs        int    `json:"timeout_ms" yaml:"timeout_ms"`
	StatusPollSec    int    `json:"statusPollSec" yaml:"statusPollSec"`
	AutoStartSession bool   `json:"autoStartSession" yaml:"autoStartSession"`
	WebhookSecret    string `json:"webhook_secret" yaml:"webhook_secret"`
}

// ForwardingTuning holds pacing and queue settings for the forwarding engine.
// The forwarding rules themselves (destinations, template, flags) live in the
// persisted ForwardingConfig record, not here.
type ForwardingTuning struct {
	DestinationDelayMs int    `json:"destinationDelayMs" yaml:"destinationDelayMs"`
	MessageDelayMs     int    `json:"messageDelayMs" yaml:"messageDelayMs"`
	MaxPendingMessages int    `json:"maxPendingMessages" yaml:"maxPendingMessages"`
	RestartSettleMs    int    `json:"restartSettleMs" yaml:"restartSettleMs"`
	Timezone           string `json:"timezone" yaml:"timezone"`
}

// StorageConfig selects and configures the state store
type StorageConfig struct {
	Backend              string `json:"backend" yaml:"backend"` // "file" or "sqlite"
	DataDir              string `json:"dataDir" yaml:"dataDir"`
	SQLitePath           string `json:"sqlitePath" yaml:"sqlitePath"`
	RetentionDays        int    `json:"retentionDays" yaml:"retentionDays"`
	CleanupIntervalHours int    `json:"cleanupIntervalHours" yaml:"cleanupIntervalHours"`
}

// IngestConfig holds optional message sources besides the HTTP endpoint
type IngestConfig struct {
	Kafka KafkaIngestConfig `json:"kafka" yaml:"kafka"`
}

// KafkaIngestConfig configures the Kafka consumer feeding the engine
type KafkaIngestConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"groupId" yaml:"groupId"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"serviceName" yaml:"serviceName"`
	ServiceVersion string  `json:"serviceVersion" yaml:"serviceVersion"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint" yaml:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate" yaml:"sampleRate"`
	UseStdout      bool    `json:"useStdout" yaml:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
