package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/models"
	"whatsrelay/internal/security"
	"whatsrelay/internal/validation"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingWhatsAppURL = models.ConfigError{Message: "missing WhatsApp API URL"}
	ErrMissingDataDir     = models.ConfigError{Message: "missing data directory"}
	ErrInvalidBackend     = models.ConfigError{Message: "storage backend must be \"file\" or \"sqlite\""}
	ErrMissingKafkaBroker = models.ConfigError{Message: "kafka ingestion enabled without brokers"}
)

// LoadConfig reads a JSON or YAML configuration file (chosen by extension),
// applies defaults and environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.WhatsApp.APIBaseURL == "" {
		return ErrMissingWhatsAppURL
	}
	if c.WhatsApp.SessionName == "" {
		c.WhatsApp.SessionName = constants.DefaultSessionName
	}
	if err := validation.ValidateSessionName(c.WhatsApp.SessionName); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid whatsapp session name: %v", err)}
	}
	if c.WhatsApp.TimeoutMs <= 0 {
		c.WhatsApp.TimeoutMs = constants.DefaultWhatsAppTimeoutMs
	}
	if c.WhatsApp.StatusPollSec <= 0 {
		c.WhatsApp.StatusPollSec = constants.DefaultStatusPollSec
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	// Negative delays make no sense; zero is allowed and disables pacing
	if c.Forwarding.DestinationDelayMs < 0 || c.Forwarding.MessageDelayMs < 0 {
		return models.ConfigError{Message: "forwarding delays cannot be negative"}
	}
	if c.Forwarding.DestinationDelayMs == 0 {
		c.Forwarding.DestinationDelayMs = constants.DefaultDestinationDelayMs
	}
	if c.Forwarding.MessageDelayMs == 0 {
		c.Forwarding.MessageDelayMs = constants.DefaultMessageDelayMs
	}
	if c.Forwarding.MaxPendingMessages < 0 {
		return models.ConfigError{Message: "maxPendingMessages cannot be negative"}
	}
	if c.Forwarding.RestartSettleMs <= 0 {
		c.Forwarding.RestartSettleMs = constants.DefaultRestartSettleMs
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = constants.DefaultStorageBackend
	}
	if c.Storage.Backend != "file" && c.Storage.Backend != "sqlite" {
		return ErrInvalidBackend
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = constants.DefaultDataDir
	}
	if err := security.ValidateFilePath(c.Storage.DataDir); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid data directory: %v", err)}
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, constants.DefaultSQLiteFile)
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Storage.CleanupIntervalHours <= 0 {
		c.Storage.CleanupIntervalHours = constants.DefaultCleanupIntervalHrs
	}

	if c.Ingest.Kafka.Enabled {
		if len(c.Ingest.Kafka.Brokers) == 0 {
			return ErrMissingKafkaBroker
		}
		if c.Ingest.Kafka.Topic == "" {
			c.Ingest.Kafka.Topic = constants.DefaultKafkaTopic
		}
		if c.Ingest.Kafka.GroupID == "" {
			c.Ingest.Kafka.GroupID = constants.DefaultKafkaGroupID
		}
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "whatsrelay"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		c.WhatsApp.APIBaseURL = url
	}
	if key := os.Getenv("WHATSAPP_API_KEY"); key != "" {
		c.WhatsApp.APIKey = key
	}
	if session := os.Getenv("WHATSAPP_SESSION_NAME"); session != "" {
		c.WhatsApp.SessionName = session
	}

	// SECURITY: secrets should be set via environment variables
	if secret := os.Getenv("WHATSAPP_WEBHOOK_SECRET"); secret != "" {
		c.WhatsApp.WebhookSecret = secret
	}
	if secret := os.Getenv("WHATSRELAY_ADMIN_JWT_SECRET"); secret != "" {
		c.Server.AdminJWTSecret = secret
	}
	if secret := os.Getenv("WHATSRELAY_FORWARD_SECRET"); secret != "" {
		c.Server.ForwardSecret = secret
	}

	if dir := os.Getenv("WHATSRELAY_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Ingest.Kafka.Brokers = splitList(brokers)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("WHATSRELAY_ENV") == "production"

	if !isProduction {
		if c.Server.AdminJWTSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: admin JWT secret not set. Config and restart endpoints are unauthenticated. Set WHATSRELAY_ADMIN_JWT_SECRET.\n")
		}
		return nil
	}

	if c.Server.AdminJWTSecret == "" {
		return models.ConfigError{Message: "admin JWT secret is required in production (set WHATSRELAY_ADMIN_JWT_SECRET environment variable)"}
	}
	if len(c.Server.AdminJWTSecret) < 32 {
		return models.ConfigError{Message: "admin JWT secret must be at least 32 characters long"}
	}
	if c.WhatsApp.WebhookSecret != "" && len(c.WhatsApp.WebhookSecret) < 32 {
		return models.ConfigError{Message: "WhatsApp webhook secret must be at least 32 characters long"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
