package service

// Logging standards for WhatsRelay
//
// Standard field names, log levels and message patterns used across the
// application so log lines can be queried consistently.

// Standard Field Names
const (
	// Core identifiers
	LogFieldSession     = "session"
	LogFieldMessageID   = "message_id"
	LogFieldExternalID  = "external_id"
	LogFieldChannel     = "channel"
	LogFieldDestination = "destination"
	LogFieldContent     = "content"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Forwarding fields
	LogFieldEvent        = "event"
	LogFieldOutcome      = "outcome"
	LogFieldSignal       = "signal"
	LogFieldPending      = "pending"
	LogFieldDestinations = "destinations"
	LogFieldSucceeded    = "succeeded"
	LogFieldFailed       = "failed"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-destination send attempts, raw webhook payloads (sanitized), pacing waits.
// INFO:  startup/shutdown, readiness transitions, drains, config changes, delivered messages.
// WARN:  a destination failed, persistence failed (state kept in memory), a subscriber dropped events.
// ERROR: every destination failed, the transport reported an auth failure, a handler failed.
// FATAL: only in main, when startup cannot complete.

// Standard Log Message Patterns
//
// Starting operations:  "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations:    "Failed to [operation]"
// Skipping operations:  "Skipping [operation]: [reason]"
