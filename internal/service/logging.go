package service

import (
	"context"

	"whatsrelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks a context as allowed to log unmasked identifiers
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	verbose, _ := ctx.Value(VerboseContextKey).(bool)
	return verbose
}

// SanitizeDestination masks a destination unless verbose logging is on
func SanitizeDestination(ctx context.Context, dest string) string {
	if IsVerboseLogging(ctx) {
		return dest
	}
	return privacy.MaskDestination(dest)
}

// SanitizeContent hides message content unless verbose logging is on
func SanitizeContent(ctx context.Context, content string) string {
	if content == "" {
		return ""
	}
	if IsVerboseLogging(ctx) {
		return content
	}
	return "[hidden]"
}

// messageFields returns the standard log fields describing a message
func messageFields(ctx context.Context, id, channel, externalID string) logrus.Fields {
	fields := logrus.Fields{LogFieldMessageID: id}
	if channel != "" {
		fields[LogFieldChannel] = channel
	}
	if externalID != "" {
		fields[LogFieldExternalID] = externalID
	}
	if IsVerboseLogging(ctx) {
		fields["verbose"] = true
	}
	return fields
}
