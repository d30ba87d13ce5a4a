package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/retry"
)

// dbRetryConfig is the backoff used for writes hitting a busy database
func dbRetryConfig() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  constants.DefaultDatabaseRetries,
		Jitter:       true,
	}
}

// retryableDBOperation runs operation, retrying transient sqlite errors
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	err := retry.NewBackoff(dbRetryConfig()).RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, constants.DefaultDatabaseRetries, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "database is locked"),
		strings.Contains(errStr, "database table is locked"),
		strings.Contains(errStr, "disk I/O error"):
		return true
	case strings.Contains(errStr, "UNIQUE constraint"),
		strings.Contains(errStr, "CHECK constraint"),
		strings.Contains(errStr, "no such table"),
		strings.Contains(errStr, "no such column"):
		return false
	}
	return false
}
