package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by an AppError
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}
	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// LogError logs an error with its structured context at error level
func LogError(logger logrus.FieldLogger, err error, message string, extra ...logrus.Fields) {
	entry(logger, err, extra).Error(message)
}

// LogWarn logs an error with its structured context at warn level
func LogWarn(logger logrus.FieldLogger, err error, message string, extra ...logrus.Fields) {
	entry(logger, err, extra).Warn(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func LogRetryableError(logger logrus.FieldLogger, err error, message string, extra ...logrus.Fields) {
	if IsRetryable(err) {
		LogWarn(logger, err, message, extra...)
		return
	}
	LogError(logger, err, message, extra...)
}

func entry(logger logrus.FieldLogger, err error, extra []logrus.Fields) *logrus.Entry {
	e := logger.WithError(err).WithFields(Fields(err))
	for _, f := range extra {
		e = e.WithFields(f)
	}
	return e
}
