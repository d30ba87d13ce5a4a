package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewPersistenceError wraps a failed save or load of persisted state
func NewPersistenceError(record string, err error) *AppError {
	return Wrap(err, ErrCodePersistence, fmt.Sprintf("failed to persist %s", record)).
		WithContext("record", record).
		WithUserMessage("Changes applied but could not be saved")
}

// NewStartupError wraps a failure that prevents the service from starting
func NewStartupError(step string, err error) *AppError {
	return Wrap(err, ErrCodeStartup, fmt.Sprintf("startup failed: %s", step)).
		WithContext("step", step)
}

// NewTransportUnavailableError is used when no send can be attempted
func NewTransportUnavailableError(reason string) *AppError {
	return New(ErrCodeTransportUnavailable, reason).
		WithUserMessage("WhatsApp is not ready")
}

// NewSendError creates a per-destination send failure. Server side and
// throttling status codes are marked retryable.
func NewSendError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeTransportSend, "whatsapp API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		appErr.Retryable = true
	}
	return appErr
}

// NewAuthFailureError reports a rejected transport session
func NewAuthFailureError(reason string) *AppError {
	return New(ErrCodeAuthFailure, "transport authentication failed").
		WithContext("reason", reason).
		WithUserMessage("WhatsApp authentication failed")
}

// NewAuthError creates an API authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeTransportUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTransportSend, ErrCodeAuthFailure:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body written for failed API requests
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "token" && k != "secret" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}
	return response
}
