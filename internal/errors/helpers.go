package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAuthError creates an authentication/authorization error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewForbiddenError is returned when an authenticated caller may not use a resource.
func NewForbiddenError(reason string) *AppError {
	return New(ErrCodeAuthorization, reason).
		WithUserMessage(reason)
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeRateLimit, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// NewDeviceLimitError is returned when an account already owns deviceLimit devices.
func NewDeviceLimitError(limit int) *AppError {
	return New(ErrCodeDeviceLimitReached, "device limit reached").
		WithContext("device_limit", limit).
		WithUserMessage(fmt.Sprintf("Device limit reached (%d)", limit))
}

// NewQuotaExceededError is returned when a reservation would overrun the daily limit.
func NewQuotaExceededError(requested, remaining int) *AppError {
	return New(ErrCodeQuotaExceeded, "daily quota exceeded").
		WithContext("requested", requested).
		WithContext("remaining", remaining).
		WithUserMessage("Daily SMS limit exceeded")
}

// NewNoActiveDeviceError is returned when an account has no device in the ready state.
func NewNoActiveDeviceError() *AppError {
	return New(ErrCodeNoActiveDevice, "no active device").
		WithUserMessage("No active device found")
}

// NewClientUnavailableError is returned when a device is ready in the store but
// has no live client in the registry.
func NewClientUnavailableError(sessionID string) *AppError {
	return New(ErrCodeClientUnavailable, "client not available").
		WithContext("session_id", sessionID).
		WithUserMessage("WhatsApp client not available")
}

// NewSendTimeoutError is returned when a provider send did not resolve in time.
func NewSendTimeoutError(timeout string) *AppError {
	return New(ErrCodeSendTimeout, "send timed out").
		WithContext("timeout", timeout).
		WithUserMessage("Message sending timed out")
}

// NewProviderError wraps a failure reported by the messaging provider.
func NewProviderError(err error) *AppError {
	return Wrap(err, ErrCodeProvider, "provider send failed").
		WithUserMessage(fmt.Sprintf("Failed to send message: %v", err))
}

// NewShuttingDownError is returned for work submitted after shutdown began.
func NewShuttingDownError() *AppError {
	return New(ErrCodeShuttingDown, "service is shutting down").
		WithUserMessage("Service is shutting down, please retry later")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization, ErrCodeDeviceLimitReached:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeNoActiveDevice:
		return http.StatusConflict
	case ErrCodeRateLimit, ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeSendTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeProvider:
		return http.StatusBadGateway
	case ErrCodeClientUnavailable, ErrCodeShuttingDown:
		return http.StatusServiceUnavailable
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Success bool `json:"success"`
	Error   struct {
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

	if appErr, ok := asAppError(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			// Only include non-sensitive context in HTTP responses
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "token" && k != "secret" && k != "api_key" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
