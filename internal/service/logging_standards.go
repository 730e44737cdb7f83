package service

// Logging Standards for wadispatch
//
// This file defines standard field names so that log lines from the
// registry, the lifecycle controller and the dispatcher can be joined on the
// same keys.

// Standard Field Names
const (
	// Core identifiers
	LogFieldSession   = "session"
	LogFieldAccountID = "account_id"
	LogFieldBatchID   = "batch_id"
	LogFieldMessageID = "message_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Lifecycle fields
	LogFieldEvent      = "event"
	LogFieldFromStatus = "from_status"
	LogFieldToStatus   = "to_status"
	LogFieldReason     = "reason"

	// Dispatch fields
	LogFieldDestination = "destination"
	LogFieldSentFrom    = "sent_from"
	LogFieldDeviceIndex = "device_index"
	LogFieldItemIndex   = "item_index"
	LogFieldDelay       = "delay_ms"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// HTTP
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldURL        = "url"
	LogFieldRoute      = "route"
	LogFieldStatusCode = "status_code"
	LogFieldSize       = "response_size"
	LogFieldUserAgent  = "user_agent"

	// Network
	LogFieldRemoteIP = "remote_ip"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Completed operations: "[Operation] completed"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
