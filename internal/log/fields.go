package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldOperationID = "operation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Controller fields
	FieldThreadCount = "thread_count"
	FieldLimit       = "limit"
	FieldReason      = "reason"
	FieldConfidence  = "confidence"
)
