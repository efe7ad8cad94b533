package shipping

import "strings"

// ErrorCause classifies a label workflow failure
type ErrorCause string

// Workflow failure causes. Purchase and status failures are recoverable
// after a rates refresh; refund failures are not auto-retried.
const (
	CausePurchaseError ErrorCause = "purchase_error"
	CauseStatusError   ErrorCause = "status_error"
	CausePrintError    ErrorCause = "print_error"
	CauseRefundError   ErrorCause = "refund_error"
)

// LabelError is the error surfaced to callers for any label workflow
// failure. Message is a human-readable list; Actions carries recovery
// actions recommended by the failure payload, if any.
type LabelError struct {
	Cause   ErrorCause `json:"cause"`
	Message []string   `json:"message"`
	Actions []string   `json:"actions,omitempty"`
}

// Error implements the error interface
func (e *LabelError) Error() string {
	return string(e.Cause) + ": " + strings.Join(e.Message, "; ")
}

// NewLabelError creates a LabelError with the given cause and messages
func NewLabelError(cause ErrorCause, message ...string) *LabelError {
	return &LabelError{Cause: cause, Message: message}
}
