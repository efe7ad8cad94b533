package dto

import "net/http"

// Error code constants
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the user lacks the required capability
	ErrCodeForbidden = "ERR_FORBIDDEN"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Label workflow error codes mirror the workflow failure causes
const (
	// ErrCodePurchase is used when a label purchase fails
	ErrCodePurchase = "ERR_LABEL_PURCHASE"
	// ErrCodeStatus is used when a label status refresh fails
	ErrCodeStatus = "ERR_LABEL_STATUS"
	// ErrCodePrint is used when fetching a print document fails
	ErrCodePrint = "ERR_LABEL_PRINT"
	// ErrCodeRefund is used when a label refund fails
	ErrCodeRefund = "ERR_LABEL_REFUND"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:      http.StatusInternalServerError,
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeInvalidState: http.StatusConflict,

	// Carrier-side failures surface as 502: the request was well formed
	// but the upstream could not complete it
	ErrCodePurchase: http.StatusBadGateway,
	ErrCodeStatus:   http.StatusBadGateway,
	ErrCodePrint:    http.StatusBadGateway,
	ErrCodeRefund:   http.StatusBadGateway,
}

// GetHTTPStatus returns the HTTP status for an error code, defaulting
// to 500 for unknown codes
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
