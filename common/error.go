package common

import "fmt"

// Machine-readable error codes surfaced at the API boundary.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeTimeout       = "TIMEOUT"
	CodeInternal      = "INTERNAL"
)

type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, code, format string, args ...any) APIError {
	return APIError{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, code, message, and optional fields
func NewAPIError(status int, code, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Code:    code,
		Message: message,
		Fields:  fields,
	}
}
