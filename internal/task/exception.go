package task

import "fmt"

// ExceptionKind classifies why a task failed (spec.md §7).
type ExceptionKind string

const (
	ExceptionGeneral      ExceptionKind = "general"
	ExceptionFileSystem   ExceptionKind = "file_system"
	ExceptionURL          ExceptionKind = "url"
	ExceptionConnection   ExceptionKind = "connection"
	ExceptionResume       ExceptionKind = "resume"
	ExceptionHTTPResponse ExceptionKind = "http_response"
)

// Exception describes a terminal failure. It implements error so it
// composes with errors.Is/errors.As and with fmt.Errorf's %w verb.
type Exception struct {
	Kind             ExceptionKind `json:"kind"`
	HTTPResponseCode int           `json:"http_response_code,omitempty"`
	Description      string        `json:"description"`
}

func (e *Exception) Error() string {
	if e.HTTPResponseCode != 0 {
		return fmt.Sprintf("%s: %s (http %d)", e.Kind, e.Description, e.HTTPResponseCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// retryableHTTPCodes is the fixed set spec.md §9 resolves the "which codes
// retry" open question to.
var retryableHTTPCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableHTTPStatus reports whether code is in the automatic-retry set.
func IsRetryableHTTPStatus(code int) bool {
	return retryableHTTPCodes[code]
}

// NewException builds an Exception with the given kind and a formatted
// description.
func NewException(kind ExceptionKind, format string, args ...any) *Exception {
	return &Exception{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// NewHTTPException builds an http-response Exception carrying the response
// code.
func NewHTTPException(code int, format string, args ...any) *Exception {
	return &Exception{Kind: ExceptionHTTPResponse, HTTPResponseCode: code, Description: fmt.Sprintf(format, args...)}
}
