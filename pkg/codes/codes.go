// Package codes defines the fixed numeric error codes the control-message
// dispatcher reports on the wire (spec §6/§7).
package codes

import "fmt"

// Code is one of the fixed wire error codes.
type Code int

const (
	NoMessage        Code = 411
	InvalidJSON      Code = 412
	InvalidRequest   Code = 413
	InvalidElement   Code = 414
	MissingElement   Code = 415
	NotFound         Code = 416
	InvalidRecording Code = 417
	InvalidState     Code = 418
	InvalidSDP       Code = 419
	RecordingExists  Code = 420
	Unknown          Code = 499
)

// Error is the internal error kind carried alongside its wire code and a
// human-readable message, translated to error_code/error at the response
// encoding boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
