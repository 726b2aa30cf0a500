package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error taxonomy
// --------------------------------------------------------------------------

// ErrorCode classifies an Error
type ErrorCode uint8

const (
	CodeUnknown ErrorCode = iota
	CodeAddress           // bind or resolve failure
	CodeUnknownCarrier    // fingerprint or carrier name not registered
	CodeHandshake         // carrier negotiation failure, including delegate resolution
	CodeStream            // I/O failure or timeout on an established connection
	CodeConfiguration     // invalid configuration, e.g. a delegate used as primary carrier
	CodeConnect           // AddOutput failed (resolution or handshake)
)

// String returns the name of the error class
func (c ErrorCode) String() string {
	switch c {
	case CodeAddress:
		return "AddressError"
	case CodeUnknownCarrier:
		return "UnknownCarrierError"
	case CodeHandshake:
		return "HandshakeError"
	case CodeStream:
		return "StreamError"
	case CodeConfiguration:
		return "ConfigurationError"
	case CodeConnect:
		return "ConnectError"
	default:
		return "Error"
	}
}

// Error is the error type returned by all port operations.
// Use errors.Is with one of the sentinels below to check the class.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

// Sentinels, match with errors.Is(err, common.ErrHandshake)
var (
	ErrAddress        = &Error{Code: CodeAddress}
	ErrUnknownCarrier = &Error{Code: CodeUnknownCarrier}
	ErrHandshake      = &Error{Code: CodeHandshake}
	ErrStream         = &Error{Code: CodeStream}
	ErrConfiguration  = &Error{Code: CodeConfiguration}
	ErrConnect        = &Error{Code: CodeConnect}
)

// NewError creates a new error of the given class, wrapping err (may be nil)
func NewError(code ErrorCode, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Code.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code. This makes the bare sentinels
// match every concrete error of their class.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
