package errors

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

// Init failure causes.
const (
	CodeInvalidConfig         ErrorCode = "INVALID_CONFIG"
	CodeToolInvocationFailure ErrorCode = "TOOL_INVOCATION_FAILURE"
	CodeParseFailure          ErrorCode = "PARSE_FAILURE"
	CodePersistenceFailure    ErrorCode = "PERSISTENCE_FAILURE"
)

// Evaluate failure kinds.
const (
	CodeSessionNotReady   ErrorCode = "SESSION_NOT_READY"
	CodeUnknownCapability ErrorCode = "UNKNOWN_CAPABILITY"
	CodeInvalidCondition  ErrorCode = "INVALID_CONDITION"
)

const (
	CodeNotFound  ErrorCode = "NOT_FOUND"
	CodeInternal  ErrorCode = "INTERNAL_ERROR"
	CodeCancelled ErrorCode = "CANCELLED"

	CodeRateLimited ErrorCode = "RATE_LIMITED"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxPath        = "path"
	CtxTool        = "tool"
	CtxFile        = "file"
	CtxFingerprint = "fingerprint"
	CtxSession     = "session"
	CtxCapability  = "capability"
	CtxOperation   = "operation"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Newf(code ErrorCode, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// AddContext attaches a key to the first DomainError in err's chain, wrapping
// plain errors as internal ones.
func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return err
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the first DomainError in err's chain. Context
// cancellation maps to CodeCancelled; anything else is CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeInternal
}

// IsInitCause reports whether code is one of the Init failure causes.
func IsInitCause(code ErrorCode) bool {
	switch code {
	case CodeInvalidConfig, CodeToolInvocationFailure, CodeParseFailure, CodePersistenceFailure:
		return true
	}
	return false
}
