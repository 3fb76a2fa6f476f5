package errcode

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Code string

const (
	// session-level taxonomy
	TargetNotFound               Code = "TARGET_NOT_FOUND"
	ActionExecutionFailed        Code = "ACTION_EXECUTION_FAILED"
	DecisionParseError           Code = "DECISION_PARSE_ERROR"
	StepOrTimeCeilingExceeded    Code = "STEP_OR_TIME_CEILING_EXCEEDED"
	VerificationTargetUnresolved Code = "VERIFICATION_TARGET_UNRESOLVED"
	SessionCancelled             Code = "SESSION_CANCELLED"

	// browser automation
	ElementNotFound Code = "ELEMENT_NOT_FOUND"
	ElementDetached Code = "ELEMENT_DETACHED"
	ActionTimeout   Code = "ACTION_TIMEOUT"

	ConfigInvalid Code = "CONFIG_INVALID"
	StorageRead   Code = "STORAGE_READ"
	StorageWrite  Code = "STORAGE_WRITE"
	Internal      Code = "INTERNAL"
)

type Error struct {
	Code       Code
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
	}
	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is lets errors.Is match on code alone: errors.Is(err, errcode.New(TargetNotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Has reports whether any *Error in err's chain carries code.
func Has(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Underlying
	}
	return false
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
