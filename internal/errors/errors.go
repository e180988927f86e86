package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type used across storyrag.
// Every failure that reaches a command or tool handler carries one of these.
type Error struct {
	// Code is the unique error code (e.g., "ERR_207_INDEX_NOT_FOUND").
	Code string

	Message  string
	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	Retryable bool

	// Suggestion is an actionable hint shown to the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so that errors.Is works with code sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user-facing hint and returns the error for chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error; category, severity and retryability derive from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error, reusing its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinel returns a code-only error usable as an errors.Is target.
func Sentinel(code string) *Error {
	return &Error{Code: code}
}

func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

func IOError(message string, cause error) *Error {
	return New(ErrCodeFileUnreadable, message, cause)
}

// NetworkError creates a retryable connectivity error.
func NetworkError(message string, cause error) *Error {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// FormatError reports an unsupported export format.
func FormatError(format string) *Error {
	return New(ErrCodeUnsupportedFormat, fmt.Sprintf("Unsupported format: %s", format), nil).
		WithDetail("format", format)
}

func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable *Error.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

// IsFatal reports whether err carries an *Error with fatal severity.
func IsFatal(err error) bool {
	e, ok := As(err)
	return ok && e.Severity == SeverityFatal
}

// GetCode returns the code of the first *Error in the chain, or "".
func GetCode(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory returns the category of the first *Error in the chain, or "".
func GetCategory(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return ""
}

// HasCode reports whether any *Error in err's chain has the given code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, Sentinel(code))
}
