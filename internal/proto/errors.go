package proto

import "fmt"

// Kind classifies gateway failures for the API boundary.
type Kind string

// Failure kinds.
const (
	KindValidation Kind = "validation"
	KindConfig     Kind = "config"
	KindUpstream   Kind = "upstream"
	KindMalformed  Kind = "malformed_output"
)

// Error is a typed gateway error.
type Error struct {
	Kind   Kind
	Detail string

	// Status is the upstream HTTP status for KindUpstream errors.
	Status int

	err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Detail, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.err }

// Validationf builds a client-side validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// Configf builds a configuration error, such as a missing credential.
func Configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Detail: fmt.Sprintf(format, args...)}
}

// Upstream builds an error for a non-success provider response.
func Upstream(status int, detail string, err error) *Error {
	return &Error{Kind: KindUpstream, Detail: detail, Status: status, err: err}
}

// Malformed builds an error for provider output that failed every parse
// strategy. The preview is already truncated by the parser.
func Malformed(preview string, err error) *Error {
	return &Error{Kind: KindMalformed, Detail: "unparsable model output: " + preview, err: err}
}
