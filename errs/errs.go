// Package errs provides structured error types and the vendor-code
// classifier used across the gateway core.
package errs

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies an error category in the gateway taxonomy.
type Kind string

const (
	// KindNone marks a successful vendor response.
	KindNone Kind = "none"
	// KindConnection indicates a transport-level failure to reach the front.
	KindConnection Kind = "connection"
	// KindAuth indicates a credential or authorization rejection.
	KindAuth Kind = "auth"
	// KindNetwork indicates a transient I/O failure mid-session.
	KindNetwork Kind = "network"
	// KindProtocol indicates a vendor-reported business error code.
	KindProtocol Kind = "protocol"
	// KindTimeout indicates no response arrived within budget.
	KindTimeout Kind = "timeout"
	// KindValidation indicates a locally rejected request shape.
	KindValidation Kind = "validation"
	// KindState indicates an operation invalid for the current local state.
	KindState Kind = "state"
	// KindUnknown captures uncategorized failures.
	KindUnknown Kind = "unknown"
)

// E captures structured error information produced across the gateway core.
type E struct {
	Channel   string
	Kind      Kind
	RawCode   int
	RawMsg    string
	Message   string
	Retryable bool

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the channel and error kind.
func New(channel string, kind Kind, opts ...Option) *E {
	e := &E{
		Channel:   strings.TrimSpace(channel),
		Kind:      kind,
		Retryable: retryableKind(kind),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRaw captures the raw vendor error code and message.
func WithRaw(code int, msg string) Option {
	return func(e *E) {
		e.RawCode = code
		e.RawMsg = strings.TrimSpace(msg)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithRetryable overrides the retryable verdict implied by the kind.
func WithRetryable(retryable bool) Option {
	return func(e *E) {
		e.Retryable = retryable
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	channel := e.Channel
	if channel == "" {
		channel = "unknown"
	}
	parts = append(parts, "channel="+channel)

	kind := string(e.Kind)
	if kind == "" {
		kind = string(KindUnknown)
	}
	parts = append(parts, "kind="+kind)

	if e.RawCode != 0 {
		parts = append(parts, "vendor_code="+strconv.Itoa(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "vendor_msg="+e.RawMsg)
	}
	if e.Message != "" {
		parts = append(parts, "msg="+e.Message)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+e.cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// KindOf returns the taxonomy kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if e, ok := asE(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err carries a retryable verdict.
func Retryable(err error) bool {
	if e, ok := asE(err); ok {
		return e.Retryable
	}
	return false
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsValidation reports whether err is a local validation rejection.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsState reports whether err is a local state rejection.
func IsState(err error) bool { return KindOf(err) == KindState }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

func asE(err error) (*E, bool) {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func retryableKind(kind Kind) bool {
	switch kind {
	case KindConnection, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// Classify maps a vendor response code to its taxonomy kind and a
// retryable verdict. Code zero means success and maps to KindNone.
// The negative codes are the transport-level codes reported by the
// gateway API itself; positive codes are exchange business rejections.
func Classify(code int) (Kind, bool) {
	switch code {
	case 0:
		return KindNone, false
	case -1, -7, -9, -15:
		// network send failure, connection timeout, inactive front, expired session
		return KindNetwork, true
	case -2, -3, -4, -5, -6, -8, -10, -13, -14:
		// bad credentials, duplicate login, locked user, auth code mismatch
		return KindAuth, false
	case -11, -12:
		// malformed broker or investor identifier
		return KindValidation, false
	}
	if code < 0 {
		return KindUnknown, false
	}
	return KindProtocol, false
}

// FromVendor builds an error envelope for a non-zero vendor response code.
func FromVendor(channel string, code int, msg string) *E {
	kind, retryable := Classify(code)
	if kind == KindNone {
		return nil
	}
	return New(channel, kind, WithRaw(code, msg), WithRetryable(retryable))
}

// Timeoutf builds a timeout error with a formatted message.
func Timeoutf(channel, format string, args ...any) *E {
	return New(channel, KindTimeout, WithMessage(fmt.Sprintf(format, args...)))
}
