package services

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure. The set is closed; every error that
// crosses a package boundary maps to exactly one kind.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSetup marks decoder fetch/build failures. Fatal for the run.
	KindSetup
	// KindConfig marks missing or invalid configuration variables.
	KindConfig
	// KindFetch marks network failures while downloading config or archives.
	KindFetch
	// KindExtraction marks a per-asset decode failure. Never fatal.
	KindExtraction
	// KindFormat marks malformed bundle bytes.
	KindFormat
	// KindTimeout marks an operation abandoned after its deadline.
	KindTimeout
	// KindRetryExhausted marks an operation that failed on every attempt.
	KindRetryExhausted
)

var (
	ErrSetup          = errors.New("setup error")
	ErrConfig         = errors.New("configuration error")
	ErrFetch          = errors.New("fetch error")
	ErrExtraction     = errors.New("extraction failure")
	ErrFormat         = errors.New("format error")
	ErrTimeout        = errors.New("timeout")
	ErrRetryExhausted = errors.New("retries exhausted")
)

// String returns the stable lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindConfig:
		return "config"
	case KindFetch:
		return "fetch"
	case KindExtraction:
		return "extraction"
	case KindFormat:
		return "format"
	case KindTimeout:
		return "timeout"
	case KindRetryExhausted:
		return "retry_exhausted"
	default:
		return "unknown"
	}
}

// Marker returns the sentinel error associated with the kind.
func (k Kind) Marker() error {
	switch k {
	case KindSetup:
		return ErrSetup
	case KindConfig:
		return ErrConfig
	case KindFetch:
		return ErrFetch
	case KindExtraction:
		return ErrExtraction
	case KindFormat:
		return ErrFormat
	case KindTimeout:
		return ErrTimeout
	case KindRetryExhausted:
		return ErrRetryExhausted
	default:
		return nil
	}
}

// Fatal reports whether a failure of this kind terminates the whole run.
func (k Kind) Fatal() bool {
	return k == KindSetup
}

// Error is the structured error carried through the pipeline.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if marker := e.Kind.Marker(); marker != nil {
		parts = append(parts, marker.Error())
	}
	parts = append(parts, buildDetail(e.Op, e.Subject, e.Message))
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel marker of the error's kind so callers can use
// errors.Is(err, services.ErrSetup) without knowing the concrete type.
func (e *Error) Is(target error) bool {
	marker := e.Kind.Marker()
	return marker != nil && target == marker
}

// Wrap builds a structured error. Op names the operation ("clone decoder",
// "fetch client urls"), subject the thing it acted on (a URL, a path, a key).
func Wrap(kind Kind, op, subject, message string, err error) error {
	return &Error{
		Kind:    kind,
		Op:      strings.TrimSpace(op),
		Subject: strings.TrimSpace(subject),
		Message: strings.TrimSpace(message),
		Err:     err,
	}
}

// KindOf classifies err. Errors that carry no kind report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	for _, kind := range []Kind{KindSetup, KindConfig, KindFetch, KindExtraction, KindFormat, KindRetryExhausted, KindTimeout} {
		if errors.Is(err, kind.Marker()) {
			return kind
		}
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}

func buildDetail(op, subject, message string) string {
	parts := make([]string, 0, 3)
	if op = strings.TrimSpace(op); op != "" {
		parts = append(parts, op)
	}
	if subject = strings.TrimSpace(subject); subject != "" {
		parts = append(parts, fmt.Sprintf("%q", subject))
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, " ")
}
