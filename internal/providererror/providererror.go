// Package providererror defines the four-variant error taxonomy that
// every IMAP operation surfaces, and the string-matching classifiers
// the remote-delete queue uses to drive backoff and permanent-failure
// skip decisions. Classification by substring matching is pragmatic but
// fragile; it is preserved here as the minimum required behavior.
package providererror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy surfaced to the UI boundary losslessly.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindNetwork        Kind = "network"
	KindImap           Kind = "imap"
	KindOther          Kind = "other"
)

// Error wraps an underlying cause with its classified Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAuthentication:
		return fmt.Sprintf("authentication failed: %s", e.Message)
	case KindNetwork:
		return fmt.Sprintf("network error: %s", e.Message)
	case KindImap:
		return fmt.Sprintf("imap error: %s", e.Message)
	default:
		return fmt.Sprintf("unexpected provider error: %s", e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified provider error from a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error by Kind, preserving it as Cause.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

// Authentication, Network, Imap, Other are convenience constructors
// mirroring the four enum variants in providers/mod.rs.
func Authentication(err error) *Error { return Wrap(KindAuthentication, err) }
func Network(err error) *Error        { return Wrap(KindNetwork, err) }
func Imap(err error) *Error           { return Wrap(KindImap, err) }
func Other(err error) *Error          { return Wrap(KindOther, err) }

// OtherMessage builds an Other-kind error from a literal message, used
// for validation failures that have no underlying cause (e.g. the
// fetch_recent zero-limit guard).
func OtherMessage(message string) *Error {
	return &Error{Kind: KindOther, Message: message}
}

// As extracts a *Error from err, following the standard library's
// errors.As convention.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var rateLimitMarkers = []string{
	"rate",
	"too many",
	"temporarily",
	"unavailable",
	"try again later",
}

// IsRateLimited reports whether err's message contains one of the
// recognized rate-limit markers (case-insensitive). Authentication
// errors are never treated as rate-limited, matching the source's
// is_rate_limit_error, which only inspects Network/Imap/Other variants.
func IsRateLimited(err error) bool {
	pe, ok := As(err)
	if !ok {
		return containsAny(err.Error(), rateLimitMarkers)
	}
	if pe.Kind == KindAuthentication {
		return false
	}
	return containsAny(pe.Message, rateLimitMarkers)
}

var permanentDeleteMarkers = []string{
	"no such message",
	"not found",
	"already expunged",
	"invalid uid",
}

// IsPermanentDeleteError reports whether err represents a permanent
// remote-delete failure that the reconciliation loop should skip rather
// than retry. A nil error is always retryable (treated as "not
// permanent"), matching should_retry_remote_error's None => retry case.
func IsPermanentDeleteError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if pe, ok := As(err); ok {
		msg = pe.Message
	}
	return containsAny(msg, permanentDeleteMarkers)
}

func containsAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
