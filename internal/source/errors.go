package source

import (
	"errors"
	"fmt"

	"casewatch/internal/cases/models"
)

// Kind classifies a source failure so the scheduler can branch on it without
// inspecting message text.
type Kind string

const (
	// KindNetwork covers timeouts and connection failures. Transient.
	KindNetwork Kind = "network"
	// KindRateLimited means the source asked us to back off. Transient.
	KindRateLimited Kind = "rate_limited"
	// KindDecryption means a protocol response could not be decrypted; the
	// protocol client treats it as an implicit session-expired signal.
	KindDecryption Kind = "decryption"
	// KindCaptcha means the challenge could not be solved within the retry cap.
	KindCaptcha Kind = "captcha"
	// KindUnavailable means the source signalled an outage. Retried on the
	// next scheduled pass, not within the same pass.
	KindUnavailable Kind = "unavailable"
	// KindNotFound is permanent for the given identity.
	KindNotFound Kind = "not_found"
	// KindValidation means the payload arrived but failed canonical
	// validation; the record is withheld from persistence.
	KindValidation Kind = "validation"
)

// Transient reports whether a failure of this kind is worth retrying within
// a single scheduler pass.
func (k Kind) Transient() bool {
	return k == KindNetwork || k == KindRateLimited
}

// Error is the typed failure returned by adapters and the protocol client.
type Error struct {
	Kind   Kind
	Source models.CourtSource
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed source error.
func NewError(kind Kind, src models.CourtSource, op string, err error) *Error {
	return &Error{Kind: kind, Source: src, Op: op, Err: err}
}

// Errorf builds a typed source error from a format string.
func Errorf(kind Kind, src models.CourtSource, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Source: src, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// are reported as KindNetwork so callers err on the side of retrying.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNetwork
}
