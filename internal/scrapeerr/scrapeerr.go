// Package scrapeerr defines the scraping engine's error taxonomy as typed,
// wrappable Go errors so callers can classify a failure with errors.Is/
// errors.As instead of string-matching, the way the Python original does
// ("AUTH_BLOCKED" in message, "status=429" in message). The class set is
// exhaustive and mirrors the design document: TransientNetwork, Throttle,
// AuthBlocked, ProfileLocked, DomShapeMismatch, ParserValidation, Fatal.
package scrapeerr

import "errors"

// Class names one of the exhaustive error categories.
type Class string

const (
	ClassTransientNetwork Class = "TransientNetwork"
	ClassThrottle         Class = "Throttle"
	ClassAuthBlocked      Class = "AuthBlocked"
	ClassProfileLocked    Class = "ProfileLocked"
	ClassDomShapeMismatch Class = "DomShapeMismatch"
	ClassParserValidation Class = "ParserValidation"
	ClassFatal            Class = "Fatal"
)

// Sentinel errors: wrap one of these with Wrap to preserve the original
// cause while classifying it, or compare a returned error against these
// with errors.Is.
var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrThrottle         = errors.New("throttled (429/403)")
	ErrAuthBlocked      = errors.New("auth blocked")
	ErrProfileLocked    = errors.New("browser profile locked")
	ErrDomShapeMismatch = errors.New("required selector family not found")
	ErrParserValidation = errors.New("parser validation failed")
	ErrFatal            = errors.New("fatal error")
)

var sentinelByClass = map[Class]error{
	ClassTransientNetwork: ErrTransientNetwork,
	ClassThrottle:         ErrThrottle,
	ClassAuthBlocked:      ErrAuthBlocked,
	ClassProfileLocked:    ErrProfileLocked,
	ClassDomShapeMismatch: ErrDomShapeMismatch,
	ClassParserValidation: ErrParserValidation,
	ClassFatal:            ErrFatal,
}

// ScrapeError wraps a cause with its class, matching the teacher's
// SolverError{Message, Cause}/Error()/Unwrap() shape.
type ScrapeError struct {
	Class Class
	Msg   string
	Cause error
}

func (e *ScrapeError) Error() string {
	if e.Cause != nil {
		return string(e.Class) + ": " + e.Msg + ": " + e.Cause.Error()
	}
	return string(e.Class) + ": " + e.Msg
}

func (e *ScrapeError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return sentinelByClass[e.Class]
}

// Is lets errors.Is(err, scrapeerr.ErrAuthBlocked) succeed even when the
// wrapped error has no Cause, by comparing against the class's sentinel.
func (e *ScrapeError) Is(target error) bool {
	return sentinelByClass[e.Class] == target
}

// New constructs a ScrapeError of the given class.
func New(class Class, msg string) error {
	return &ScrapeError{Class: class, Msg: msg}
}

// Wrap constructs a ScrapeError of the given class around an existing
// cause, preserving it for errors.As/errors.Unwrap chains.
func Wrap(class Class, msg string, cause error) error {
	return &ScrapeError{Class: class, Msg: msg, Cause: cause}
}

// ClassOf returns the class of err if it is a *ScrapeError (checking the
// wrapped chain), or "" otherwise.
func ClassOf(err error) Class {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

// IsAuthBlocked reports whether err is, or wraps, an AuthBlocked condition —
// the sole auto-restart trigger per the orchestrator's design.
func IsAuthBlocked(err error) bool {
	return errors.Is(err, ErrAuthBlocked)
}

// IsThrottle reports whether err is, or wraps, a throttle condition (429,
// 403, or an explicit AuthBlocked, all of which feed the rate limiter's
// backoff per the design note that AUTH_BLOCKED also counts as a throttle
// signal for the per-worker detail loop).
func IsThrottle(err error) bool {
	return errors.Is(err, ErrThrottle) || errors.Is(err, ErrAuthBlocked)
}
