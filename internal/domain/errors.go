package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type AuthReason string

const (
	// ReasonNeedsReauth is terminal: the refresh token is absent or revoked
	// and the connection cannot recover without a manual re-auth.
	ReasonNeedsReauth AuthReason = "needs_reauth"
	// ReasonTransient covers network trouble and 5xx from the token endpoint;
	// the next scheduled sync retries.
	ReasonTransient AuthReason = "transient"
)

type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Reason, e.Err)
	}
	return "auth " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NeedsReauth reports whether err is a terminal auth failure.
func NeedsReauth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Reason == ReasonNeedsReauth
}

type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return fmt.Sprintf("rate limited: %v", e.Err) }
func (e *RateLimitError) Unwrap() error { return e.Err }

type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ParseError marks one malformed upstream record; the fetch skips it and
// continues instead of aborting the batch.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ClassificationError is always non-fatal: the review persists without
// sentiment/urgency and alerting treats it as below threshold.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string { return fmt.Sprintf("classification: %v", e.Err) }
func (e *ClassificationError) Unwrap() error { return e.Err }
