// Package errs contains sentinel and typed errors used across layers for
// stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrProofInvalid indicates the presented membership proof could not be
	// confirmed (permanent, user-caused).
	ErrProofInvalid = errors.New("proof invalid")

	// ErrOriginUnavailable indicates a transient origin platform failure.
	// The caller may retry with backoff.
	ErrOriginUnavailable = errors.New("origin unavailable")

	// ErrOriginRejected indicates the origin platform permanently rejected
	// the standing check (e.g. revoked authorization).
	ErrOriginRejected = errors.New("origin rejected")

	// ErrVaultDecrypt indicates at-rest token material failed authenticated
	// decryption. Fatal to the calling operation; indicates key rotation or
	// corruption and is never treated as "no token".
	ErrVaultDecrypt = errors.New("vault decrypt failure")

	// ErrIssuerInactive indicates the issuer exists but is deactivated.
	ErrIssuerInactive = errors.New("issuer inactive")

	// ErrSweepInProgress indicates a sweep is already running; the second
	// invocation is a no-op.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrInvalidTransition indicates a credential status change not allowed
	// by the lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")
)

// DuplicateActiveCredentialError reports that an active, unexpired credential
// already exists for the (issuer, member) pair. ExistingExpiry is carried for
// user messaging.
type DuplicateActiveCredentialError struct {
	ExistingExpiry time.Time
}

func (e *DuplicateActiveCredentialError) Error() string {
	return fmt.Sprintf("active credential already exists (expires %s)", e.ExistingExpiry.UTC().Format(time.RFC3339))
}

// IsDuplicateActive reports whether err is a duplicate-active-credential
// rejection and returns the conflicting expiry.
func IsDuplicateActive(err error) (*DuplicateActiveCredentialError, bool) {
	var dup *DuplicateActiveCredentialError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}
