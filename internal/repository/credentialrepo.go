// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// NewCredential carries the immutable fields of a credential being issued.
type NewCredential struct {
	ID          uuid.UUID
	IssuerID    uuid.UUID
	MemberID    uuid.UUID
	Label       string
	ConfirmedAt time.Time
	ProofRef    string
	Payload     []byte
	Signature   string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// SweepFilter selects active credentials due for a lifecycle re-check.
type SweepFilter struct {
	Now           time.Time
	RenewalWindow time.Duration // expires_at within now+window
	RecheckEvery  time.Duration // last_verified_at older than now-RecheckEvery
	Limit         int
}

// CredentialRepository provides access to credential rows with the
// at-most-one-active-per-(issuer,member) invariant enforced by the backend.
type CredentialRepository interface {
	// CreateActive atomically inserts a new active credential. A stale
	// active row whose validity window already closed is expired in the
	// same transaction; a live active row yields
	// *errs.DuplicateActiveCredentialError. The deliver callback runs
	// inside the transaction: if it fails the insert is rolled back and
	// no credential row is persisted.
	CreateActive(ctx context.Context, nc NewCredential, deliver func() error) (*model.Credential, error)

	// GetByID loads a credential by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Credential, error)

	// FindDueForSweep returns active credentials matching the sweep filter.
	FindDueForSweep(ctx context.Context, f SweepFilter) ([]model.Credential, error)

	// ExtendValidity extends an active credential's window, stamps
	// last_verified_at and resets the failure counter.
	ExtendValidity(ctx context.Context, id uuid.UUID, expiresAt, verifiedAt time.Time) error

	// SetStatus transitions a credential's status, recording the reason and
	// rejecting transitions out of terminal states with
	// errs.ErrInvalidTransition.
	SetStatus(ctx context.Context, id uuid.UUID, to model.CredentialStatus, reason string) error

	// IncrementFailures bumps verification_failures and returns the new count.
	IncrementFailures(ctx context.Context, id uuid.UUID) (int, error)
}
