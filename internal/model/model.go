// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// CredentialStatus is the lifecycle state of a credential.
type CredentialStatus string

// Credential lifecycle states. Revoked and Deleted are terminal.
const (
	StatusActive    CredentialStatus = "active"
	StatusExpired   CredentialStatus = "expired"
	StatusRevoked   CredentialStatus = "revoked"
	StatusSuspended CredentialStatus = "suspended"
	StatusDeleted   CredentialStatus = "deleted"
)

// Terminal reports whether no further transitions are allowed from s.
func (s CredentialStatus) Terminal() bool {
	return s == StatusRevoked || s == StatusDeleted
}

// Issuer is an authority configured to mint credentials. Issuers are never
// hard-deleted; deactivation preserves referential history of past credentials.
type Issuer struct {
	ID           uuid.UUID
	ExternalID   string // stable identifier on the origin platform (channel id)
	Name         string
	DefaultLabel string // membership label stamped on new credentials
	OriginRef    string // origin resource used for standing checks (members-only video id)
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Member is a cached identity record for a holder on the origin platform.
type Member struct {
	ID          uuid.UUID
	ExternalID  string // stable member identifier on the origin platform
	DisplayName string // snapshot, updated opportunistically
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TokenRecord is per-member encrypted OAuth token material. At most one live
// record per member: re-authentication supersedes, refresh rotates in place.
type TokenRecord struct {
	ID         uuid.UUID
	MemberID   uuid.UUID
	AccessEnc  []byte // AEAD ciphertext
	RefreshEnc []byte // AEAD ciphertext, may be empty
	ExpiresAt  time.Time
	RotatedAt  time.Time
}

// Expired reports whether the access token needs a refresh at the given instant.
func (t *TokenRecord) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Credential is the central entity. Payload and Signature are immutable after
// creation; only Status, ExpiresAt, LastVerifiedAt and VerificationFailures
// mutate, and only through repository transition operations.
type Credential struct {
	ID                   uuid.UUID
	IssuerID             uuid.UUID
	MemberID             uuid.UUID
	Label                string
	ConfirmedAt          time.Time // when standing was last affirmatively proven at issuance
	ProofRef             string    // opaque proof pointer (comment id on the origin platform)
	Payload              []byte    // canonical signed payload bytes
	Signature            string    // hex HMAC-SHA256 over Payload
	Status               CredentialStatus
	StatusReason         string // why the last status transition happened
	ExpiresAt            *time.Time
	LastVerifiedAt       *time.Time
	VerificationFailures int
	IssuedAt             time.Time
}

// ExpiredAt reports whether the credential's validity window has closed at
// the given instant. The boundary is inclusive: expires_at == now is expired.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// VerificationOutcome classifies one presentation attempt.
type VerificationOutcome string

// Presentation outcomes recorded on verification events.
const (
	OutcomeSuccess            VerificationOutcome = "success"
	OutcomeInvalidSignature   VerificationOutcome = "invalid_signature"
	OutcomeCredentialNotFound VerificationOutcome = "credential_not_found"
	OutcomeWrongIssuer        VerificationOutcome = "wrong_issuer"
	OutcomeExpired            VerificationOutcome = "expired"
	OutcomeRevoked            VerificationOutcome = "revoked"
	OutcomeSuspended          VerificationOutcome = "suspended"
	OutcomeDeleted            VerificationOutcome = "deleted"
)

// VerificationEvent is an append-only audit record of a presentation attempt.
// CredentialID is nil when lookup failed (bad signature, unknown id).
type VerificationEvent struct {
	ID           uuid.UUID
	CredentialID *uuid.UUID
	IssuerID     *uuid.UUID // claimed verifier issuer, when known
	Outcome      VerificationOutcome
	Context      string // free-form detail, never secrets
	OccurredAt   time.Time
}

// SweepRun is an append-only record of one lifecycle sweep execution.
type SweepRun struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Processed  int
	Extended   int
	Revoked    int
	Suspended  int
	Errored    int
}

// Operator is a staff account allowed to call admin endpoints.
type Operator struct {
	ID        uuid.UUID
	Username  string
	PwdHash   []byte // Argon2id(password, Salt)
	Salt      []byte
	CreatedAt time.Time
}

// Tokens collects an issued operator access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}
