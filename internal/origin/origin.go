// Package origin adapts the origin platform's membership API behind the
// standing-check boundary consumed by issuance and the lifecycle sweeper.
package origin

import (
	"context"
	"errors"
	"time"

	"memberpass/internal/errs"
	"memberpass/internal/model"
)

// StandingState is the origin platform's answer about current membership.
type StandingState string

// Standing check outcomes. Transient failures are reported as errors wrapping
// errs.ErrOriginUnavailable, not as a state.
const (
	StandingConfirmed StandingState = "confirmed"
	StandingLapsed    StandingState = "lapsed"
)

// Standing is the result of a standing check against the origin platform.
type Standing struct {
	State     StandingState
	Snapshot  string // free-form origin response detail for audit
	CheckedAt time.Time
}

// ProofConfirmation is the origin's confirmation of a one-time membership
// proof presented at issuance.
type ProofConfirmation struct {
	ProofRef          string
	AuthorExternalID  string
	AuthorDisplayName string
	ConfirmedAt       time.Time // when the proof was produced on the platform
}

// Verifier confirms membership standing and one-time proofs with the origin
// platform. Implementations must classify failures as errs.ErrProofInvalid,
// errs.ErrOriginRejected (both permanent) or errs.ErrOriginUnavailable
// (transient, retryable).
type Verifier interface {
	// VerifyProof confirms that proofRef is a valid membership proof made by
	// the member on the issuer's verification resource after sessionStart.
	VerifyProof(ctx context.Context, iss *model.Issuer, member *model.Member, proofRef string, sessionStart time.Time) (*ProofConfirmation, error)

	// CheckStanding confirms the member's current standing with the origin.
	CheckStanding(ctx context.Context, iss *model.Issuer, member *model.Member) (*Standing, error)
}

// RetryPolicy is a bounded exponential backoff applied to transient origin
// failures only; permanent classifications surface immediately.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy bounds a standing check to three attempts.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, Multiplier: 2.0}

// Do runs f, retrying transient failures with exponential backoff until the
// attempt budget is spent or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, f func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil || !errors.Is(err, errs.ErrOriginUnavailable) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return err
}
