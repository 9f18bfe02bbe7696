package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// VerificationEventRepository is the append-only audit trail of presentation
// attempts. Events are never mutated or deleted.
type VerificationEventRepository interface {
	// Append writes exactly one event for a presentation attempt.
	Append(ctx context.Context, ev *model.VerificationEvent) error
	// ListByCredential returns events for one credential, newest first.
	ListByCredential(ctx context.Context, credentialID uuid.UUID, limit, offset int) ([]model.VerificationEvent, error)
	// ListByIssuer returns events recorded against one issuer, newest first.
	ListByIssuer(ctx context.Context, issuerID uuid.UUID, limit, offset int) ([]model.VerificationEvent, error)
}

// SweepRunRepository records lifecycle sweep executions. A run row is created
// at sweep start and finalized exactly once at sweep end.
type SweepRunRepository interface {
	// Start inserts a run row with its start time.
	Start(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// Finish finalizes the run with its end time and counters.
	Finish(ctx context.Context, run *model.SweepRun) error
}
