package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// EventRepo implements VerificationEventRepository using PostgreSQL.
// Events are insert-only; there is no update or delete path.
type EventRepo struct{ db *DB }

// NewEventRepo constructs a verification event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

// Append writes one verification event.
func (r *EventRepo) Append(ctx context.Context, ev *model.VerificationEvent) error {
	const q = `
INSERT INTO verification_events (id, credential_id, issuer_id, outcome, context, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q,
		ev.ID, ev.CredentialID, ev.IssuerID, string(ev.Outcome), ev.Context, ev.OccurredAt)
	return err
}

const eventColumns = `id, credential_id, issuer_id, outcome, context, occurred_at`

// ListByCredential returns events for one credential, newest first.
func (r *EventRepo) ListByCredential(ctx context.Context, credentialID uuid.UUID, limit, offset int) ([]model.VerificationEvent, error) {
	q := `SELECT ` + eventColumns + `
FROM verification_events WHERE credential_id=$1
ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, credentialID, limit, offset)
}

// ListByIssuer returns events recorded against one issuer, newest first.
func (r *EventRepo) ListByIssuer(ctx context.Context, issuerID uuid.UUID, limit, offset int) ([]model.VerificationEvent, error) {
	q := `SELECT ` + eventColumns + `
FROM verification_events WHERE issuer_id=$1
ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
	return r.list(ctx, q, issuerID, limit, offset)
}

func (r *EventRepo) list(ctx context.Context, q string, args ...any) ([]model.VerificationEvent, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerificationEvent
	for rows.Next() {
		var ev model.VerificationEvent
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.CredentialID, &ev.IssuerID, &outcome, &ev.Context, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Outcome = model.VerificationOutcome(outcome)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SweepRepo implements SweepRunRepository using PostgreSQL.
type SweepRepo struct{ db *DB }

// NewSweepRepo constructs a sweep run repository.
func NewSweepRepo(db *DB) *SweepRepo { return &SweepRepo{db: db} }

// Start inserts the run row at sweep start.
func (r *SweepRepo) Start(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	const q = `INSERT INTO sweep_runs (id, started_at) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, id, startedAt)
	return err
}

// Finish finalizes the run once with its end time and counters.
func (r *SweepRepo) Finish(ctx context.Context, run *model.SweepRun) error {
	const q = `
UPDATE sweep_runs
SET finished_at=$2, processed=$3, extended=$4, revoked=$5, suspended=$6, errored=$7
WHERE id=$1 AND finished_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, q, run.ID, run.FinishedAt,
		run.Processed, run.Extended, run.Revoked, run.Suspended, run.Errored)
	return err
}
