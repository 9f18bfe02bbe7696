package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/repository"
)

// CredentialRepo implements CredentialRepository using PostgreSQL. The
// at-most-one-active invariant is enforced by a partial unique index on
// (issuer_id, member_id) WHERE status='active', which makes the index the
// sole arbiter between concurrent issuance attempts.
type CredentialRepo struct{ db *DB }

// NewCredentialRepo constructs a credential repository.
func NewCredentialRepo(db *DB) *CredentialRepo { return &CredentialRepo{db: db} }

const credentialColumns = `id, issuer_id, member_id, label, confirmed_at, proof_ref,
payload, signature, status, status_reason, expires_at, last_verified_at, verification_failures, issued_at`

// CreateActive inserts a new active credential in one transaction. A stale
// active row whose window already closed is expired first so the partial
// index can accept the reissue; a live active row surfaces as
// *errs.DuplicateActiveCredentialError with the conflicting expiry. The
// deliver callback runs before commit: a delivery failure rolls the whole
// issuance back, so no credential row exists without its presentation.
func (r *CredentialRepo) CreateActive(
	ctx context.Context, nc repository.NewCredential, deliver func() error,
) (cred *model.Credential, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
			cred = nil
		}
	}()

	const expireStale = `
UPDATE credentials SET status='expired'
WHERE issuer_id=$1 AND member_id=$2 AND status='active' AND expires_at <= $3`
	if _, err = tx.Exec(ctx, expireStale, nc.IssuerID, nc.MemberID, nc.IssuedAt); err != nil {
		return nil, err
	}

	const ins = `
INSERT INTO credentials
(id, issuer_id, member_id, label, confirmed_at, proof_ref, payload, signature, status, expires_at, issued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'active',$9,$10)`
	if _, err = tx.Exec(ctx, ins,
		nc.ID, nc.IssuerID, nc.MemberID, nc.Label, nc.ConfirmedAt, nc.ProofRef,
		nc.Payload, nc.Signature, nc.ExpiresAt, nc.IssuedAt,
	); err != nil {
		if isUniqueViolation(err) {
			// Lookup runs on the pool, not the aborted transaction.
			return nil, r.duplicateError(ctx, nc.IssuerID, nc.MemberID)
		}
		return nil, err
	}

	if deliver != nil {
		if err = deliver(); err != nil {
			return nil, fmt.Errorf("presentation delivery: %w", err)
		}
	}

	expires := nc.ExpiresAt
	return &model.Credential{
		ID:          nc.ID,
		IssuerID:    nc.IssuerID,
		MemberID:    nc.MemberID,
		Label:       nc.Label,
		ConfirmedAt: nc.ConfirmedAt,
		ProofRef:    nc.ProofRef,
		Payload:     nc.Payload,
		Signature:   nc.Signature,
		Status:      model.StatusActive,
		ExpiresAt:   &expires,
		IssuedAt:    nc.IssuedAt,
	}, nil
}

// duplicateError loads the conflicting row's expiry for user messaging.
func (r *CredentialRepo) duplicateError(ctx context.Context, issuerID, memberID uuid.UUID) error {
	const q = `
SELECT expires_at FROM credentials
WHERE issuer_id=$1 AND member_id=$2 AND status='active'`
	var expiresAt *time.Time
	if err := r.db.Pool.QueryRow(ctx, q, issuerID, memberID).Scan(&expiresAt); err != nil {
		// The conflicting row vanished between insert and lookup; report
		// the conflict without an expiry rather than invent one.
		return &errs.DuplicateActiveCredentialError{}
	}
	dup := &errs.DuplicateActiveCredentialError{}
	if expiresAt != nil {
		dup.ExistingExpiry = *expiresAt
	}
	return dup
}

// GetByID loads a credential by id.
func (r *CredentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM credentials WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// FindDueForSweep returns active (and suspended, for recovery) credentials
// whose validity window closes within the renewal window or whose last
// re-check is overdue. Selection is by current state only, which is what
// makes an interrupted sweep resumable by the next run.
func (r *CredentialRepo) FindDueForSweep(ctx context.Context, f repository.SweepFilter) ([]model.Credential, error) {
	q := `
SELECT ` + credentialColumns + `
FROM credentials
WHERE status IN ('active','suspended')
  AND (expires_at <= $1 OR last_verified_at IS NULL OR last_verified_at <= $2)
ORDER BY expires_at ASC
LIMIT $3`
	rows, err := r.db.Pool.Query(ctx, q,
		f.Now.Add(f.RenewalWindow), f.Now.Add(-f.RecheckEvery), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ExtendValidity extends the validity window, stamps last_verified_at and
// resets the failure counter. Expired and suspended rows return to active
// here; terminal rows are untouchable.
func (r *CredentialRepo) ExtendValidity(ctx context.Context, id uuid.UUID, expiresAt, verifiedAt time.Time) error {
	const q = `
UPDATE credentials
SET status='active', status_reason='', expires_at=$2, last_verified_at=$3, verification_failures=0
WHERE id=$1 AND status IN ('active','expired','suspended')`
	tag, err := r.db.Pool.Exec(ctx, q, id, expiresAt, verifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionFailure(ctx, id)
	}
	return nil
}

// SetStatus transitions a credential's status, recording the reason. Soft
// deletion is allowed from any non-deleted state; all other transitions are
// rejected from terminal states.
func (r *CredentialRepo) SetStatus(ctx context.Context, id uuid.UUID, to model.CredentialStatus, reason string) error {
	var q string
	if to == model.StatusDeleted {
		q = `UPDATE credentials SET status=$2, status_reason=$3 WHERE id=$1 AND status <> 'deleted'`
	} else {
		q = `UPDATE credentials SET status=$2, status_reason=$3 WHERE id=$1 AND status NOT IN ('revoked','deleted')`
	}
	tag, err := r.db.Pool.Exec(ctx, q, id, string(to), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.transitionFailure(ctx, id)
	}
	return nil
}

// IncrementFailures bumps the consecutive failure counter and returns the
// new value.
func (r *CredentialRepo) IncrementFailures(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
UPDATE credentials SET verification_failures = verification_failures + 1
WHERE id=$1
RETURNING verification_failures`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

// transitionFailure distinguishes a missing row from a guarded transition.
func (r *CredentialRepo) transitionFailure(ctx context.Context, id uuid.UUID) error {
	const q = `SELECT 1 FROM credentials WHERE id=$1`
	var one int
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&one); err != nil {
		return errs.ErrNotFound
	}
	return errs.ErrInvalidTransition
}

func scanCredential(row pgx.Row) (*model.Credential, error) {
	var c model.Credential
	var status string
	if err := row.Scan(
		&c.ID, &c.IssuerID, &c.MemberID, &c.Label, &c.ConfirmedAt, &c.ProofRef,
		&c.Payload, &c.Signature, &status, &c.StatusReason, &c.ExpiresAt, &c.LastVerifiedAt,
		&c.VerificationFailures, &c.IssuedAt,
	); err != nil {
		return nil, err
	}
	c.Status = model.CredentialStatus(status)
	return &c, nil
}
