package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/repository"
)

// IssuerRepo implements IssuerRepository using PostgreSQL.
type IssuerRepo struct{ db *DB }

// NewIssuerRepo constructs an issuer repository.
func NewIssuerRepo(db *DB) *IssuerRepo { return &IssuerRepo{db: db} }

// Create inserts a new issuer.
func (r *IssuerRepo) Create(ctx context.Context, iss *model.Issuer) error {
	const q = `
INSERT INTO issuers (id, external_id, name, default_label, origin_ref, active)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q,
		iss.ID, iss.ExternalID, iss.Name, iss.DefaultLabel, iss.OriginRef, iss.Active)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID loads an issuer by id.
func (r *IssuerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Issuer, error) {
	const q = `
SELECT id, external_id, name, default_label, origin_ref, active, created_at, updated_at
FROM issuers WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var iss model.Issuer
	if err := row.Scan(&iss.ID, &iss.ExternalID, &iss.Name, &iss.DefaultLabel,
		&iss.OriginRef, &iss.Active, &iss.CreatedAt, &iss.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &iss, nil
}

// List returns issuers, optionally only active ones.
func (r *IssuerRepo) List(ctx context.Context, activeOnly bool) ([]model.Issuer, error) {
	q := `
SELECT id, external_id, name, default_label, origin_ref, active, created_at, updated_at
FROM issuers`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Issuer
	for rows.Next() {
		var iss model.Issuer
		if err := rows.Scan(&iss.ID, &iss.ExternalID, &iss.Name, &iss.DefaultLabel,
			&iss.OriginRef, &iss.Active, &iss.CreatedAt, &iss.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, iss)
	}
	return out, rows.Err()
}

// Update applies configuration changes via COALESCE so untouched fields keep
// their values. Issuers are deactivated here, never deleted.
func (r *IssuerRepo) Update(ctx context.Context, id uuid.UUID, upd repository.IssuerUpdate) error {
	const q = `
UPDATE issuers
SET
  name          = COALESCE($2, name),
  default_label = COALESCE($3, default_label),
  origin_ref    = COALESCE($4, origin_ref),
  active        = COALESCE($5, active),
  updated_at    = now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, upd.Name, upd.DefaultLabel, upd.OriginRef, upd.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
