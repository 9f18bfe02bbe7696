package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"memberpass/internal/errs"
	"memberpass/internal/model"
)

// MemberRepo implements MemberRepository using PostgreSQL.
type MemberRepo struct{ db *DB }

// NewMemberRepo constructs a member repository.
func NewMemberRepo(db *DB) *MemberRepo { return &MemberRepo{db: db} }

// Upsert creates the member on first contact or refreshes the display name
// snapshot, keyed by the stable external identifier.
func (r *MemberRepo) Upsert(ctx context.Context, externalID, displayName string) (*model.Member, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO members (id, external_id, display_name)
VALUES ($1, $2, $3)
ON CONFLICT (external_id)
DO UPDATE SET display_name=EXCLUDED.display_name, updated_at=now()
RETURNING id, external_id, display_name, created_at, updated_at`
	row := r.db.Pool.QueryRow(ctx, q, id, externalID, displayName)
	var m model.Member
	if err := row.Scan(&m.ID, &m.ExternalID, &m.DisplayName, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID loads a member by internal id.
func (r *MemberRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Member, error) {
	const q = `
SELECT id, external_id, display_name, created_at, updated_at
FROM members WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByExternalID loads a member by its origin platform identifier.
func (r *MemberRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Member, error) {
	const q = `
SELECT id, external_id, display_name, created_at, updated_at
FROM members WHERE external_id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, externalID))
}

func (r *MemberRepo) scanOne(row pgx.Row) (*model.Member, error) {
	var m model.Member
	if err := row.Scan(&m.ID, &m.ExternalID, &m.DisplayName, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}
