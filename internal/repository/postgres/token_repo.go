package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"memberpass/internal/errs"
	"memberpass/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL. The unique index on
// member_id guarantees at most one live token record per member.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Put stores the member's token record, superseding any previous one.
func (r *TokenRepo) Put(ctx context.Context, memberID uuid.UUID, accessEnc, refreshEnc []byte, expiresAt time.Time) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	const q = `
INSERT INTO oauth_tokens (id, member_id, access_enc, refresh_enc, expires_at, rotated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (member_id)
DO UPDATE SET access_enc=EXCLUDED.access_enc, refresh_enc=EXCLUDED.refresh_enc,
              expires_at=EXCLUDED.expires_at, rotated_at=now()`
	_, err = r.db.Pool.Exec(ctx, q, id, memberID, accessEnc, refreshEnc, expiresAt)
	return err
}

// GetByMember loads the member's live token record.
func (r *TokenRepo) GetByMember(ctx context.Context, memberID uuid.UUID) (*model.TokenRecord, error) {
	const q = `
SELECT id, member_id, access_enc, refresh_enc, expires_at, rotated_at
FROM oauth_tokens WHERE member_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, memberID)
	var t model.TokenRecord
	if err := row.Scan(&t.ID, &t.MemberID, &t.AccessEnc, &t.RefreshEnc, &t.ExpiresAt, &t.RotatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Rotate replaces token ciphertexts after a refresh. An empty refreshEnc
// keeps the previous refresh token (the origin may omit it on refresh).
func (r *TokenRepo) Rotate(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc []byte, expiresAt time.Time) error {
	const q = `
UPDATE oauth_tokens
SET access_enc=$2,
    refresh_enc=CASE WHEN octet_length($3)=0 THEN refresh_enc ELSE $3 END,
    expires_at=$4,
    rotated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, accessEnc, refreshEnc, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
