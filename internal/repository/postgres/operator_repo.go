package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"memberpass/internal/errs"
	"memberpass/internal/model"
)

// OperatorRepo implements OperatorRepository using PostgreSQL.
type OperatorRepo struct{ db *DB }

// NewOperatorRepo constructs an operator repository.
func NewOperatorRepo(db *DB) *OperatorRepo { return &OperatorRepo{db: db} }

// Create inserts a new operator.
func (r *OperatorRepo) Create(ctx context.Context, op *model.Operator) error {
	const q = `
INSERT INTO operators (id, username, pwd_hash, salt)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, op.ID, op.Username, op.PwdHash, op.Salt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByUsername loads an operator by username.
func (r *OperatorRepo) GetByUsername(ctx context.Context, username string) (*model.Operator, error) {
	const q = `
SELECT id, username, pwd_hash, salt, created_at
FROM operators WHERE username=$1`
	row := r.db.Pool.QueryRow(ctx, q, username)
	var op model.Operator
	if err := row.Scan(&op.ID, &op.Username, &op.PwdHash, &op.Salt, &op.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}
