package repository

import (
	"context"

	"memberpass/internal/model"
)

// OperatorRepository provides access to staff accounts for admin API auth.
type OperatorRepository interface {
	// Create inserts a new operator.
	Create(ctx context.Context, op *model.Operator) error
	// GetByUsername loads an operator by username.
	GetByUsername(ctx context.Context, username string) (*model.Operator, error)
}
