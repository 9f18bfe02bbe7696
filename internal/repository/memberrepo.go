package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// MemberRepository provides access to cached member identity records.
type MemberRepository interface {
	// Upsert creates the member on first issuance or refreshes the display
	// name snapshot on later interactions, returning the current row.
	Upsert(ctx context.Context, externalID, displayName string) (*model.Member, error)
	// GetByID loads a member by internal id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Member, error)
	// GetByExternalID loads a member by its origin platform identifier.
	GetByExternalID(ctx context.Context, externalID string) (*model.Member, error)
}
