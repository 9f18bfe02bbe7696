package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// TokenRepository stores per-member encrypted OAuth token material.
// At most one live record per member: Put supersedes, Rotate replaces tokens
// in place.
type TokenRepository interface {
	// Put stores (or supersedes) the member's token record.
	Put(ctx context.Context, memberID uuid.UUID, accessEnc, refreshEnc []byte, expiresAt time.Time) error
	// GetByMember loads the member's live token record.
	GetByMember(ctx context.Context, memberID uuid.UUID) (*model.TokenRecord, error)
	// Rotate replaces token ciphertexts after a refresh. An empty refreshEnc
	// keeps the previous refresh token.
	Rotate(ctx context.Context, id uuid.UUID, accessEnc, refreshEnc []byte, expiresAt time.Time) error
}
