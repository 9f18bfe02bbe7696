package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"memberpass/internal/model"
)

// IssuerUpdate carries mutable issuer configuration fields. Nil means keep.
type IssuerUpdate struct {
	Name         *string
	DefaultLabel *string
	OriginRef    *string
	Active       *bool
}

// IssuerRepository provides access to issuer configuration. Issuers are
// deactivated, never deleted.
type IssuerRepository interface {
	// Create inserts a new issuer.
	Create(ctx context.Context, iss *model.Issuer) error
	// GetByID loads an issuer by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Issuer, error)
	// List returns issuers, optionally only active ones.
	List(ctx context.Context, activeOnly bool) ([]model.Issuer, error)
	// Update applies configuration changes and activation toggling.
	Update(ctx context.Context, id uuid.UUID, upd IssuerUpdate) error
}
