package httpserver

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const operatorIDKey ctxKey = "mp.operatorID"

// WithOperatorID stores the authenticated operator ID in context.
func WithOperatorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, operatorIDKey, id)
}

// OperatorIDFromCtx fetches the operator ID from context.
func OperatorIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(operatorIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
