package store

import (
	"context"
	"time"

	"github.com/hyperengineering/mealclarify/internal/types"
)

// ClarificationStore defines the contract for pending clarification storage.
// At most one record exists per user; every mutation for a user is
// serialized with every other mutation, read and sweep removal for that user.
type ClarificationStore interface {
	HasPending(ctx context.Context, userID string) (bool, error)
	// Store replaces any record for rec.UserID and returns only once the
	// record is durable. It assigns rec.ID and, when zero, rec.CreatedAt.
	Store(ctx context.Context, rec *types.PendingClarification) error
	Get(ctx context.Context, userID string) (*types.PendingClarification, error)
	Clear(ctx context.Context, userID string) error
	SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error)
	List(ctx context.Context) ([]*types.PendingClarification, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}
