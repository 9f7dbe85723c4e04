package sync

import (
	"context"

	"github.com/google/uuid"
)

// ConflictRepository persists conflict records. Resolved records are never
// mutated again and never deleted.
type ConflictRepository interface {
	Create(ctx context.Context, c *Conflict) error
	GetByID(ctx context.Context, id uuid.UUID) (*Conflict, error)

	// MarkResolved transitions a pending conflict to resolved. Returns
	// ErrConflictNotFound when no record exists and ErrConflictResolved when
	// the record was already resolved; the transition happens at most once.
	MarkResolved(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string) (*Conflict, error)

	ListByDetector(ctx context.Context, detectedBy string, status ConflictStatus, limit, offset int) ([]*Conflict, int, error)
	CountPendingByDetector(ctx context.Context, detectedBy string) (int, error)
}
