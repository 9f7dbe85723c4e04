package audit

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, e *Entry) error

	// LastActionAt returns the most recent created_at among the actor's
	// entries matching any of the given actions, or nil when there are none.
	LastActionAt(ctx context.Context, actorID string, actions ...string) (*time.Time, error)
}
