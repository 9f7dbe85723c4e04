package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, actor_id, resource_type, resource_id, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Action, e.ActorID, e.ResourceType, e.ResourceID, e.Metadata,
	)
	return err
}

func (r *repoPG) LastActionAt(ctx context.Context, actorID string, actions ...string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MAX(created_at) FROM audit_log
		WHERE actor_id = $1 AND action = ANY($2)`,
		actorID, actions,
	).Scan(&last)
	if err != nil {
		return nil, err
	}
	return last, nil
}
