package sync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type conflictRepoPG struct {
	pool *pgxpool.Pool
}

func NewConflictRepo(pool *pgxpool.Pool) ConflictRepository {
	return &conflictRepoPG{pool: pool}
}

const conflictCols = `id, resource_type, resource_id, local_version, server_version,
	detected_by, detected_at, status, resolution, resolved_by, resolved_at`

func (r *conflictRepoPG) Create(ctx context.Context, c *Conflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO sync_conflict (
			id, resource_type, resource_id, local_version, server_version,
			detected_by, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING detected_at`,
		c.ID, c.ResourceType, c.ResourceID, c.LocalVersion, c.ServerVersion,
		c.DetectedBy, StatusPending,
	).Scan(&c.DetectedAt)
}

func (r *conflictRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Conflict, error) {
	c, err := scanConflict(r.pool.QueryRow(ctx,
		`SELECT `+conflictCols+` FROM sync_conflict WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	return c, err
}

func (r *conflictRepoPG) MarkResolved(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string) (*Conflict, error) {
	c, err := scanConflict(r.pool.QueryRow(ctx, `
		UPDATE sync_conflict SET
			status=$2, resolution=$3, resolved_by=$4, resolved_at=NOW()
		WHERE id = $1 AND status = $5
		RETURNING `+conflictCols,
		id, StatusResolved, resolution, resolvedBy, StatusPending,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Zero rows: either the record is gone or another caller resolved it.
	var status ConflictStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM sync_conflict WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrConflictResolved
}

func (r *conflictRepoPG) ListByDetector(ctx context.Context, detectedBy string, status ConflictStatus, limit, offset int) ([]*Conflict, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_conflict WHERE detected_by = $1 AND status = $2`,
		detectedBy, status,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+conflictCols+` FROM sync_conflict
		 WHERE detected_by = $1 AND status = $2
		 ORDER BY detected_at DESC LIMIT $3 OFFSET $4`,
		detectedBy, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, total, rows.Err()
}

func (r *conflictRepoPG) CountPendingByDetector(ctx context.Context, detectedBy string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_conflict WHERE detected_by = $1 AND status = $2`,
		detectedBy, StatusPending,
	).Scan(&count)
	return count, err
}

func scanConflict(row pgx.Row) (*Conflict, error) {
	var c Conflict
	err := row.Scan(
		&c.ID, &c.ResourceType, &c.ResourceID, &c.LocalVersion, &c.ServerVersion,
		&c.DetectedBy, &c.DetectedAt, &c.Status, &c.Resolution, &c.ResolvedBy, &c.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
