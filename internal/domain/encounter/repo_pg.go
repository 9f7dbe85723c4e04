package encounter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const encCols = `id, patient_id, type, status, occurred_at, chief_complaint,
	assessment, disposition, work_related, provider_id,
	created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO encounter (
			id, patient_id, type, status, occurred_at, chief_complaint,
			assessment, disposition, work_related, provider_id, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		enc.ID, enc.PatientID, enc.Type, enc.Status, enc.OccurredAt, enc.ChiefComplaint,
		enc.Assessment, enc.Disposition, enc.WorkRelated, enc.ProviderID, enc.CreatedBy,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.pool.QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return enc, err
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE encounter SET
			type=$2, status=$3, occurred_at=$4, chief_complaint=$5,
			assessment=$6, disposition=$7, work_related=$8, provider_id=$9,
			updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.Type, enc.Status, enc.OccurredAt, enc.ChiefComplaint,
		enc.Assessment, enc.Disposition, enc.WorkRelated, enc.ProviderID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateIfUnmodified(ctx context.Context, enc *Encounter, expected time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE encounter SET
			type=$2, status=$3, occurred_at=$4, chief_complaint=$5,
			assessment=$6, disposition=$7, work_related=$8, provider_id=$9,
			updated_at=NOW()
		WHERE id = $1 AND updated_at = $10`,
		enc.ID, enc.Type, enc.Status, enc.OccurredAt, enc.ChiefComplaint,
		enc.Assessment, enc.Disposition, enc.WorkRelated, enc.ProviderID, expected,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM encounter WHERE id = $1)`, enc.ID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM encounter WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+encCols+` FROM encounter ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE patient_id = $1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.PatientID, &e.Type, &e.Status, &e.OccurredAt, &e.ChiefComplaint,
		&e.Assessment, &e.Disposition, &e.WorkRelated, &e.ProviderID,
		&e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, e)
	}
	return encs, total, rows.Err()
}
