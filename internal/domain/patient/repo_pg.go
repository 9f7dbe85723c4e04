package patient

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

const patientCols = `id, first_name, last_name, birth_date, gender, email, phone,
	employee_id, employer, worksite, job_title, department,
	created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient (
			id, first_name, last_name, birth_date, gender, email, phone,
			employee_id, employer, worksite, job_title, department, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Email, p.Phone,
		p.EmployeeID, p.Employer, p.Worksite, p.JobTitle, p.Department, p.CreatedBy,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient SET
			first_name=$2, last_name=$3, birth_date=$4, gender=$5, email=$6, phone=$7,
			employee_id=$8, employer=$9, worksite=$10, job_title=$11, department=$12,
			updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Email, p.Phone,
		p.EmployeeID, p.Employer, p.Worksite, p.JobTitle, p.Department,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) UpdateIfUnmodified(ctx context.Context, p *Patient, expected time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient SET
			first_name=$2, last_name=$3, birth_date=$4, gender=$5, email=$6, phone=$7,
			employee_id=$8, employer=$9, worksite=$10, job_title=$11, department=$12,
			updated_at=NOW()
		WHERE id = $1 AND updated_at = $13`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Email, p.Phone,
		p.EmployeeID, p.Employer, p.Worksite, p.JobTitle, p.Department, expected,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish a stale stamp from a missing row.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY last_name, first_name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender, &p.Email, &p.Phone,
		&p.EmployeeID, &p.Employer, &p.Worksite, &p.JobTitle, &p.Department,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
