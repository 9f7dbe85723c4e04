package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/occuhealth/ehr/internal/domain/patient"
)

// patientFields is the allow-list of client-writable patient columns.
var patientFields = map[string]bool{
	"first_name":  true,
	"last_name":   true,
	"birth_date":  true,
	"gender":      true,
	"email":       true,
	"phone":       true,
	"employee_id": true,
	"employer":    true,
	"worksite":    true,
	"job_title":   true,
	"department":  true,
}

// PatientSynchronizer adapts the patient repository to the sync engine.
type PatientSynchronizer struct {
	repo patient.Repository
}

func NewPatientSynchronizer(repo patient.Repository) *PatientSynchronizer {
	return &PatientSynchronizer{repo: repo}
}

func (s *PatientSynchronizer) Type() ResourceType { return ResourcePatient }

func (s *PatientSynchronizer) Fetch(ctx context.Context, id string) (*Snapshot, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid patient id: %w", err)
	}
	p, err := s.repo.GetByID(ctx, pid)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: p.ID.String(), Stamp: p.LastModified(), Document: doc}, nil
}

func (s *PatientSynchronizer) Create(ctx context.Context, id string, fields map[string]interface{}, callerID string) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid patient id: %w", err)
	}
	p := &patient.Patient{ID: pid, CreatedBy: callerID}
	applyPatientFields(p, filterFields(fields, patientFields))
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.repo.Create(ctx, p)
}

func (s *PatientSynchronizer) Apply(ctx context.Context, id string, fields map[string]interface{}, expected time.Time) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid patient id: %w", err)
	}
	p, err := s.repo.GetByID(ctx, pid)
	if err != nil {
		return err
	}
	applyPatientFields(p, filterFields(fields, patientFields))
	ok, err := s.repo.UpdateIfUnmodified(ctx, p, expected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleWrite
	}
	return nil
}

func (s *PatientSynchronizer) Overwrite(ctx context.Context, id string, fields map[string]interface{}) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid patient id: %w", err)
	}
	p, err := s.repo.GetByID(ctx, pid)
	if err != nil {
		return err
	}
	applyPatientFields(p, filterFields(fields, patientFields))
	return s.repo.Update(ctx, p)
}

func applyPatientFields(p *patient.Patient, fields map[string]interface{}) {
	if v, ok := strField(fields, "first_name"); ok {
		p.FirstName = v
	}
	if v, ok := strField(fields, "last_name"); ok {
		p.LastName = v
	}
	if v, ok := timeField(fields, "birth_date"); ok {
		p.BirthDate = &v
	}
	for key, dst := range map[string]**string{
		"gender":      &p.Gender,
		"email":       &p.Email,
		"phone":       &p.Phone,
		"employee_id": &p.EmployeeID,
		"employer":    &p.Employer,
		"worksite":    &p.Worksite,
		"job_title":   &p.JobTitle,
		"department":  &p.Department,
	} {
		if v := strPtrField(fields, key); v != nil {
			*dst = v
		}
	}
}
