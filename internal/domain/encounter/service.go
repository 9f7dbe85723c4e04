package encounter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Visit types recognized for occupational-health encounters.
var validTypes = map[string]bool{
	"injury_evaluation": true,
	"illness_visit":     true,
	"fitness_for_duty":  true,
	"surveillance":      true,
	"pre_placement":     true,
	"followup":          true,
	"telehealth":        true,
}

var validStatuses = map[string]bool{
	"scheduled":   true,
	"in_progress": true,
	"completed":   true,
	"cancelled":   true,
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if enc.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !validTypes[enc.Type] {
		return fmt.Errorf("invalid type: %s", enc.Type)
	}
	if enc.Status == "" {
		enc.Status = "scheduled"
	}
	if !validStatuses[enc.Status] {
		return fmt.Errorf("invalid status: %s", enc.Status)
	}
	if enc.OccurredAt.IsZero() {
		enc.OccurredAt = time.Now().UTC()
	}
	return s.repo.Create(ctx, enc)
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.Type != "" && !validTypes[enc.Type] {
		return fmt.Errorf("invalid type: %s", enc.Type)
	}
	if enc.Status != "" && !validStatuses[enc.Status] {
		return fmt.Errorf("invalid status: %s", enc.Status)
	}
	return s.repo.Update(ctx, enc)
}

func (s *Service) DeleteEncounter(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListEncountersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
