package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/occuhealth/ehr/internal/domain/encounter"
)

// encounterFields is the allow-list of client-writable encounter columns.
var encounterFields = map[string]bool{
	"patient_id":      true,
	"type":            true,
	"status":          true,
	"occurred_at":     true,
	"chief_complaint": true,
	"assessment":      true,
	"disposition":     true,
	"work_related":    true,
	"provider_id":     true,
}

// EncounterSynchronizer adapts the encounter repository to the sync engine.
type EncounterSynchronizer struct {
	repo encounter.Repository
}

func NewEncounterSynchronizer(repo encounter.Repository) *EncounterSynchronizer {
	return &EncounterSynchronizer{repo: repo}
}

func (s *EncounterSynchronizer) Type() ResourceType { return ResourceEncounter }

func (s *EncounterSynchronizer) Fetch(ctx context.Context, id string) (*Snapshot, error) {
	eid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid encounter id: %w", err)
	}
	e, err := s.repo.GetByID(ctx, eid)
	if errors.Is(err, encounter.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: e.ID.String(), Stamp: e.LastModified(), Document: doc}, nil
}

func (s *EncounterSynchronizer) Create(ctx context.Context, id string, fields map[string]interface{}, callerID string) error {
	eid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid encounter id: %w", err)
	}
	e := &encounter.Encounter{ID: eid, CreatedBy: callerID}
	if err := applyEncounterFields(e, filterFields(fields, encounterFields)); err != nil {
		return err
	}
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Status == "" {
		e.Status = "scheduled"
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return s.repo.Create(ctx, e)
}

func (s *EncounterSynchronizer) Apply(ctx context.Context, id string, fields map[string]interface{}, expected time.Time) error {
	eid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid encounter id: %w", err)
	}
	e, err := s.repo.GetByID(ctx, eid)
	if err != nil {
		return err
	}
	if err := applyEncounterFields(e, filterFields(fields, encounterFields)); err != nil {
		return err
	}
	ok, err := s.repo.UpdateIfUnmodified(ctx, e, expected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleWrite
	}
	return nil
}

func (s *EncounterSynchronizer) Overwrite(ctx context.Context, id string, fields map[string]interface{}) error {
	eid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid encounter id: %w", err)
	}
	e, err := s.repo.GetByID(ctx, eid)
	if err != nil {
		return err
	}
	if err := applyEncounterFields(e, filterFields(fields, encounterFields)); err != nil {
		return err
	}
	return s.repo.Update(ctx, e)
}

func applyEncounterFields(e *encounter.Encounter, fields map[string]interface{}) error {
	if v, ok := strField(fields, "patient_id"); ok {
		pid, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid patient_id: %w", err)
		}
		e.PatientID = pid
	}
	if v, ok := strField(fields, "type"); ok {
		e.Type = v
	}
	if v, ok := strField(fields, "status"); ok {
		e.Status = v
	}
	if v, ok := timeField(fields, "occurred_at"); ok {
		e.OccurredAt = v
	}
	if v, ok := boolField(fields, "work_related"); ok {
		e.WorkRelated = v
	}
	for key, dst := range map[string]**string{
		"chief_complaint": &e.ChiefComplaint,
		"assessment":      &e.Assessment,
		"disposition":     &e.Disposition,
		"provider_id":     &e.ProviderID,
	} {
		if v := strPtrField(fields, key); v != nil {
			*dst = v
		}
	}
	return nil
}
