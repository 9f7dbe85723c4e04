package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Encounter maps to the encounter table. One row per occupational-health
// visit: injury evaluations, fitness-for-duty exams, surveillance visits.
type Encounter struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	Type           string    `db:"type" json:"type"`
	Status         string    `db:"status" json:"status"`
	OccurredAt     time.Time `db:"occurred_at" json:"occurred_at"`
	ChiefComplaint *string   `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Assessment     *string   `db:"assessment" json:"assessment,omitempty"`
	Disposition    *string   `db:"disposition" json:"disposition,omitempty"`
	WorkRelated    bool      `db:"work_related" json:"work_related"`
	ProviderID     *string   `db:"provider_id" json:"provider_id,omitempty"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LastModified returns updated_at, falling back to created_at for records
// that were never updated.
func (e *Encounter) LastModified() time.Time {
	if e.UpdatedAt.IsZero() {
		return e.CreatedAt
	}
	return e.UpdatedAt
}
