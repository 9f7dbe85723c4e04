package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Demographics are kept to what an
// occupational-health record needs: identity plus employer placement.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender     *string    `db:"gender" json:"gender,omitempty"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	EmployeeID *string    `db:"employee_id" json:"employee_id,omitempty"`
	Employer   *string    `db:"employer" json:"employer,omitempty"`
	Worksite   *string    `db:"worksite" json:"worksite,omitempty"`
	JobTitle   *string    `db:"job_title" json:"job_title,omitempty"`
	Department *string    `db:"department" json:"department,omitempty"`
	CreatedBy  string     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// LastModified returns updated_at, falling back to created_at for records
// that were never updated.
func (p *Patient) LastModified() time.Time {
	if p.UpdatedAt.IsZero() {
		return p.CreatedAt
	}
	return p.UpdatedAt
}
