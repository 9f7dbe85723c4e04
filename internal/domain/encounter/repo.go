package encounter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no encounter with the given id exists.
var ErrNotFound = errors.New("encounter not found")

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error

	// UpdateIfUnmodified writes enc only if the row's updated_at still
	// equals expected. Returns false (and no error) when the row was
	// modified in the meantime; ErrNotFound when the row is gone.
	UpdateIfUnmodified(ctx context.Context, enc *Encounter, expected time.Time) (bool, error)

	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
}
