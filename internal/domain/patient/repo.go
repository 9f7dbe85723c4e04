package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no patient with the given id exists.
var ErrNotFound = errors.New("patient not found")

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error

	// UpdateIfUnmodified writes p only if the row's updated_at still equals
	// expected. Returns false (and no error) when the row was modified in
	// the meantime; ErrNotFound when the row is gone.
	UpdateIfUnmodified(ctx context.Context, p *Patient, expected time.Time) (bool, error)

	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
