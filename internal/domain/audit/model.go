package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry maps to the audit_log table. One row per recorded action; rows are
// append-only.
type Entry struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Action       string          `db:"action" json:"action"`
	ActorID      string          `db:"actor_id" json:"actor_id"`
	ResourceType *string         `db:"resource_type" json:"resource_type,omitempty"`
	ResourceID   *string         `db:"resource_id" json:"resource_id,omitempty"`
	Metadata     json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
