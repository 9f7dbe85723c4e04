package sync

import (
	"context"
	"encoding/json"
	"time"
)

// Snapshot is the authoritative view of a resource at read time. Stamp is the
// resource's updated_at, falling back to created_at if it was never updated;
// it is the sole oracle for conflict detection. Document is the full record
// serialized for conflict snapshots.
type Snapshot struct {
	ID       string
	Stamp    time.Time
	Document json.RawMessage
}

// ResourceSynchronizer turns a generic sync payload into reads and writes
// against one kind of authoritative resource. One implementation exists per
// ResourceType; adding a syncable resource kind means adding an
// implementation and registering it.
type ResourceSynchronizer interface {
	Type() ResourceType

	// Fetch returns the current authoritative record, or nil when no record
	// with the id exists.
	Fetch(ctx context.Context, id string) (*Snapshot, error)

	// Create inserts a new record from allow-listed fields. The id is the
	// client-supplied identifier for offline-originated records (idempotent
	// retries), or a freshly generated one.
	Create(ctx context.Context, id string, fields map[string]interface{}, callerID string) error

	// Apply updates the record only if its stamp still equals expected; a
	// concurrent modification yields ErrStaleWrite and no mutation.
	Apply(ctx context.Context, id string, fields map[string]interface{}, expected time.Time) error

	// Overwrite updates the record unconditionally. Used by use_client
	// conflict resolution, where the caller has explicitly chosen to
	// discard the server version.
	Overwrite(ctx context.Context, id string, fields map[string]interface{}) error
}

// Registry holds the closed set of synchronizers, keyed by resource type.
type Registry struct {
	byType map[ResourceType]ResourceSynchronizer
}

func NewRegistry(syncs ...ResourceSynchronizer) *Registry {
	r := &Registry{byType: make(map[ResourceType]ResourceSynchronizer, len(syncs))}
	for _, s := range syncs {
		r.byType[s.Type()] = s
	}
	return r
}

// Lookup returns the synchronizer for t, or false when t is not a recognized
// resource type.
func (r *Registry) Lookup(t ResourceType) (ResourceSynchronizer, bool) {
	s, ok := r.byType[t]
	return s, ok
}

// bookkeepingFields are offline-client metadata that must never reach the
// authoritative store. Stripped from every payload before a write.
var bookkeepingFields = map[string]bool{
	"id":               true,
	"client_item_id":   true,
	"device_id":        true,
	"local_updated_at": true,
	"sync_pending":     true,
	"offline_created":  true,
	"created_at":       true,
	"updated_at":       true,
	"created_by":       true,
}

// filterFields strips bookkeeping fields and anything outside the per-type
// allow-list from a client payload.
func filterFields(fields map[string]interface{}, allowed map[string]bool) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if bookkeepingFields[k] || !allowed[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func strField(fields map[string]interface{}, key string) (string, bool) {
	v, ok := fields[key].(string)
	return v, ok && v != ""
}

func strPtrField(fields map[string]interface{}, key string) *string {
	if v, ok := fields[key].(string); ok {
		return &v
	}
	return nil
}

func boolField(fields map[string]interface{}, key string) (bool, bool) {
	v, ok := fields[key].(bool)
	return v, ok
}

func timeField(fields map[string]interface{}, key string) (time.Time, bool) {
	s, ok := fields[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
