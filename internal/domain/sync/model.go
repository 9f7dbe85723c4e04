package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResourceType identifies a kind of syncable resource. Each type must have a
// ResourceSynchronizer registered for it.
type ResourceType string

const (
	ResourcePatient   ResourceType = "patient"
	ResourceEncounter ResourceType = "encounter"
)

// Method is the client's intent for a queued operation.
type Method string

const (
	MethodCreate Method = "create"
	MethodUpdate Method = "update"
)

// SyncItem is a single queued offline operation submitted by a client device.
// It is consumed exactly once per sync call and never persisted on its own;
// its content survives only inside the resource (if applied) or a Conflict
// record (if one is raised).
type SyncItem struct {
	ClientItemID   string          `json:"client_item_id"`
	ResourceType   ResourceType    `json:"resource_type"`
	Method         string          `json:"method"`
	ResourceID     string          `json:"resource_id,omitempty"`
	Body           json.RawMessage `json:"body"`
	LocalUpdatedAt time.Time       `json:"local_updated_at"`
	DeviceID       string          `json:"device_id,omitempty"`
}

// ItemResult is the per-item outcome of processing a SyncItem. Exactly one of
// the three shapes applies: success (ResourceID set), conflict (ConflictID
// plus both version snapshots set), or error (Error set).
type ItemResult struct {
	ClientItemID  string          `json:"client_item_id"`
	Success       bool            `json:"success"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Conflict      bool            `json:"conflict,omitempty"`
	ConflictID    *uuid.UUID      `json:"conflict_id,omitempty"`
	ServerVersion json.RawMessage `json:"server_version,omitempty"`
	ClientVersion json.RawMessage `json:"client_version,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ConflictStatus is the lifecycle state of a Conflict record.
type ConflictStatus string

const (
	StatusPending  ConflictStatus = "pending"
	StatusResolved ConflictStatus = "resolved"
)

// Resolution is the caller-chosen outcome for a pending conflict.
type Resolution string

const (
	ResolutionUseServer Resolution = "use_server"
	ResolutionUseClient Resolution = "use_client"
	ResolutionMerge     Resolution = "merge"
)

// ValidResolution reports whether r is one of the recognized strategies.
func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionUseServer, ResolutionUseClient, ResolutionMerge:
		return true
	}
	return false
}

// Conflict maps to the sync_conflict table. Both version snapshots are stored
// as opaque JSON blobs; the store does not interpret resource internals.
// Once resolved, the record is immutable and retained for audit purposes.
type Conflict struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	ResourceType  ResourceType    `db:"resource_type" json:"resource_type"`
	ResourceID    string          `db:"resource_id" json:"resource_id"`
	LocalVersion  json.RawMessage `db:"local_version" json:"local_version"`
	ServerVersion json.RawMessage `db:"server_version" json:"server_version"`
	DetectedBy    string          `db:"detected_by" json:"detected_by"`
	DetectedAt    time.Time       `db:"detected_at" json:"detected_at"`
	Status        ConflictStatus  `db:"status" json:"status"`
	Resolution    *Resolution     `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy    *string         `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// SyncStatus is the read-only snapshot returned to clients for UI badges.
type SyncStatus struct {
	PendingConflictCount int        `json:"pending_conflict_count"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
}

// Audit action names recorded by the engine.
const (
	ActionSyncBatch        = "sync.batch"
	ActionSyncBeacon       = "sync.beacon"
	ActionConflictDetected = "sync.conflict_detected"
	ActionConflictResolved = "sync.conflict_resolved"
)

// normalizeMethod maps client-supplied method strings (HTTP verbs or intent
// names) onto the create/update intent. Returns false for anything else.
func normalizeMethod(m string) (Method, bool) {
	switch m {
	case "POST", "post", "create", "CREATE":
		return MethodCreate, true
	case "PUT", "put", "PATCH", "patch", "update", "UPDATE":
		return MethodUpdate, true
	}
	return "", false
}
