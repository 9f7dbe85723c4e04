package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuditSink records engine actions. The audit service satisfies it; recording
// must never fail the operation being recorded.
type AuditSink interface {
	RecordAction(ctx context.Context, action, actorID string, resourceType, resourceID *string, metadata map[string]interface{})
	LastActionAt(ctx context.Context, actorID string, actions ...string) (*time.Time, error)
}

// BatchRequest is the wire shape of a sync upload. The beacon endpoint accepts
// the same shape as an opaque body.
type BatchRequest struct {
	DeviceID string     `json:"device_id,omitempty"`
	Items    []SyncItem `json:"items"`
}

const defaultItemTimeout = 5 * time.Second

// Service drains offline queues against the authoritative store. Items are
// processed strictly in order, each in isolation; one item's failure never
// aborts the batch.
type Service struct {
	registry    *Registry
	conflicts   ConflictRepository
	audit       AuditSink
	log         zerolog.Logger
	itemTimeout time.Duration
}

func NewService(registry *Registry, conflicts ConflictRepository, audit AuditSink, log zerolog.Logger, itemTimeout time.Duration) *Service {
	if itemTimeout <= 0 {
		itemTimeout = defaultItemTimeout
	}
	return &Service{
		registry:    registry,
		conflicts:   conflicts,
		audit:       audit,
		log:         log,
		itemTimeout: itemTimeout,
	}
}

// ProcessBatch processes every item in submission order and returns one result
// per item, in the same order.
func (s *Service) ProcessBatch(ctx context.Context, actorID string, req *BatchRequest) []ItemResult {
	results := make([]ItemResult, 0, len(req.Items))
	conflictCount, errorCount := 0, 0
	for _, item := range req.Items {
		if item.DeviceID == "" {
			item.DeviceID = req.DeviceID
		}
		res := s.processItem(ctx, actorID, item)
		if res.Conflict {
			conflictCount++
		}
		if res.Error != "" {
			errorCount++
		}
		results = append(results, res)
	}
	s.audit.RecordAction(ctx, ActionSyncBatch, actorID, nil, nil, map[string]interface{}{
		"device_id":      req.DeviceID,
		"item_count":     len(req.Items),
		"conflict_count": conflictCount,
		"error_count":    errorCount,
	})
	return results
}

// ProcessBeacon handles the fire-and-forget upload sent when a browser tab
// closes. The body is parsed and processed like a normal batch; every failure
// is logged and swallowed because no client is listening for the response.
func (s *Service) ProcessBeacon(ctx context.Context, actorID string, body []byte) {
	var req BatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warn().Err(err).Str("actor_id", actorID).Msg("beacon body unparseable, dropped")
		s.audit.RecordAction(ctx, ActionSyncBeacon, actorID, nil, nil, map[string]interface{}{
			"error": "unparseable body",
		})
		return
	}
	conflictCount, errorCount := 0, 0
	for _, item := range req.Items {
		if item.DeviceID == "" {
			item.DeviceID = req.DeviceID
		}
		res := s.processItem(ctx, actorID, item)
		if res.Conflict {
			conflictCount++
		}
		if res.Error != "" {
			errorCount++
			s.log.Warn().
				Str("actor_id", actorID).
				Str("client_item_id", item.ClientItemID).
				Str("error", res.Error).
				Msg("beacon item failed")
		}
	}
	s.audit.RecordAction(ctx, ActionSyncBeacon, actorID, nil, nil, map[string]interface{}{
		"device_id":      req.DeviceID,
		"item_count":     len(req.Items),
		"conflict_count": conflictCount,
		"error_count":    errorCount,
	})
}

// processItem runs one queued operation under its own deadline. Panics and
// timeouts are converted into error outcomes so the rest of the batch runs.
func (s *Service) processItem(ctx context.Context, actorID string, item SyncItem) (res ItemResult) {
	res = ItemResult{ClientItemID: item.ClientItemID}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("client_item_id", item.ClientItemID).
				Msg("sync item panicked")
			res = ItemResult{ClientItemID: item.ClientItemID, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	syncr, ok := s.registry.Lookup(item.ResourceType)
	if !ok {
		res.Error = fmt.Sprintf("%s: %q", ErrUnknownResourceType, item.ResourceType)
		return res
	}
	method, ok := normalizeMethod(item.Method)
	if !ok {
		res.Error = fmt.Sprintf("unknown method %q", item.Method)
		return res
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(item.Body, &fields); err != nil {
		res.Error = fmt.Sprintf("invalid body: %v", err)
		return res
	}

	id := item.ResourceID
	if id == "" {
		id, _ = strField(fields, "id")
	}

	switch method {
	case MethodCreate:
		if id == "" {
			id = uuid.New().String()
		}
		return s.applyCreate(ctx, actorID, item, syncr, id, fields)
	default:
		if id == "" {
			res.Error = "update requires a resource id"
			return res
		}
		return s.applyUpdate(ctx, actorID, item, syncr, id, fields)
	}
}

// applyCreate inserts the record, treating an existing record under the same
// client-supplied id as an already-applied retry rather than a failure.
func (s *Service) applyCreate(ctx context.Context, actorID string, item SyncItem, syncr ResourceSynchronizer, id string, fields map[string]interface{}) ItemResult {
	res := ItemResult{ClientItemID: item.ClientItemID}

	snap, err := syncr.Fetch(ctx, id)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if snap != nil {
		res.Success = true
		res.ResourceID = id
		return res
	}
	if err := syncr.Create(ctx, id, fields, actorID); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.ResourceID = id
	return res
}

// applyUpdate writes the client's changes only when the server record has not
// moved past the client's base version. A record that moved yields a Conflict;
// a record that never existed is created (the offline client saw it first).
func (s *Service) applyUpdate(ctx context.Context, actorID string, item SyncItem, syncr ResourceSynchronizer, id string, fields map[string]interface{}) ItemResult {
	res := ItemResult{ClientItemID: item.ClientItemID}

	snap, err := syncr.Fetch(ctx, id)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if snap == nil {
		if err := syncr.Create(ctx, id, fields, actorID); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
		res.ResourceID = id
		return res
	}

	if snap.Stamp.After(item.LocalUpdatedAt) {
		return s.raiseConflict(ctx, actorID, item, id, snap)
	}

	err = syncr.Apply(ctx, id, fields, snap.Stamp)
	if errors.Is(err, ErrStaleWrite) {
		// Lost the race between read and write. Re-read and record the
		// conflict against the version that beat us.
		fresh, ferr := syncr.Fetch(ctx, id)
		if ferr != nil || fresh == nil {
			res.Error = fmt.Sprintf("resource changed during sync: %v", err)
			return res
		}
		return s.raiseConflict(ctx, actorID, item, id, fresh)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.ResourceID = id
	return res
}

func (s *Service) raiseConflict(ctx context.Context, actorID string, item SyncItem, id string, snap *Snapshot) ItemResult {
	res := ItemResult{ClientItemID: item.ClientItemID}

	c := &Conflict{
		ResourceType:  item.ResourceType,
		ResourceID:    id,
		LocalVersion:  item.Body,
		ServerVersion: snap.Document,
		DetectedBy:    actorID,
		Status:        StatusPending,
	}
	if err := s.conflicts.Create(ctx, c); err != nil {
		res.Error = fmt.Sprintf("conflict detected but not recorded: %v", err)
		return res
	}

	rt := string(item.ResourceType)
	s.audit.RecordAction(ctx, ActionConflictDetected, actorID, &rt, &id, map[string]interface{}{
		"conflict_id":    c.ID.String(),
		"client_item_id": item.ClientItemID,
		"device_id":      item.DeviceID,
	})

	res.Conflict = true
	res.ConflictID = &c.ID
	res.ServerVersion = snap.Document
	res.ClientVersion = item.Body
	return res
}

// Resolve settles a pending conflict with the chosen strategy. use_server
// keeps the authoritative record as is; use_client replays the stored local
// version over it; merge is rejected before any state changes.
func (s *Service) Resolve(ctx context.Context, actorID string, id uuid.UUID, resolution Resolution) (*Conflict, error) {
	if !ValidResolution(resolution) {
		return nil, fmt.Errorf("invalid resolution %q", resolution)
	}
	if resolution == ResolutionMerge {
		return nil, ErrMergeNotSupported
	}

	c, err := s.conflicts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusResolved {
		return nil, ErrConflictResolved
	}

	if resolution == ResolutionUseClient {
		syncr, ok := s.registry.Lookup(c.ResourceType)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, c.ResourceType)
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(c.LocalVersion, &fields); err != nil {
			return nil, fmt.Errorf("stored local version unparseable: %w", err)
		}
		if err := syncr.Overwrite(ctx, c.ResourceID, fields); err != nil {
			return nil, fmt.Errorf("replaying client version: %w", err)
		}
	}

	resolved, err := s.conflicts.MarkResolved(ctx, id, resolution, actorID)
	if err != nil {
		return nil, err
	}

	rt := string(resolved.ResourceType)
	s.audit.RecordAction(ctx, ActionConflictResolved, actorID, &rt, &resolved.ResourceID, map[string]interface{}{
		"conflict_id": resolved.ID.String(),
		"resolution":  string(resolution),
	})
	return resolved, nil
}

func (s *Service) GetConflict(ctx context.Context, id uuid.UUID) (*Conflict, error) {
	return s.conflicts.GetByID(ctx, id)
}

// ListConflicts returns the caller's conflicts in the given status, most
// recently detected first.
func (s *Service) ListConflicts(ctx context.Context, actorID string, status ConflictStatus, limit, offset int) ([]*Conflict, int, error) {
	return s.conflicts.ListByDetector(ctx, actorID, status, limit, offset)
}

// Status reports the caller's pending conflict count and last sync time for
// client UI badges.
func (s *Service) Status(ctx context.Context, actorID string) (*SyncStatus, error) {
	count, err := s.conflicts.CountPendingByDetector(ctx, actorID)
	if err != nil {
		return nil, err
	}
	last, err := s.audit.LastActionAt(ctx, actorID, ActionSyncBatch, ActionSyncBeacon)
	if err != nil {
		return nil, err
	}
	return &SyncStatus{PendingConflictCount: count, LastSyncAt: last}, nil
}
