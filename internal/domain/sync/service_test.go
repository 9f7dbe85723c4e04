package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Fakes --

type fakeRec struct {
	stamp  time.Time
	fields map[string]interface{}
}

// fakeSync is an in-memory ResourceSynchronizer.
type fakeSync struct {
	typ       ResourceType
	recs      map[string]*fakeRec
	staleOnce bool   // next Apply fails with ErrStaleWrite and bumps the stamp
	panicMsg  string // Fetch panics when set
}

func newFakeSync(typ ResourceType) *fakeSync {
	return &fakeSync{typ: typ, recs: make(map[string]*fakeRec)}
}

func (f *fakeSync) Type() ResourceType { return f.typ }

func (f *fakeSync) Fetch(_ context.Context, id string) (*Snapshot, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	rec, ok := f.recs[id]
	if !ok {
		return nil, nil
	}
	doc, _ := json.Marshal(rec.fields)
	return &Snapshot{ID: id, Stamp: rec.stamp, Document: doc}, nil
}

func (f *fakeSync) Create(_ context.Context, id string, fields map[string]interface{}, _ string) error {
	f.recs[id] = &fakeRec{stamp: time.Now(), fields: fields}
	return nil
}

func (f *fakeSync) Apply(_ context.Context, id string, fields map[string]interface{}, expected time.Time) error {
	rec, ok := f.recs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	if f.staleOnce {
		f.staleOnce = false
		rec.stamp = rec.stamp.Add(time.Minute)
		return ErrStaleWrite
	}
	if !rec.stamp.Equal(expected) {
		return ErrStaleWrite
	}
	rec.fields = fields
	rec.stamp = time.Now()
	return nil
}

func (f *fakeSync) Overwrite(_ context.Context, id string, fields map[string]interface{}) error {
	rec, ok := f.recs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	rec.fields = fields
	rec.stamp = time.Now()
	return nil
}

type mockConflictRepo struct {
	conflicts map[uuid.UUID]*Conflict
}

func newMockConflictRepo() *mockConflictRepo {
	return &mockConflictRepo{conflicts: make(map[uuid.UUID]*Conflict)}
}

func (m *mockConflictRepo) Create(_ context.Context, c *Conflict) error {
	c.ID = uuid.New()
	c.DetectedAt = time.Now()
	c.Status = StatusPending
	m.conflicts[c.ID] = c
	return nil
}

func (m *mockConflictRepo) GetByID(_ context.Context, id uuid.UUID) (*Conflict, error) {
	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	return c, nil
}

func (m *mockConflictRepo) MarkResolved(_ context.Context, id uuid.UUID, resolution Resolution, resolvedBy string) (*Conflict, error) {
	c, ok := m.conflicts[id]
	if !ok {
		return nil, ErrConflictNotFound
	}
	if c.Status == StatusResolved {
		return nil, ErrConflictResolved
	}
	now := time.Now()
	c.Status = StatusResolved
	c.Resolution = &resolution
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &now
	return c, nil
}

func (m *mockConflictRepo) ListByDetector(_ context.Context, detectedBy string, status ConflictStatus, limit, offset int) ([]*Conflict, int, error) {
	var result []*Conflict
	for _, c := range m.conflicts {
		if c.DetectedBy == detectedBy && c.Status == status {
			result = append(result, c)
		}
	}
	return result, len(result), nil
}

func (m *mockConflictRepo) CountPendingByDetector(_ context.Context, detectedBy string) (int, error) {
	count := 0
	for _, c := range m.conflicts {
		if c.DetectedBy == detectedBy && c.Status == StatusPending {
			count++
		}
	}
	return count, nil
}

type mockAudit struct {
	actions  []string
	lastSync *time.Time
}

func (m *mockAudit) RecordAction(_ context.Context, action, _ string, _, _ *string, _ map[string]interface{}) {
	m.actions = append(m.actions, action)
}

func (m *mockAudit) LastActionAt(_ context.Context, _ string, _ ...string) (*time.Time, error) {
	return m.lastSync, nil
}

func (m *mockAudit) has(action string) bool {
	for _, a := range m.actions {
		if a == action {
			return true
		}
	}
	return false
}

func newTestService(syncs ...ResourceSynchronizer) (*Service, *mockConflictRepo, *mockAudit) {
	conflicts := newMockConflictRepo()
	aud := &mockAudit{}
	svc := NewService(NewRegistry(syncs...), conflicts, aud, zerolog.Nop(), 0)
	return svc, conflicts, aud
}

func mkItem(t *testing.T, typ ResourceType, method, id string, local time.Time, fields map[string]interface{}) SyncItem {
	t.Helper()
	body, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return SyncItem{
		ClientItemID:   uuid.New().String(),
		ResourceType:   typ,
		Method:         method,
		ResourceID:     id,
		Body:           body,
		LocalUpdatedAt: local,
		DeviceID:       "device-1",
	}
}

// -- Batch processing --

func TestProcessBatch_CreateNewRecord(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, aud := newTestService(fs)

	id := uuid.New().String()
	item := mkItem(t, ResourcePatient, "POST", id, time.Now(), map[string]interface{}{
		"first_name": "Ana", "last_name": "Reyes",
	})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("expected success, got %+v", results[0])
	}
	if results[0].ResourceID != id {
		t.Errorf("expected resource id %s, got %s", id, results[0].ResourceID)
	}
	if _, ok := fs.recs[id]; !ok {
		t.Error("expected record to be created")
	}
	if !aud.has(ActionSyncBatch) {
		t.Error("expected batch audit entry")
	}
}

func TestProcessBatch_CreateGeneratesIDWhenMissing(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, _ := newTestService(fs)

	item := mkItem(t, ResourcePatient, "create", "", time.Now(), map[string]interface{}{
		"first_name": "Ana", "last_name": "Reyes",
	})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if !results[0].Success {
		t.Fatalf("expected success, got %+v", results[0])
	}
	if _, err := uuid.Parse(results[0].ResourceID); err != nil {
		t.Errorf("expected generated uuid, got %q", results[0].ResourceID)
	}
}

func TestProcessBatch_CreateIdempotentRetry(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, _ := newTestService(fs)

	id := uuid.New().String()
	item := mkItem(t, ResourcePatient, "POST", id, time.Now(), map[string]interface{}{
		"first_name": "Ana", "last_name": "Reyes",
	})

	first := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})
	stamp := fs.recs[id].stamp

	// Same item again, as a client retry after a dropped response.
	second := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if !first[0].Success || !second[0].Success {
		t.Fatalf("expected both attempts to succeed: %+v / %+v", first[0], second[0])
	}
	if len(fs.recs) != 1 {
		t.Fatalf("expected a single record, got %d", len(fs.recs))
	}
	if !fs.recs[id].stamp.Equal(stamp) {
		t.Error("retry must not rewrite the existing record")
	}
}

func TestProcessBatch_UpdateApplied(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, conflicts, _ := newTestService(fs)

	id := uuid.New().String()
	serverStamp := time.Date(2025, 6, 1, 8, 55, 0, 0, time.UTC)
	fs.recs[id] = &fakeRec{stamp: serverStamp, fields: map[string]interface{}{"status": "scheduled"}}

	// Client read the record after the server's last write.
	local := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	item := mkItem(t, ResourceEncounter, "PUT", id, local, map[string]interface{}{"status": "completed"})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if !results[0].Success {
		t.Fatalf("expected success, got %+v", results[0])
	}
	if fs.recs[id].fields["status"] != "completed" {
		t.Errorf("expected update applied, got %v", fs.recs[id].fields)
	}
	if len(conflicts.conflicts) != 0 {
		t.Error("expected no conflicts")
	}
}

func TestProcessBatch_TwoDeviceConflict(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, conflicts, aud := newTestService(fs)

	// Device A synced at 09:05; device B worked offline from a 09:00 read.
	id := uuid.New().String()
	serverStamp := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)
	serverFields := map[string]interface{}{"status": "completed", "assessment": "device A note"}
	fs.recs[id] = &fakeRec{stamp: serverStamp, fields: serverFields}

	local := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	item := mkItem(t, ResourceEncounter, "PUT", id, local, map[string]interface{}{
		"status": "in_progress", "assessment": "device B note",
	})

	results := svc.ProcessBatch(context.Background(), "nurse-b", &BatchRequest{Items: []SyncItem{item}})

	res := results[0]
	if res.Success || !res.Conflict {
		t.Fatalf("expected conflict outcome, got %+v", res)
	}
	if res.ConflictID == nil {
		t.Fatal("expected conflict id")
	}
	if len(res.ServerVersion) == 0 || len(res.ClientVersion) == 0 {
		t.Error("expected both version snapshots in the result")
	}

	// Device A's write must be untouched.
	if fs.recs[id].fields["assessment"] != "device A note" {
		t.Errorf("server record must not change on conflict, got %v", fs.recs[id].fields)
	}

	c, err := conflicts.GetByID(context.Background(), *res.ConflictID)
	if err != nil {
		t.Fatalf("conflict not persisted: %v", err)
	}
	if c.Status != StatusPending {
		t.Errorf("expected pending conflict, got %s", c.Status)
	}
	if c.DetectedBy != "nurse-b" {
		t.Errorf("expected detected_by nurse-b, got %s", c.DetectedBy)
	}
	if !aud.has(ActionConflictDetected) {
		t.Error("expected conflict audit entry")
	}
}

func TestProcessBatch_UpdateMissingRecordCreates(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, conflicts, _ := newTestService(fs)

	id := uuid.New().String()
	item := mkItem(t, ResourcePatient, "update", id, time.Now(), map[string]interface{}{
		"first_name": "Ana", "last_name": "Reyes",
	})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if !results[0].Success {
		t.Fatalf("expected first-write create, got %+v", results[0])
	}
	if _, ok := fs.recs[id]; !ok {
		t.Error("expected record to exist after update of a missing id")
	}
	if len(conflicts.conflicts) != 0 {
		t.Error("expected no conflicts")
	}
}

func TestProcessBatch_StaleWriteRaisesConflict(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, conflicts, _ := newTestService(fs)

	// Stamp check passes at read time, then the conditional write loses the
	// race to a concurrent writer.
	id := uuid.New().String()
	serverStamp := time.Date(2025, 6, 1, 8, 55, 0, 0, time.UTC)
	fs.recs[id] = &fakeRec{stamp: serverStamp, fields: map[string]interface{}{"status": "scheduled"}}
	fs.staleOnce = true

	local := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	item := mkItem(t, ResourceEncounter, "PUT", id, local, map[string]interface{}{"status": "completed"})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if !results[0].Conflict {
		t.Fatalf("expected conflict from lost race, got %+v", results[0])
	}
	if len(conflicts.conflicts) != 1 {
		t.Fatalf("expected 1 persisted conflict, got %d", len(conflicts.conflicts))
	}
	if fs.recs[id].fields["status"] != "scheduled" {
		t.Error("concurrent write must not be clobbered")
	}
}

func TestProcessBatch_ItemIsolation(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, _ := newTestService(fs)

	bad := mkItem(t, ResourceType("medication"), "POST", "", time.Now(), map[string]interface{}{"name": "x"})
	good := mkItem(t, ResourcePatient, "POST", uuid.New().String(), time.Now(), map[string]interface{}{
		"first_name": "Ana", "last_name": "Reyes",
	})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{bad, good}})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ClientItemID != bad.ClientItemID || results[1].ClientItemID != good.ClientItemID {
		t.Error("results must preserve submission order")
	}
	if results[0].Error == "" {
		t.Errorf("expected error for unknown resource type, got %+v", results[0])
	}
	if !results[1].Success {
		t.Errorf("good item must still be processed, got %+v", results[1])
	}
}

func TestProcessBatch_UnknownMethod(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, _ := newTestService(fs)

	item := mkItem(t, ResourcePatient, "DELETE", uuid.New().String(), time.Now(), map[string]interface{}{})

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if results[0].Error == "" {
		t.Fatalf("expected error for unsupported method, got %+v", results[0])
	}
}

func TestProcessBatch_InvalidBody(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, _ := newTestService(fs)

	item := SyncItem{
		ClientItemID: "item-1",
		ResourceType: ResourcePatient,
		Method:       "POST",
		Body:         json.RawMessage(`{broken`),
	}

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: []SyncItem{item}})

	if results[0].Error == "" {
		t.Fatalf("expected error for invalid body, got %+v", results[0])
	}
}

func TestProcessBatch_PanicBecomesErrorOutcome(t *testing.T) {
	panicking := newFakeSync(ResourcePatient)
	panicking.panicMsg = "boom"
	healthy := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(panicking, healthy)

	items := []SyncItem{
		mkItem(t, ResourcePatient, "PUT", uuid.New().String(), time.Now(), map[string]interface{}{"first_name": "x"}),
		mkItem(t, ResourceEncounter, "POST", uuid.New().String(), time.Now(), map[string]interface{}{"status": "scheduled"}),
	}

	results := svc.ProcessBatch(context.Background(), "nurse-1", &BatchRequest{Items: items})

	if results[0].Error == "" {
		t.Fatalf("expected panic converted to error, got %+v", results[0])
	}
	if !results[1].Success {
		t.Errorf("batch must continue past a panicking item, got %+v", results[1])
	}
}

// -- Beacon --

func TestProcessBeacon_AppliesItems(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, aud := newTestService(fs)

	id := uuid.New().String()
	body, _ := json.Marshal(BatchRequest{Items: []SyncItem{
		mkItem(t, ResourcePatient, "POST", id, time.Now(), map[string]interface{}{
			"first_name": "Ana", "last_name": "Reyes",
		}),
	}})

	svc.ProcessBeacon(context.Background(), "nurse-1", body)

	if _, ok := fs.recs[id]; !ok {
		t.Error("expected beacon item to be applied")
	}
	if !aud.has(ActionSyncBeacon) {
		t.Error("expected beacon audit entry")
	}
}

func TestProcessBeacon_SwallowsGarbage(t *testing.T) {
	fs := newFakeSync(ResourcePatient)
	svc, _, aud := newTestService(fs)

	// Must not panic and must not error out.
	svc.ProcessBeacon(context.Background(), "nurse-1", []byte("not json at all"))

	if !aud.has(ActionSyncBeacon) {
		t.Error("expected beacon audit entry even for a dropped payload")
	}
}

// -- Resolution --

func seedConflict(t *testing.T, svc *Service, fs *fakeSync, actorID string) *Conflict {
	t.Helper()
	id := uuid.New().String()
	fs.recs[id] = &fakeRec{
		stamp:  time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC),
		fields: map[string]interface{}{"status": "completed"},
	}
	item := mkItem(t, fs.typ, "PUT", id, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		map[string]interface{}{"status": "in_progress"})

	results := svc.ProcessBatch(context.Background(), actorID, &BatchRequest{Items: []SyncItem{item}})
	if !results[0].Conflict {
		t.Fatalf("expected seeded conflict, got %+v", results[0])
	}
	c, err := svc.GetConflict(context.Background(), *results[0].ConflictID)
	if err != nil {
		t.Fatalf("get seeded conflict: %v", err)
	}
	return c
}

func TestResolve_UseServer(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, aud := newTestService(fs)
	c := seedConflict(t, svc, fs, "nurse-1")

	resolved, err := svc.Resolve(context.Background(), "provider-1", c.ID, ResolutionUseServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("expected resolved status, got %s", resolved.Status)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "provider-1" {
		t.Errorf("expected resolved_by provider-1, got %v", resolved.ResolvedBy)
	}
	if fs.recs[c.ResourceID].fields["status"] != "completed" {
		t.Error("use_server must leave the authoritative record untouched")
	}
	if !aud.has(ActionConflictResolved) {
		t.Error("expected resolution audit entry")
	}
}

func TestResolve_UseClient(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)
	c := seedConflict(t, svc, fs, "nurse-1")

	resolved, err := svc.Resolve(context.Background(), "provider-1", c.ID, ResolutionUseClient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Errorf("expected resolved status, got %s", resolved.Status)
	}
	if fs.recs[c.ResourceID].fields["status"] != "in_progress" {
		t.Errorf("use_client must replay the stored local version, got %v", fs.recs[c.ResourceID].fields)
	}
}

func TestResolve_MergeFailsLoudly(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)
	c := seedConflict(t, svc, fs, "nurse-1")

	_, err := svc.Resolve(context.Background(), "provider-1", c.ID, ResolutionMerge)
	if !errors.Is(err, ErrMergeNotSupported) {
		t.Fatalf("expected ErrMergeNotSupported, got %v", err)
	}

	got, _ := svc.GetConflict(context.Background(), c.ID)
	if got.Status != StatusPending {
		t.Error("failed merge must leave the conflict pending")
	}
	if fs.recs[c.ResourceID].fields["status"] != "completed" {
		t.Error("failed merge must not touch the record")
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)
	c := seedConflict(t, svc, fs, "nurse-1")

	if _, err := svc.Resolve(context.Background(), "provider-1", c.ID, ResolutionUseServer); err != nil {
		t.Fatalf("first resolution failed: %v", err)
	}
	_, err := svc.Resolve(context.Background(), "provider-2", c.ID, ResolutionUseClient)
	if !errors.Is(err, ErrConflictResolved) {
		t.Fatalf("expected ErrConflictResolved, got %v", err)
	}
}

func TestResolve_NotFound(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)

	_, err := svc.Resolve(context.Background(), "provider-1", uuid.New(), ResolutionUseServer)
	if !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("expected ErrConflictNotFound, got %v", err)
	}
}

func TestResolve_InvalidResolution(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)

	_, err := svc.Resolve(context.Background(), "provider-1", uuid.New(), Resolution("pick_one"))
	if err == nil {
		t.Fatal("expected error for unrecognized resolution")
	}
}

// -- Status --

func TestStatus(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, aud := newTestService(fs)

	last := time.Date(2025, 6, 1, 9, 10, 0, 0, time.UTC)
	aud.lastSync = &last

	seedConflict(t, svc, fs, "nurse-1")
	seedConflict(t, svc, fs, "nurse-1")
	seedConflict(t, svc, fs, "nurse-2")

	status, err := svc.Status(context.Background(), "nurse-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.PendingConflictCount != 2 {
		t.Errorf("expected 2 pending conflicts for nurse-1, got %d", status.PendingConflictCount)
	}
	if status.LastSyncAt == nil || !status.LastSyncAt.Equal(last) {
		t.Errorf("expected last sync %s, got %v", last, status.LastSyncAt)
	}
}

func TestStatus_NeverSynced(t *testing.T) {
	fs := newFakeSync(ResourceEncounter)
	svc, _, _ := newTestService(fs)

	status, err := svc.Status(context.Background(), "nurse-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.PendingConflictCount != 0 {
		t.Errorf("expected 0 pending conflicts, got %d", status.PendingConflictCount)
	}
	if status.LastSyncAt != nil {
		t.Errorf("expected nil last sync, got %v", status.LastSyncAt)
	}
}

// -- Method normalization --

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
		ok   bool
	}{
		{"POST", MethodCreate, true},
		{"create", MethodCreate, true},
		{"PUT", MethodUpdate, true},
		{"PATCH", MethodUpdate, true},
		{"update", MethodUpdate, true},
		{"DELETE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeMethod(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizeMethod(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
