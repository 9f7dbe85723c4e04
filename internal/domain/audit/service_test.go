package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockRepo struct {
	entries []*Entry
	failing bool
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	if m.failing {
		return fmt.Errorf("db down")
	}
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRepo) LastActionAt(_ context.Context, actorID string, actions ...string) (*time.Time, error) {
	var last *time.Time
	for _, e := range m.entries {
		if e.ActorID != actorID {
			continue
		}
		for _, a := range actions {
			if e.Action == a {
				t := e.CreatedAt
				if last == nil || t.After(*last) {
					last = &t
				}
			}
		}
	}
	return last, nil
}

func TestRecordAction(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	rt := "patient"
	id := "abc"
	svc.RecordAction(context.Background(), "sync.batch", "nurse-1", &rt, &id, map[string]interface{}{
		"item_count": 3,
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.Action != "sync.batch" || e.ActorID != "nurse-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if len(e.Metadata) == 0 {
		t.Error("expected metadata to be recorded")
	}
}

func TestRecordAction_SwallowsRepoFailure(t *testing.T) {
	svc := NewService(&mockRepo{failing: true}, zerolog.Nop())

	// Must not panic; recording is best-effort.
	svc.RecordAction(context.Background(), "sync.batch", "nurse-1", nil, nil, nil)
}

func TestLastActionAt(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	svc.RecordAction(context.Background(), "sync.batch", "nurse-1", nil, nil, nil)
	svc.RecordAction(context.Background(), "sync.beacon", "nurse-1", nil, nil, nil)
	svc.RecordAction(context.Background(), "sync.batch", "nurse-2", nil, nil, nil)

	last, err := svc.LastActionAt(context.Background(), "nurse-1", "sync.batch", "sync.beacon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil {
		t.Fatal("expected a timestamp")
	}

	none, err := svc.LastActionAt(context.Background(), "nurse-3", "sync.batch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for actor with no entries, got %v", none)
	}
}
