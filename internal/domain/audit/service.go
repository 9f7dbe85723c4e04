package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Service records audit entries. Recording is best-effort: a failed write is
// logged and swallowed so the business operation it annotates never fails on
// account of its audit trail.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) RecordAction(ctx context.Context, action, actorID string, resourceType, resourceID *string, metadata map[string]interface{}) {
	var meta json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			s.log.Error().Err(err).Str("action", action).Msg("audit metadata marshal failed")
		} else {
			meta = b
		}
	}
	e := &Entry{
		Action:       action,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     meta,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		s.log.Error().Err(err).Str("action", action).Str("actor_id", actorID).Msg("audit write failed")
	}
}

// LastActionAt returns the actor's most recent entry among the given actions,
// or nil when none exist.
func (s *Service) LastActionAt(ctx context.Context, actorID string, actions ...string) (*time.Time, error) {
	return s.repo.LastActionAt(ctx, actorID, actions...)
}
