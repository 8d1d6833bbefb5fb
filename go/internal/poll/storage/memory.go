package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/classpoll/go/internal/models"
)

// MemoryStore is an in-process Store used for tests and single-node dev
// runs. It deep-copies aggregates on the way in and out so callers never
// share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	polls    map[string]*models.Poll
	presence map[string]*models.Presence // key: pollID + "/" + studentName
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls:    make(map[string]*models.Poll),
		presence: make(map[string]*models.Presence),
	}
}

func (s *MemoryStore) GetPoll(_ context.Context, pollID string) (*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.polls[pollID]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePoll(p), nil
}

func (s *MemoryStore) SavePoll(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := clonePoll(p)
	cp.UpdatedAt = time.Now().UTC()
	s.polls[p.ID] = cp
	return nil
}

func (s *MemoryStore) ListPollsByCreator(_ context.Context, creatorID string, limit int) ([]*models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Poll
	for _, p := range s.polls {
		if p.CreatorID == creatorID {
			out = append(out, clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetPresence(_ context.Context, pollID, studentName string) (*models.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pr, ok := s.presence[pollID+"/"+studentName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pr
	return &cp, nil
}

func (s *MemoryStore) UpsertPresence(_ context.Context, pr *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pr
	s.presence[pr.PollID+"/"+pr.StudentName] = &cp
	return nil
}

func (s *MemoryStore) MarkPresenceInactive(_ context.Context, pollID, studentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.presence[pollID+"/"+studentName]
	if !ok {
		return ErrNotFound
	}
	pr.Active = false
	pr.LastSeenAt = time.Now().UTC()
	return nil
}

func clonePoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Participants = append([]string(nil), p.Participants...)
	cp.Questions = make([]models.Question, len(p.Questions))
	for i, q := range p.Questions {
		cq := q
		cq.Options = append([]string(nil), q.Options...)
		cq.Answers = append([]models.Answer(nil), q.Answers...)
		if q.OpenedAt != nil {
			t := *q.OpenedAt
			cq.OpenedAt = &t
		}
		if q.ClosedAt != nil {
			t := *q.ClosedAt
			cq.ClosedAt = &t
		}
		cp.Questions[i] = cq
	}
	return &cp
}
