// Package coordinator owns the authoritative state of live polls. Every
// state-changing operation against one poll runs under that poll's lock, so
// concurrent joins, answers, timer expiries and removals never interleave.
// Operations on different polls run in parallel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
	"github.com/mcdev12/classpoll/go/internal/poll/results"
	"github.com/mcdev12/classpoll/go/internal/poll/storage"
)

// Broadcaster fans events out to connected clients. Implemented by the
// gateway connection manager; tests plug in a recorder.
type Broadcaster interface {
	JoinPollRoom(pollID, connectionID string, teacher bool)
	LeavePollRoom(pollID, connectionID string)
	BroadcastToPoll(pollID string, e *events.Event)
	BroadcastToTeachers(pollID string, e *events.Event)
	SendToConnection(connectionID string, e *events.Event)
	CloseConnection(connectionID string)
}

// EventPublisher relays room broadcasts to sibling instances. Optional.
type EventPublisher interface {
	Publish(ctx context.Context, e *events.Event) error
}

// Config wires the coordinator's collaborators.
type Config struct {
	Store       storage.Store
	Broadcaster Broadcaster
	Clock       clockwork.Clock
	Relay       EventPublisher
}

// Coordinator is the poll session state machine.
type Coordinator struct {
	store       storage.Store
	broadcaster Broadcaster
	clock       clockwork.Clock
	relay       EventPublisher
	instanceID  string

	sessions *sessionTracker

	mu     sync.Mutex
	states map[string]*pollState
}

// pollState is the per-poll serialization unit. It exclusively owns at most
// one live countdown timer; there is no global timer registry.
type pollState struct {
	mu    sync.Mutex
	timer *questionTimer
}

func New(c Config) *Coordinator {
	clock := c.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Coordinator{
		store:       c.Store,
		broadcaster: c.Broadcaster,
		clock:       clock,
		relay:       c.Relay,
		instanceID:  uuid.New().String()[:8],
		sessions:    newSessionTracker(),
		states:      make(map[string]*pollState),
	}
}

// InstanceID identifies this coordinator instance on relayed events.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// state returns the serialization unit for a poll, creating it on first use.
func (c *Coordinator) state(pollID string) *pollState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[pollID]
	if !ok {
		st = &pollState{}
		c.states[pollID] = st
	}
	return st
}

// CreatePoll creates an empty poll with a fresh join code.
func (c *Coordinator) CreatePoll(ctx context.Context, title, creatorID string) (*models.Poll, error) {
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	// Join codes are short, so retry on the rare collision.
	for attempt := 0; attempt < 5; attempt++ {
		code, err := newJoinCode()
		if err != nil {
			return nil, apperrors.Store(fmt.Errorf("generate join code: %w", err))
		}

		if _, err := c.store.GetPoll(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.Store(err)
		}

		now := c.clock.Now().UTC()
		p := &models.Poll{
			ID:                  code,
			Title:               title,
			CreatorID:           creatorID,
			Participants:        []string{},
			Questions:           []models.Question{},
			ActiveQuestionIndex: -1,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := c.store.SavePoll(ctx, p); err != nil {
			return nil, apperrors.Store(err)
		}

		log.Info().Str("poll_id", p.ID).Str("creator_id", creatorID).Msg("poll created")
		return p, nil
	}

	return nil, apperrors.Store(errors.New("could not allocate a unique join code"))
}

// AddQuestion appends an unopened question to the poll.
func (c *Coordinator) AddQuestion(ctx context.Context, pollID, text string, options []string, timeLimitSec int) (*models.Question, error) {
	if err := validateQuestion(text, options, timeLimitSec); err != nil {
		return nil, err
	}

	st := c.state(pollID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	q := models.Question{
		ID:           uuid.New().String(),
		Text:         text,
		Options:      options,
		TimeLimitSec: timeLimitSec,
		Answers:      []models.Answer{},
	}
	p.Questions = append(p.Questions, q)

	if err := c.store.SavePoll(ctx, p); err != nil {
		return nil, apperrors.Store(err)
	}

	log.Info().Str("poll_id", pollID).Str("question_id", q.ID).Msg("question added")
	return &q, nil
}

// OpenQuestion transitions a question from unopened to open, starts its
// countdown and announces it to the poll room. Fails with Conflict if any
// question in the poll is already open, or if this question was opened
// before: a question is started exactly once.
func (c *Coordinator) OpenQuestion(ctx context.Context, pollID, questionID string) error {
	st := c.state(pollID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return err
	}

	idx := p.QuestionIndex(questionID)
	if idx < 0 {
		return apperrors.New(apperrors.CodeNotFound, apperrors.WithMessagef("question %s not found", questionID))
	}
	q := &p.Questions[idx]

	if open := p.OpenQuestion(); open != nil {
		return apperrors.New(apperrors.CodeConflict, apperrors.WithMessagef("question %s is already open", open.ID))
	}
	if q.OpenedAt != nil {
		return apperrors.New(apperrors.CodeConflict, apperrors.WithMessagef("question %s was already run", questionID))
	}

	now := c.clock.Now().UTC()
	q.IsOpen = true
	q.OpenedAt = &now
	p.ActiveQuestionIndex = idx

	if err := c.store.SavePoll(ctx, p); err != nil {
		return apperrors.Store(err)
	}

	// Running tallies are never part of question-started.
	c.broadcastToPoll(pollID, events.TypeQuestionStarted, events.QuestionStartedPayload{
		Question:     events.QuestionInfoOf(q),
		TimeLimitSec: q.TimeLimitSec,
	})

	c.startTimerLocked(st, pollID, q)

	log.Info().
		Str("poll_id", pollID).
		Str("question_id", questionID).
		Int("time_limit_sec", q.TimeLimitSec).
		Msg("question opened")
	return nil
}

// CloseQuestion transitions a question to its terminal closed state and
// broadcasts final results. Closing an already-closed question is a no-op,
// which makes the timer expiry, roster-complete and manual close paths safe
// to race: whichever enters the poll's lock second observes the closed state.
func (c *Coordinator) CloseQuestion(ctx context.Context, pollID, questionID string) error {
	st := c.state(pollID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return err
	}

	q := p.Question(questionID)
	if q == nil {
		return apperrors.New(apperrors.CodeNotFound, apperrors.WithMessagef("question %s not found", questionID))
	}

	return c.closeLocked(ctx, st, p, q)
}

// closeLocked performs the close transition. Callers must hold st.mu.
func (c *Coordinator) closeLocked(ctx context.Context, st *pollState, p *models.Poll, q *models.Question) error {
	if q.Closed() {
		return nil
	}
	if q.OpenedAt == nil {
		return apperrors.New(apperrors.CodeConflict, apperrors.WithMessagef("question %s has not been opened", q.ID))
	}

	now := c.clock.Now().UTC()
	q.IsOpen = false
	q.ClosedAt = &now
	p.ActiveQuestionIndex = -1

	if err := c.store.SavePoll(ctx, p); err != nil {
		// The stored aggregate still has the question open; a later manual
		// or retried close can finish the job.
		return apperrors.Store(err)
	}

	if st.timer != nil && st.timer.questionID == q.ID {
		st.timer.cancel()
		st.timer = nil
	}

	res := results.Compute(q, len(p.Participants))
	c.broadcastToPoll(p.ID, events.TypeQuestionEnded, events.QuestionEndedPayload{
		QuestionID: q.ID,
		Results:    res,
	})

	log.Info().
		Str("poll_id", p.ID).
		Str("question_id", q.ID).
		Int("total_responses", res.TotalResponses).
		Msg("question closed")
	return nil
}

// GetPoll returns a consistent snapshot of the aggregate.
func (c *Coordinator) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	return c.loadPoll(ctx, pollID)
}

// PollResults computes tallies for every question in the poll.
func (c *Coordinator) PollResults(ctx context.Context, pollID string) ([]results.QuestionResults, error) {
	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	out := make([]results.QuestionResults, len(p.Questions))
	for i := range p.Questions {
		out[i] = results.Compute(&p.Questions[i], len(p.Participants))
	}
	return out, nil
}

// PollHistory lists the creator's most recent polls.
func (c *Coordinator) PollHistory(ctx context.Context, creatorID string) ([]*models.Poll, error) {
	polls, err := c.store.ListPollsByCreator(ctx, creatorID, 50)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return polls, nil
}

func (c *Coordinator) loadPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	p, err := c.store.GetPoll(ctx, pollID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, apperrors.WithMessagef("poll %s not found", pollID))
	}
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return p, nil
}

// broadcastToPoll delivers a room event locally and, when a relay is
// configured, to sibling instances. Private sends never go through here.
func (c *Coordinator) broadcastToPoll(pollID string, t events.Type, payload any) {
	e, err := events.New(pollID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("poll_id", pollID).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	e.Origin = c.instanceID

	c.broadcaster.BroadcastToPoll(pollID, e)

	if c.relay != nil {
		if err := c.relay.Publish(context.Background(), e); err != nil {
			log.Error().Err(err).Str("poll_id", pollID).Str("event_type", string(t)).Msg("failed to relay event")
		}
	}
}

// sendToConnection delivers a private event to one connection.
func (c *Coordinator) sendToConnection(connectionID, pollID string, t events.Type, payload any) {
	e, err := events.New(pollID, t, payload)
	if err != nil {
		log.Error().Err(err).Str("poll_id", pollID).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	e.Origin = c.instanceID

	c.broadcaster.SendToConnection(connectionID, e)
}
