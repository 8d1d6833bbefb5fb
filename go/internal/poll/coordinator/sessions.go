package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
	"github.com/mcdev12/classpoll/go/internal/poll/storage"
)

// ConnectionSession binds a live connection to a poll and a role for the
// connection's lifetime. It is never persisted.
type ConnectionSession struct {
	ConnectionID string
	PollID       string
	Role         models.Role
	StudentName  string
}

// sessionTracker owns every ConnectionSession. Looked up by opaque
// connection ID, and by (poll, student) when the teacher removes someone.
type sessionTracker struct {
	mu       sync.RWMutex
	byConn   map[string]ConnectionSession
	students map[string]string // pollID + "/" + studentName -> connectionID
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		byConn:   make(map[string]ConnectionSession),
		students: make(map[string]string),
	}
}

func (t *sessionTracker) bind(s ConnectionSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byConn[s.ConnectionID] = s
	if s.Role == models.RoleStudent {
		t.students[s.PollID+"/"+s.StudentName] = s.ConnectionID
	}
}

func (t *sessionTracker) get(connectionID string) (ConnectionSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.byConn[connectionID]
	return s, ok
}

func (t *sessionTracker) remove(connectionID string) (ConnectionSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byConn[connectionID]
	if !ok {
		return ConnectionSession{}, false
	}
	delete(t.byConn, connectionID)
	if s.Role == models.RoleStudent {
		key := s.PollID + "/" + s.StudentName
		if t.students[key] == connectionID {
			delete(t.students, key)
		}
	}
	return s, true
}

func (t *sessionTracker) connectionFor(pollID, studentName string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.students[pollID+"/"+studentName]
	return id, ok
}

// Session exposes the session bound to a connection, if any.
func (c *Coordinator) Session(connectionID string) (ConnectionSession, bool) {
	return c.sessions.get(connectionID)
}

// JoinStudent adds the student to the poll roster (idempotently), binds the
// connection session, joins the broadcast room and announces the join. If a
// question is already open the student privately receives it with the time
// actually remaining.
func (c *Coordinator) JoinStudent(ctx context.Context, connectionID, pollID, displayName string) error {
	if err := validateStudentName(displayName); err != nil {
		return err
	}

	st := c.state(pollID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return err
	}

	// A presence record means this student joined before; they are
	// rejoining, not joining fresh.
	rejoined := false
	prev, err := c.store.GetPresence(ctx, pollID, displayName)
	if err == nil {
		rejoined = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		return apperrors.Store(err)
	}

	if !p.HasParticipant(displayName) {
		p.Participants = append(p.Participants, displayName)
		if err := c.store.SavePoll(ctx, p); err != nil {
			return apperrors.Store(err)
		}
	}

	now := c.clock.Now().UTC()
	pr := &models.Presence{
		PollID:       pollID,
		StudentName:  displayName,
		ConnectionID: connectionID,
		Active:       true,
		JoinedAt:     now,
		LastSeenAt:   now,
	}
	if prev != nil {
		pr.JoinedAt = prev.JoinedAt
	}
	if err := c.store.UpsertPresence(ctx, pr); err != nil {
		log.Error().Err(err).Str("poll_id", pollID).Str("student", displayName).Msg("failed to record presence")
	}

	c.sessions.bind(ConnectionSession{
		ConnectionID: connectionID,
		PollID:       pollID,
		Role:         models.RoleStudent,
		StudentName:  displayName,
	})
	c.broadcaster.JoinPollRoom(pollID, connectionID, false)

	c.broadcastToPoll(pollID, events.TypeStudentJoined, events.StudentJoinedPayload{
		StudentName:   displayName,
		TotalStudents: len(p.Participants),
		Rejoined:      rejoined,
	})

	if q := p.OpenQuestion(); q != nil {
		remaining := q.TimeLimitSec - int(c.clock.Now().Sub(*q.OpenedAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		c.sendToConnection(connectionID, pollID, events.TypeCurrentQuestion, events.CurrentQuestionPayload{
			Question:         events.QuestionInfoOf(q),
			TimeRemainingSec: remaining,
		})
	}

	log.Info().
		Str("poll_id", pollID).
		Str("student", displayName).
		Bool("rejoined", rejoined).
		Msg("student joined")
	return nil
}

// JoinTeacher binds a teacher session, joins the poll room plus the
// teacher sub-room, and privately sends the full poll snapshot.
func (c *Coordinator) JoinTeacher(ctx context.Context, connectionID, pollID string) error {
	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return err
	}

	c.sessions.bind(ConnectionSession{
		ConnectionID: connectionID,
		PollID:       pollID,
		Role:         models.RoleTeacher,
	})
	c.broadcaster.JoinPollRoom(pollID, connectionID, true)

	c.sendToConnection(connectionID, pollID, events.TypePollState, events.PollStatePayload{
		Participants:        p.Participants,
		ActiveQuestionIndex: p.ActiveQuestionIndex,
		Questions:           p.Questions,
	})

	log.Info().Str("poll_id", pollID).Msg("teacher joined")
	return nil
}

// RemoveStudent drops the student from the roster and strips their answers
// from every question: answers are evidence tied to presence, so removal is
// destructive. A live connection for the student is told why and then
// forcibly disconnected.
func (c *Coordinator) RemoveStudent(ctx context.Context, pollID, displayName, actingConnectionID string) error {
	st := c.state(pollID)
	st.mu.Lock()
	defer st.mu.Unlock()

	p, err := c.loadPoll(ctx, pollID)
	if err != nil {
		return err
	}

	if !p.HasParticipant(displayName) {
		return apperrors.New(apperrors.CodeNotFound, apperrors.WithMessagef("student %s is not on the roster", displayName))
	}

	p.RemoveParticipant(displayName)
	if err := c.store.SavePoll(ctx, p); err != nil {
		return apperrors.Store(err)
	}

	if err := c.store.MarkPresenceInactive(ctx, pollID, displayName); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Str("poll_id", pollID).Str("student", displayName).Msg("failed to deactivate presence")
	}

	if connID, ok := c.sessions.connectionFor(pollID, displayName); ok {
		c.sendToConnection(connID, pollID, events.TypeStudentRemoved, events.StudentRemovedPayload{
			Reason: "You have been removed from the poll by the teacher",
		})
		c.sessions.remove(connID)
		c.broadcaster.LeavePollRoom(pollID, connID)
		c.broadcaster.CloseConnection(connID)
	}

	c.broadcastToPoll(pollID, events.TypeStudentLeft, events.StudentLeftPayload{
		StudentName:   displayName,
		TotalStudents: len(p.Participants),
	})

	log.Info().
		Str("poll_id", pollID).
		Str("student", displayName).
		Str("acting_connection", actingConnectionID).
		Msg("student removed")
	return nil
}

// Disconnect tears down the connection's session. A disconnected student
// stays on the roster, since they may reconnect; the room only gets a
// presence update with the last known roster size.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	sess, ok := c.sessions.remove(connectionID)
	if !ok {
		return
	}

	c.broadcaster.LeavePollRoom(sess.PollID, connectionID)

	if sess.Role != models.RoleStudent {
		return
	}

	if err := c.store.MarkPresenceInactive(ctx, sess.PollID, sess.StudentName); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Str("poll_id", sess.PollID).Str("student", sess.StudentName).Msg("failed to deactivate presence")
	}

	rosterSize := 0
	if p, err := c.store.GetPoll(ctx, sess.PollID); err == nil {
		rosterSize = len(p.Participants)
	}

	c.broadcastToPoll(sess.PollID, events.TypeStudentLeft, events.StudentLeftPayload{
		StudentName:   sess.StudentName,
		TotalStudents: rosterSize,
	})

	log.Info().Str("poll_id", sess.PollID).Str("student", sess.StudentName).Msg("student disconnected")
}
