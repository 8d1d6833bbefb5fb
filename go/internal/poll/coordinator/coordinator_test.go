package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
	"github.com/mcdev12/classpoll/go/internal/poll/storage"
)

// recorderBroadcaster captures everything the coordinator fans out. The
// timer goroutine broadcasts concurrently with test assertions, so all
// access goes through the mutex.
type recorderBroadcaster struct {
	mu        sync.Mutex
	room      []*events.Event
	teachers  []*events.Event
	direct    map[string][]*events.Event
	joined    map[string]bool // connectionID -> teacher
	left      []string
	closed    []string
}

func newRecorder() *recorderBroadcaster {
	return &recorderBroadcaster{
		direct: make(map[string][]*events.Event),
		joined: make(map[string]bool),
	}
}

func (r *recorderBroadcaster) JoinPollRoom(pollID, connectionID string, teacher bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined[connectionID] = teacher
}

func (r *recorderBroadcaster) LeavePollRoom(pollID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, connectionID)
}

func (r *recorderBroadcaster) BroadcastToPoll(pollID string, e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = append(r.room, e)
}

func (r *recorderBroadcaster) BroadcastToTeachers(pollID string, e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teachers = append(r.teachers, e)
}

func (r *recorderBroadcaster) SendToConnection(connectionID string, e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[connectionID] = append(r.direct[connectionID], e)
}

func (r *recorderBroadcaster) CloseConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, connectionID)
}

func (r *recorderBroadcaster) roomEvents(t events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*events.Event
	for _, e := range r.room {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorderBroadcaster) directEvents(connectionID string, t events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*events.Event
	for _, e := range r.direct[connectionID] {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func decodePayload[T any](t *testing.T, e *events.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Data, &v))
	return v
}

func newTestCoordinator(t *testing.T) (*Coordinator, *recorderBroadcaster, *clockwork.FakeClock) {
	t.Helper()

	rec := newRecorder()
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Store:       storage.NewMemoryStore(),
		Broadcaster: rec,
		Clock:       clock,
	})
	return c, rec, clock
}

// setupOpenQuestion creates a poll with one question, joins the given
// students and opens the question.
func setupOpenQuestion(t *testing.T, c *Coordinator, timeLimitSec int, students ...string) (pollID, questionID string) {
	t.Helper()
	ctx := context.Background()

	p, err := c.CreatePoll(ctx, "Unit conversion quiz", "teacher-1")
	require.NoError(t, err)

	q, err := c.AddQuestion(ctx, p.ID, "How many meters in a mile?", []string{"1609", "1000", "42"}, timeLimitSec)
	require.NoError(t, err)

	for i, name := range students {
		require.NoError(t, c.JoinStudent(ctx, fmt.Sprintf("conn-%d", i), p.ID, name))
	}

	require.NoError(t, c.OpenQuestion(ctx, p.ID, q.ID))
	return p.ID, q.ID
}

func TestCreatePoll(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	t.Run("rejects short title", func(t *testing.T) {
		_, err := c.CreatePoll(ctx, "ab", "teacher-1")
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("assigns a join code", func(t *testing.T) {
		p, err := c.CreatePoll(ctx, "Science check-in", "teacher-1")
		require.NoError(t, err)
		assert.Len(t, p.ID, 6)
		assert.Equal(t, -1, p.ActiveQuestionIndex)
		assert.Empty(t, p.Participants)
	})
}

func TestOpenQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("only one question open at a time", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, _ := setupOpenQuestion(t, c, 60, "Alice")

		q2, err := c.AddQuestion(ctx, pollID, "Second question here", []string{"yes", "no"}, 60)
		require.NoError(t, err)

		err = c.OpenQuestion(ctx, pollID, q2.ID)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})

	t.Run("a question runs exactly once", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice")

		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))

		err := c.OpenQuestion(ctx, pollID, questionID)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})

	t.Run("unknown question", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Empty poll", "teacher-1")
		require.NoError(t, err)

		err = c.OpenQuestion(ctx, p.ID, "nope")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestCloseQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("close is idempotent", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice")

		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))
		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))
		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))

		assert.Len(t, rec.roomEvents(events.TypeQuestionEnded), 1)
	})

	t.Run("closing a never-opened question is a conflict", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Quiz of the day", "teacher-1")
		require.NoError(t, err)
		q, err := c.AddQuestion(ctx, p.ID, "Unopened question?", []string{"a", "b"}, 60)
		require.NoError(t, err)

		err = c.CloseQuestion(ctx, p.ID, q.ID)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})
}

func TestSubmitAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("closes early once the whole roster answered", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice", "Bob")

		require.NoError(t, c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 0))

		p, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.True(t, p.Question(questionID).IsOpen, "one of two answers should not close the question")

		require.NoError(t, c.SubmitAnswer(ctx, "conn-1", pollID, questionID, 1))

		p, err = c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.True(t, p.Question(questionID).Closed())

		ended := rec.roomEvents(events.TypeQuestionEnded)
		require.Len(t, ended, 1)
		payload := decodePayload[events.QuestionEndedPayload](t, ended[0])
		assert.Equal(t, 2, payload.Results.TotalResponses)
		assert.Equal(t, 2, payload.Results.TotalParticipants)
	})

	t.Run("duplicate answers are rejected", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice", "Bob")

		require.NoError(t, c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 0))
		err := c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 2)
		assert.Equal(t, apperrors.CodeDuplicateAnswer, apperrors.CodeOf(err))

		// First answer is untouched.
		p, err2 := c.GetPoll(ctx, pollID)
		require.NoError(t, err2)
		ans := p.Question(questionID).AnswerBy("Alice")
		require.NotNil(t, ans)
		assert.Equal(t, 0, ans.SelectedOption)
	})

	t.Run("out of range option", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice", "Bob")

		err := c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 3)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))

		err = c.SubmitAnswer(ctx, "conn-0", pollID, questionID, -1)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("closed question rejects answers", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice", "Bob")

		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))

		err := c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 0)
		assert.Equal(t, apperrors.CodeQuestionClosed, apperrors.CodeOf(err))
	})

	t.Run("connection without a student session", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice")

		err := c.SubmitAnswer(ctx, "stranger", pollID, questionID, 0)
		assert.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
	})

	t.Run("ack goes only to the submitter", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 60, "Alice", "Bob")

		require.NoError(t, c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 0))

		assert.Len(t, rec.directEvents("conn-0", events.TypeAnswerSubmitted), 1)
		assert.Empty(t, rec.directEvents("conn-1", events.TypeAnswerSubmitted))
		assert.Len(t, rec.roomEvents(events.TypeResultsUpdated), 1)
	})

	t.Run("concurrent submissions all land", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)

		names := make([]string, 8)
		for i := range names {
			names[i] = fmt.Sprintf("Student %d", i)
		}
		pollID, questionID := setupOpenQuestion(t, c, 300, names...)

		var wg sync.WaitGroup
		for i := range names {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, c.SubmitAnswer(ctx, fmt.Sprintf("conn-%d", i), pollID, questionID, i%3))
			}(i)
		}
		wg.Wait()

		p, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		q := p.Question(questionID)
		assert.Len(t, q.Answers, len(names))
		assert.True(t, q.Closed())
		assert.Len(t, rec.roomEvents(events.TypeQuestionEnded), 1)
	})
}

func TestQuestionTimer(t *testing.T) {
	ctx := context.Background()

	t.Run("auto-closes when the countdown expires", func(t *testing.T) {
		c, rec, clock := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 10, "Alice")

		clock.BlockUntil(1)

		for i := 1; i <= 10; i++ {
			clock.Advance(time.Second)
			want := i
			require.Eventually(t, func() bool {
				return len(rec.roomEvents(events.TypeTimerTick)) >= want
			}, time.Second, time.Millisecond, "tick %d never arrived", i)
		}

		require.Eventually(t, func() bool {
			return len(rec.roomEvents(events.TypeQuestionEnded)) == 1
		}, time.Second, time.Millisecond)

		ticks := rec.roomEvents(events.TypeTimerTick)
		first := decodePayload[events.TimerTickPayload](t, ticks[0])
		last := decodePayload[events.TimerTickPayload](t, ticks[len(ticks)-1])
		assert.Equal(t, 9, first.TimeRemainingSec)
		assert.Equal(t, 0, last.TimeRemainingSec)

		ended := decodePayload[events.QuestionEndedPayload](t, rec.roomEvents(events.TypeQuestionEnded)[0])
		assert.Equal(t, 0, ended.Results.TotalResponses)

		p, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.True(t, p.Question(questionID).Closed())
	})

	t.Run("manual close stops the countdown", func(t *testing.T) {
		c, rec, clock := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 10, "Alice")

		clock.BlockUntil(1)
		require.NoError(t, c.CloseQuestion(ctx, pollID, questionID))

		clock.Advance(5 * time.Second)

		// The cancelled timer must not produce a second close or late ticks.
		assert.Never(t, func() bool {
			return len(rec.roomEvents(events.TypeQuestionEnded)) > 1
		}, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestJoinStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("rejoin is flagged and does not duplicate the roster", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Morning check-in", "teacher-1")
		require.NoError(t, err)

		require.NoError(t, c.JoinStudent(ctx, "conn-a", p.ID, "Alice"))
		c.Disconnect(ctx, "conn-a")
		require.NoError(t, c.JoinStudent(ctx, "conn-b", p.ID, "Alice"))

		got, err := c.GetPoll(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alice"}, got.Participants)

		joins := rec.roomEvents(events.TypeStudentJoined)
		require.Len(t, joins, 2)
		assert.False(t, decodePayload[events.StudentJoinedPayload](t, joins[0]).Rejoined)
		assert.True(t, decodePayload[events.StudentJoinedPayload](t, joins[1]).Rejoined)
	})

	t.Run("invalid display name", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Morning check-in", "teacher-1")
		require.NoError(t, err)

		assert.Equal(t, apperrors.CodeInvalidInput,
			apperrors.CodeOf(c.JoinStudent(ctx, "conn-a", p.ID, "x")))
		assert.Equal(t, apperrors.CodeInvalidInput,
			apperrors.CodeOf(c.JoinStudent(ctx, "conn-a", p.ID, "bad!name")))
	})

	t.Run("late joiner privately receives the open question", func(t *testing.T) {
		c, rec, clock := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 30, "Alice")

		clock.BlockUntil(1)
		for i := 1; i <= 4; i++ {
			clock.Advance(time.Second)
			want := i
			require.Eventually(t, func() bool {
				return len(rec.roomEvents(events.TypeTimerTick)) >= want
			}, time.Second, time.Millisecond)
		}

		require.NoError(t, c.JoinStudent(ctx, "conn-late", pollID, "Bob"))

		cur := rec.directEvents("conn-late", events.TypeCurrentQuestion)
		require.Len(t, cur, 1)
		payload := decodePayload[events.CurrentQuestionPayload](t, cur[0])
		assert.Equal(t, questionID, payload.Question.ID)
		assert.Equal(t, 26, payload.TimeRemainingSec)
	})
}

func TestRemoveStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("strips answers, closes connection, allows fresh rejoin", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		pollID, questionID := setupOpenQuestion(t, c, 300, "Alice", "Bob", "Cara")

		require.NoError(t, c.SubmitAnswer(ctx, "conn-0", pollID, questionID, 0))

		require.NoError(t, c.RemoveStudent(ctx, pollID, "Alice", "teacher-conn"))

		p, err := c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bob", "Cara"}, p.Participants)
		assert.Nil(t, p.Question(questionID).AnswerBy("Alice"))

		// The removed student is told why, then cut off.
		require.Len(t, rec.directEvents("conn-0", events.TypeStudentRemoved), 1)
		assert.Contains(t, rec.closed, "conn-0")

		// Rejoining starts from scratch: the stale session is gone and a
		// new answer for the same question is accepted.
		require.NoError(t, c.JoinStudent(ctx, "conn-new", pollID, "Alice"))
		require.NoError(t, c.SubmitAnswer(ctx, "conn-new", pollID, questionID, 2))

		p, err = c.GetPoll(ctx, pollID)
		require.NoError(t, err)
		ans := p.Question(questionID).AnswerBy("Alice")
		require.NotNil(t, ans)
		assert.Equal(t, 2, ans.SelectedOption)
	})

	t.Run("unknown student", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Morning check-in", "teacher-1")
		require.NoError(t, err)

		err = c.RemoveStudent(ctx, p.ID, "Ghost", "")
		assert.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps the student on the roster", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		p, err := c.CreatePoll(ctx, "Morning check-in", "teacher-1")
		require.NoError(t, err)
		require.NoError(t, c.JoinStudent(ctx, "conn-a", p.ID, "Alice"))

		c.Disconnect(ctx, "conn-a")

		got, err := c.GetPoll(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alice"}, got.Participants)

		left := rec.roomEvents(events.TypeStudentLeft)
		require.Len(t, left, 1)
		assert.Equal(t, 1, decodePayload[events.StudentLeftPayload](t, left[0]).TotalStudents)

		_, ok := c.Session("conn-a")
		assert.False(t, ok)
	})

	t.Run("unknown connection is a no-op", func(t *testing.T) {
		c, rec, _ := newTestCoordinator(t)
		c.Disconnect(ctx, "never-seen")
		assert.Empty(t, rec.roomEvents(events.TypeStudentLeft))
	})
}

func TestJoinTeacher(t *testing.T) {
	ctx := context.Background()

	c, rec, _ := newTestCoordinator(t)
	p, err := c.CreatePoll(ctx, "Morning check-in", "teacher-1")
	require.NoError(t, err)
	require.NoError(t, c.JoinStudent(ctx, "conn-a", p.ID, "Alice"))

	require.NoError(t, c.JoinTeacher(ctx, "conn-t", p.ID))

	rec.mu.Lock()
	isTeacher := rec.joined["conn-t"]
	rec.mu.Unlock()
	assert.True(t, isTeacher)

	state := rec.directEvents("conn-t", events.TypePollState)
	require.Len(t, state, 1)
	payload := decodePayload[events.PollStatePayload](t, state[0])
	assert.Equal(t, []string{"Alice"}, payload.Participants)
	assert.Equal(t, -1, payload.ActiveQuestionIndex)
}
