package coordinator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
	"github.com/mcdev12/classpoll/go/internal/poll/results"
)

// SubmitAnswer validates and applies one student's answer to the open
// question, publishes live tallies, and closes the question early once
// every roster member has answered. The roster-complete check runs inside
// the same serialized section as the append, so two near-simultaneous last
// answers cannot both trigger the close.
func (c *Coordinator) SubmitAnswer(ctx context.Context, connectionID, pollID, questionID string, selectedOption int) error {
	sess, ok := c.sessions.get(connectionID)
	if !ok || sess.Role != models.RoleStudent || sess.PollID != pollID {
		return apperrors.New(apperrors.CodeInvalidInput, apperrors.WithMessagef("connection has no student session for poll %s", pollID))
	}

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

	if !q.IsOpen {
		return apperrors.New(apperrors.CodeQuestionClosed, apperrors.WithMessagef("question %s is not accepting answers", questionID))
	}

	if q.AnswerBy(sess.StudentName) != nil {
		return apperrors.New(apperrors.CodeDuplicateAnswer, apperrors.WithMessagef("%s already answered question %s", sess.StudentName, questionID))
	}

	if selectedOption < 0 || selectedOption >= len(q.Options) {
		return apperrors.New(apperrors.CodeInvalidInput, apperrors.WithMessagef("selected option %d out of range", selectedOption))
	}

	q.Answers = append(q.Answers, models.Answer{
		StudentName:    sess.StudentName,
		SelectedOption: selectedOption,
		SubmittedAt:    c.clock.Now().UTC(),
	})

	if err := c.store.SavePoll(ctx, p); err != nil {
		return apperrors.Store(err)
	}

	c.sendToConnection(connectionID, pollID, events.TypeAnswerSubmitted, events.AnswerSubmittedPayload{
		QuestionID: questionID,
		Success:    true,
	})

	c.broadcastToPoll(pollID, events.TypeResultsUpdated, events.ResultsUpdatedPayload{
		QuestionID: questionID,
		Results:    results.Compute(q, len(p.Participants)),
	})

	log.Debug().
		Str("poll_id", pollID).
		Str("question_id", questionID).
		Str("student", sess.StudentName).
		Int("option", selectedOption).
		Msg("answer accepted")

	// Roster-complete: every currently-known participant has answered.
	if len(q.Answers) == len(p.Participants) {
		if err := c.closeLocked(ctx, st, p, q); err != nil {
			// The answer itself is already persisted; the question stays
			// open for a timer-driven or manual close.
			log.Error().Err(err).
				Str("poll_id", pollID).
				Str("question_id", questionID).
				Msg("roster-complete close failed")
		}
	}

	return nil
}
