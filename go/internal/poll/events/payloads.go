package events

import (
	"time"

	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/results"
)

// QuestionInfo is the client-facing view of a question. It deliberately
// omits answers so running tallies never leak through question-started
// or current-question events.
type QuestionInfo struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"time_limit_sec"`
}

// QuestionInfoOf strips a question down to its client-facing view.
func QuestionInfoOf(q *models.Question) QuestionInfo {
	return QuestionInfo{
		ID:           q.ID,
		Text:         q.Text,
		Options:      q.Options,
		TimeLimitSec: q.TimeLimitSec,
	}
}

// StudentJoinedPayload announces a roster addition to the poll room.
type StudentJoinedPayload struct {
	StudentName   string `json:"student_name"`
	TotalStudents int    `json:"total_students"`
	Rejoined      bool   `json:"rejoined,omitempty"`
}

// StudentLeftPayload announces a departure (disconnect or removal) with
// the roster size after the change.
type StudentLeftPayload struct {
	StudentName   string `json:"student_name"`
	TotalStudents int    `json:"total_students"`
}

// StudentRemovedPayload is sent privately to a student the teacher kicked,
// right before their connection is closed.
type StudentRemovedPayload struct {
	Reason string `json:"reason"`
}

// QuestionStartedPayload opens a question for the poll room.
type QuestionStartedPayload struct {
	Question     QuestionInfo `json:"question"`
	TimeLimitSec int          `json:"time_limit_sec"`
}

// ResultsUpdatedPayload carries live tallies after each accepted answer.
type ResultsUpdatedPayload struct {
	QuestionID string                  `json:"question_id"`
	Results    results.QuestionResults `json:"results"`
}

// QuestionEndedPayload carries the final tallies of a closed question.
type QuestionEndedPayload struct {
	QuestionID string                  `json:"question_id"`
	Results    results.QuestionResults `json:"results"`
}

// TimerTickPayload is the per-second countdown update for the open question.
type TimerTickPayload struct {
	QuestionID       string    `json:"question_id"`
	TimeRemainingSec int       `json:"time_remaining_sec"`
	TickedAt         time.Time `json:"ticked_at"`
}

// AnswerSubmittedPayload acknowledges an accepted answer to the submitter.
type AnswerSubmittedPayload struct {
	QuestionID string `json:"question_id"`
	Success    bool   `json:"success"`
}

// PollStatePayload is the full private snapshot sent to a joining teacher.
type PollStatePayload struct {
	Participants        []string          `json:"participants"`
	ActiveQuestionIndex int               `json:"active_question_index"`
	Questions           []models.Question `json:"questions"`
}

// CurrentQuestionPayload is the private snapshot sent to a student who
// joins while a question is already open.
type CurrentQuestionPayload struct {
	Question         QuestionInfo `json:"question"`
	TimeRemainingSec int          `json:"time_remaining_sec"`
}

// ErrorPayload is returned to the single requesting connection; errors are
// never broadcast.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
