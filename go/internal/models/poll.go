package models

import (
	"time"
)

// Role identifies what kind of client a connection session belongs to.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Answer is a single student's submission for a question.
type Answer struct {
	StudentName    string    `json:"student_name"`
	SelectedOption int       `json:"selected_option"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Question is one prompt inside a poll. It transitions
// unopened -> open -> closed exactly once each way.
type Question struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Options      []string   `json:"options"`
	TimeLimitSec int        `json:"time_limit_sec"`
	IsOpen       bool       `json:"is_open"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	Answers      []Answer   `json:"answers"`
}

// Closed reports whether the question has reached its terminal state.
func (q *Question) Closed() bool {
	return q.ClosedAt != nil
}

// AnswerBy returns the answer submitted by the named student, or nil.
func (q *Question) AnswerBy(studentName string) *Answer {
	for i := range q.Answers {
		if q.Answers[i].StudentName == studentName {
			return &q.Answers[i]
		}
	}
	return nil
}

// Poll is the aggregate root for one live polling session. The poll ID
// doubles as the join code students type in.
type Poll struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	CreatorID           string     `json:"creator_id"`
	Participants        []string   `json:"participants"`
	Questions           []Question `json:"questions"`
	ActiveQuestionIndex int        `json:"active_question_index"` // -1 when no question is open
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Question returns the question with the given ID, or nil.
func (p *Poll) Question(questionID string) *Question {
	if i := p.QuestionIndex(questionID); i >= 0 {
		return &p.Questions[i]
	}
	return nil
}

// QuestionIndex returns the position of the question in the ordered list,
// or -1 if absent.
func (p *Poll) QuestionIndex(questionID string) int {
	for i := range p.Questions {
		if p.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// OpenQuestion returns the currently open question, or nil. At most one
// question per poll is open at any instant.
func (p *Poll) OpenQuestion() *Question {
	for i := range p.Questions {
		if p.Questions[i].IsOpen {
			return &p.Questions[i]
		}
	}
	return nil
}

// HasParticipant reports whether the display name is on the roster.
// Names are case-sensitive.
func (p *Poll) HasParticipant(studentName string) bool {
	for _, name := range p.Participants {
		if name == studentName {
			return true
		}
	}
	return false
}

// RemoveParticipant drops the name from the roster and strips every
// answer the student submitted across all questions.
func (p *Poll) RemoveParticipant(studentName string) {
	kept := p.Participants[:0]
	for _, name := range p.Participants {
		if name != studentName {
			kept = append(kept, name)
		}
	}
	p.Participants = kept

	for qi := range p.Questions {
		q := &p.Questions[qi]
		answers := q.Answers[:0]
		for _, a := range q.Answers {
			if a.StudentName != studentName {
				answers = append(answers, a)
			}
		}
		q.Answers = answers
	}
}

// Presence is the durable liveness record per (poll, participant). It is
// used only to decide whether a joining student is rejoining.
type Presence struct {
	PollID       string    `json:"poll_id"`
	StudentName  string    `json:"student_name"`
	ConnectionID string    `json:"connection_id"`
	Active       bool      `json:"active"`
	JoinedAt     time.Time `json:"joined_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}
