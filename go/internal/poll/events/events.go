package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every outbound poll event. The same envelope
// travels over WebSocket connections and, when the relay is enabled, over
// JetStream to sibling instances.
type Event struct {
	ID        string          `json:"id"`
	PollID    string          `json:"poll_id"`
	Type      Type            `json:"type"`
	Origin    string          `json:"origin,omitempty"` // instance that produced the event
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Type names an outbound poll event.
type Type string

const (
	TypeStudentJoined   Type = "student-joined"
	TypeStudentLeft     Type = "student-left"
	TypeStudentRemoved  Type = "student-removed"
	TypeQuestionStarted Type = "question-started"
	TypeResultsUpdated  Type = "results-updated"
	TypeQuestionEnded   Type = "question-ended"
	TypeTimerTick       Type = "timer-tick"
	TypeAnswerSubmitted Type = "answer-submitted"
	TypePollState       Type = "poll-state"
	TypeCurrentQuestion Type = "current-question"
	TypeError           Type = "error"
)

// New builds an event envelope around the given payload.
func New(pollID string, t Type, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}

	return &Event{
		ID:        uuid.New().String(),
		PollID:    pollID,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
