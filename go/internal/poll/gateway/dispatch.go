package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// clientMessage is the envelope every inbound WebSocket frame uses.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinPollRequest struct {
	PollID      string `json:"pollId"`
	DisplayName string `json:"displayName"`
}

type teacherJoinRequest struct {
	PollID string `json:"pollId"`
}

type submitAnswerRequest struct {
	PollID         string `json:"pollId"`
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
}

type questionControlRequest struct {
	PollID     string `json:"pollId"`
	QuestionID string `json:"questionId"`
}

type removeStudentRequest struct {
	PollID      string `json:"pollId"`
	DisplayName string `json:"displayName"`
}

// dispatch routes one inbound frame to the session handler. Failures go back
// to the sender as an error event; they never tear the connection down.
func (cm *ConnectionManager) dispatch(conn *Connection, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("unparseable client message")
		return
	}

	ctx := context.Background()

	switch msg.Type {
	case "join-poll":
		var req joinPollRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad join-poll payload")
			return
		}
		if err := cm.handler.JoinStudent(ctx, conn.ID, req.PollID, req.DisplayName); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	case "teacher-join":
		var req teacherJoinRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad teacher-join payload")
			return
		}
		if err := cm.handler.JoinTeacher(ctx, conn.ID, req.PollID); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	case "submit-answer":
		var req submitAnswerRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad submit-answer payload")
			return
		}
		if err := cm.handler.SubmitAnswer(ctx, conn.ID, req.PollID, req.QuestionID, req.SelectedOption); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	case "open-question":
		var req questionControlRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad open-question payload")
			return
		}
		if err := cm.handler.OpenQuestion(ctx, req.PollID, req.QuestionID); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	case "close-question":
		var req questionControlRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad close-question payload")
			return
		}
		if err := cm.handler.CloseQuestion(ctx, req.PollID, req.QuestionID); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	case "remove-student":
		var req removeStudentRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Warn().Err(err).Str("connection_id", conn.ID).Msg("bad remove-student payload")
			return
		}
		if err := cm.handler.RemoveStudent(ctx, req.PollID, req.DisplayName, conn.ID); err != nil {
			cm.sendError(conn, req.PollID, err)
		}

	default:
		log.Warn().Str("connection_id", conn.ID).Str("type", msg.Type).Msg("unknown client message type")
	}
}
