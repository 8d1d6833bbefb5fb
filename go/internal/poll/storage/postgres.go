package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/classpoll/go/internal/models"
)

// PostgresStore persists each poll as one aggregate row with the question
// and roster lists as JSONB, matching the read-mutate-save unit the
// coordinator performs inside its serialization point.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS polls (
	id                    TEXT PRIMARY KEY,
	title                 TEXT NOT NULL,
	creator_id            TEXT NOT NULL,
	participants          JSONB NOT NULL DEFAULT '[]',
	questions             JSONB NOT NULL DEFAULT '[]',
	active_question_index INT NOT NULL DEFAULT -1,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS polls_creator_idx ON polls (creator_id, created_at DESC);

CREATE TABLE IF NOT EXISTS poll_presence (
	poll_id       TEXT NOT NULL,
	student_name  TEXT NOT NULL,
	connection_id TEXT NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at     TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (poll_id, student_name)
);
`

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	const stmt = `
		SELECT id, title, creator_id, participants, questions, active_question_index, created_at, updated_at
		FROM polls WHERE id = $1`

	return scanPoll(s.pool.QueryRow(ctx, stmt, pollID))
}

func (s *PostgresStore) SavePoll(ctx context.Context, p *models.Poll) error {
	participants, err := json.Marshal(p.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	questions, err := json.Marshal(p.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	const stmt = `
		INSERT INTO polls (id, title, creator_id, participants, questions, active_question_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			participants = EXCLUDED.participants,
			questions = EXCLUDED.questions,
			active_question_index = EXCLUDED.active_question_index,
			updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		p.ID, p.Title, p.CreatorID, participants, questions,
		p.ActiveQuestionIndex, p.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save poll %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListPollsByCreator(ctx context.Context, creatorID string, limit int) ([]*models.Poll, error) {
	const stmt = `
		SELECT id, title, creator_id, participants, questions, active_question_index, created_at, updated_at
		FROM polls WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, stmt, creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	var out []*models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPresence(ctx context.Context, pollID, studentName string) (*models.Presence, error) {
	const stmt = `
		SELECT poll_id, student_name, connection_id, active, joined_at, last_seen_at
		FROM poll_presence WHERE poll_id = $1 AND student_name = $2`

	var pr models.Presence
	err := s.pool.QueryRow(ctx, stmt, pollID, studentName).Scan(
		&pr.PollID, &pr.StudentName, &pr.ConnectionID, &pr.Active, &pr.JoinedAt, &pr.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	return &pr, nil
}

func (s *PostgresStore) UpsertPresence(ctx context.Context, pr *models.Presence) error {
	const stmt = `
		INSERT INTO poll_presence (poll_id, student_name, connection_id, active, joined_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (poll_id, student_name) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			active = EXCLUDED.active,
			last_seen_at = EXCLUDED.last_seen_at`

	_, err := s.pool.Exec(ctx, stmt,
		pr.PollID, pr.StudentName, pr.ConnectionID, pr.Active, pr.JoinedAt, pr.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkPresenceInactive(ctx context.Context, pollID, studentName string) error {
	const stmt = `
		UPDATE poll_presence SET active = FALSE, last_seen_at = $3
		WHERE poll_id = $1 AND student_name = $2`

	tag, err := s.pool.Exec(ctx, stmt, pollID, studentName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark presence inactive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var (
		p            models.Poll
		participants []byte
		questions    []byte
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.CreatorID, &participants, &questions,
		&p.ActiveQuestionIndex, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan poll: %w", err)
	}

	if err := json.Unmarshal(participants, &p.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if err := json.Unmarshal(questions, &p.Questions); err != nil {
		return nil, fmt.Errorf("unmarshal questions: %w", err)
	}
	return &p, nil
}
