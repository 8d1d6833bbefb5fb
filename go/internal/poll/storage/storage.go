// Package storage owns durable poll state. Implementations must return
// isolated snapshots from GetPoll: the coordinator mutates its copy in
// memory and persists it with SavePoll inside the per-poll serialization
// point, so a failed save leaves the stored aggregate untouched.
package storage

import (
	"context"
	"errors"

	"github.com/mcdev12/classpoll/go/internal/models"
)

// ErrNotFound is returned when a poll or presence record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable aggregate store consumed by the coordinator.
type Store interface {
	// GetPoll returns an isolated snapshot of the poll aggregate.
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)

	// SavePoll upserts the whole aggregate.
	SavePoll(ctx context.Context, p *models.Poll) error

	// ListPollsByCreator returns the creator's polls, newest first.
	ListPollsByCreator(ctx context.Context, creatorID string, limit int) ([]*models.Poll, error)

	// GetPresence returns the liveness record for a (poll, participant) pair.
	GetPresence(ctx context.Context, pollID, studentName string) (*models.Presence, error)

	// UpsertPresence inserts or replaces a liveness record.
	UpsertPresence(ctx context.Context, pr *models.Presence) error

	// MarkPresenceInactive flags the record after a disconnect or removal.
	MarkPresenceInactive(ctx context.Context, pollID, studentName string) error
}
