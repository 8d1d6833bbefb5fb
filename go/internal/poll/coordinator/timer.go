package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/events"
)

// questionTimer is the single countdown abstraction for one open question:
// per-second ticks and the terminal expiry come from the same goroutine, so
// they cannot be cancelled divergently.
type questionTimer struct {
	pollID     string
	questionID string
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func (t *questionTimer) cancel() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// startTimerLocked attaches a fresh countdown to the poll's state, replacing
// any previous one. Callers must hold st.mu.
func (c *Coordinator) startTimerLocked(st *pollState, pollID string, q *models.Question) {
	if st.timer != nil {
		st.timer.cancel()
	}

	t := &questionTimer{
		pollID:     pollID,
		questionID: q.ID,
		stopCh:     make(chan struct{}),
	}
	st.timer = t

	go c.runTimer(t, q.TimeLimitSec)
}

// runTimer broadcasts timer-tick once per second and invokes the close
// procedure when the countdown reaches zero. Cancellation discards the
// terminal callback; the close path is idempotent, so a tick racing an
// early-completion close resolves at the poll's lock.
func (c *Coordinator) runTimer(t *questionTimer, durationSec int) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := durationSec
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.Chan():
		}

		// Re-check after waking: a close may have cancelled us while the
		// tick was already pending.
		select {
		case <-t.stopCh:
			return
		default:
		}

		remaining--
		c.broadcastToPoll(t.pollID, events.TypeTimerTick, events.TimerTickPayload{
			QuestionID:       t.questionID,
			TimeRemainingSec: remaining,
			TickedAt:         c.clock.Now().UTC(),
		})

		if remaining <= 0 {
			if err := c.CloseQuestion(context.Background(), t.pollID, t.questionID); err != nil {
				log.Error().Err(err).
					Str("poll_id", t.pollID).
					Str("question_id", t.questionID).
					Msg("timer-driven close failed, question left open")
			}
			return
		}
	}
}
