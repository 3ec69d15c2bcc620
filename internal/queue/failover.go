package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"catalogexport/internal/logging"
	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverQueue prefers the primary queue and switches to the fallback when
// the primary errors. The primary is probed again once per recovery interval.
// Messages accepted by the fallback are drained before the primary is read.
type FailoverQueue struct {
	primary   Queue
	fallback  Queue
	clock     clockwork.Clock
	logger    zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverQueue(primary, fallback Queue, clock clockwork.Clock, logger *zerolog.Logger) *FailoverQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FailoverQueue{
		primary:  primary,
		fallback: fallback,
		clock:    clock,
		logger:   logging.Component(logger, "failover_queue"),
	}
}

// Degraded reports whether the fallback is currently in use.
func (q *FailoverQueue) Degraded() bool {
	return q.isDown.Load()
}

func (q *FailoverQueue) markDown(err error) {
	if !q.isDown.Swap(true) {
		q.logger.Error().Err(err).Msg("primary queue failed, falling back to memory")
	}
	q.lastCheck.Store(q.clock.Now().UnixNano())
}

// usePrimary reports whether the primary should be tried, allowing one probe
// per recovery interval while down.
func (q *FailoverQueue) usePrimary(ctx context.Context) bool {
	if !q.isDown.Load() {
		return true
	}
	last := time.Unix(0, q.lastCheck.Load())
	if q.clock.Since(last) < recoveryInterval {
		return false
	}
	if err := q.primary.Ping(ctx); err != nil {
		q.lastCheck.Store(q.clock.Now().UnixNano())
		return false
	}
	q.isDown.Store(false)
	q.logger.Info().Msg("primary queue recovered")
	return true
}

func (q *FailoverQueue) Push(ctx context.Context, msg models.QueueMessage) error {
	if q.usePrimary(ctx) {
		err := q.primary.Push(ctx, msg)
		if err == nil {
			return nil
		}
		q.markDown(err)
	}
	return q.fallback.Push(ctx, msg)
}

func (q *FailoverQueue) PushDelayed(ctx context.Context, msg models.QueueMessage, at time.Time) error {
	if q.usePrimary(ctx) {
		err := q.primary.PushDelayed(ctx, msg, at)
		if err == nil {
			return nil
		}
		q.markDown(err)
	}
	return q.fallback.PushDelayed(ctx, msg, at)
}

func (q *FailoverQueue) Pop(ctx context.Context, wait time.Duration) (models.QueueMessage, bool, error) {
	if msg, ok, err := q.fallback.Pop(ctx, 0); ok || err != nil {
		return msg, ok, err
	}

	if q.usePrimary(ctx) {
		msg, ok, err := q.primary.Pop(ctx, wait)
		if err == nil || ctx.Err() != nil {
			return msg, ok, err
		}
		q.markDown(err)
	}
	return q.fallback.Pop(ctx, wait)
}

// Ack routes to the queue that delivered msg. Only the primary hands out
// receipts.
func (q *FailoverQueue) Ack(ctx context.Context, msg models.QueueMessage) error {
	if msg.Receipt == "" {
		return q.fallback.Ack(ctx, msg)
	}
	if err := q.primary.Ack(ctx, msg); err != nil {
		q.markDown(err)
		return err
	}
	return nil
}

func (q *FailoverQueue) DeadLetter(ctx context.Context, msg models.QueueMessage) error {
	if q.usePrimary(ctx) {
		err := q.primary.DeadLetter(ctx, msg)
		if err == nil {
			return nil
		}
		q.markDown(err)
	}
	return q.fallback.DeadLetter(ctx, msg)
}

func (q *FailoverQueue) Len(ctx context.Context) (int64, error) {
	total, err := q.fallback.Len(ctx)
	if err != nil {
		return 0, err
	}
	if q.isDown.Load() {
		return total, nil
	}
	n, err := q.primary.Len(ctx)
	if err != nil {
		q.markDown(err)
		return total, nil
	}
	return total + n, nil
}

// Ping succeeds while either queue accepts work. A failing primary switches
// traffic to the fallback; Degraded tells the two cases apart.
func (q *FailoverQueue) Ping(ctx context.Context) error {
	err := q.primary.Ping(ctx)
	if err == nil {
		return nil
	}
	q.markDown(err)
	if fbErr := q.fallback.Ping(ctx); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}
