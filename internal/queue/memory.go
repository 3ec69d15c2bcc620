package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
)

// MemoryQueue is a process-local queue. Messages are lost on restart.
type MemoryQueue struct {
	ready   chan models.QueueMessage
	clock   clockwork.Clock
	pending atomic.Int64

	mu   sync.Mutex
	dead []models.QueueMessage
}

func NewMemoryQueue(size int, clock clockwork.Clock) *MemoryQueue {
	if size <= 0 {
		size = models.WorkerQueueSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryQueue{
		ready: make(chan models.QueueMessage, size),
		clock: clock,
	}
}

func (q *MemoryQueue) Push(ctx context.Context, msg models.QueueMessage) error {
	select {
	case q.ready <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) PushDelayed(ctx context.Context, msg models.QueueMessage, at time.Time) error {
	delay := at.Sub(q.clock.Now())
	if delay <= 0 {
		return q.Push(ctx, msg)
	}

	q.pending.Add(1)
	q.clock.AfterFunc(delay, func() {
		q.pending.Add(-1)
		if err := q.Push(context.Background(), msg); err != nil {
			q.mu.Lock()
			msg.LastError = err.Error()
			q.dead = append(q.dead, msg)
			q.mu.Unlock()
		}
	})
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, wait time.Duration) (models.QueueMessage, bool, error) {
	select {
	case msg := <-q.ready:
		return msg, true, nil
	default:
	}
	if wait <= 0 {
		return models.QueueMessage{}, false, nil
	}

	timer := q.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-q.ready:
		return msg, true, nil
	case <-timer.Chan():
		return models.QueueMessage{}, false, nil
	case <-ctx.Done():
		return models.QueueMessage{}, false, ctx.Err()
	}
}

// Ack is a no-op: a popped message lives only in the worker holding it.
func (q *MemoryQueue) Ack(ctx context.Context, msg models.QueueMessage) error {
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, msg)
	return nil
}

// DeadLetters returns a copy of the dead-lettered messages in arrival order.
func (q *MemoryQueue) DeadLetters() []models.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.QueueMessage(nil), q.dead...)
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ready)) + q.pending.Load(), nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return nil
}
