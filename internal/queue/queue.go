package queue

import (
	"context"
	"errors"
	"time"

	"catalogexport/internal/models"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrNoClient  = errors.New("redis client is nil")
)

// Queue is the delivery transport for export tasks. Pop blocks up to wait
// and reports false when nothing arrived. A popped message stays in flight
// until Ack; queues that survive restarts deliver unacked messages again.
type Queue interface {
	Push(ctx context.Context, msg models.QueueMessage) error
	PushDelayed(ctx context.Context, msg models.QueueMessage, at time.Time) error
	Pop(ctx context.Context, wait time.Duration) (models.QueueMessage, bool, error)
	Ack(ctx context.Context, msg models.QueueMessage) error
	DeadLetter(ctx context.Context, msg models.QueueMessage) error
	Len(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}
