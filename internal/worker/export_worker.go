package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/events"
	"catalogexport/internal/logging"
	"catalogexport/internal/models"
	"catalogexport/internal/pipeline"
	"catalogexport/internal/queue"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Pipeline is the per-attempt export logic driven by the worker.
type Pipeline interface {
	Attempt(ctx context.Context, task models.ExportTask, attempt int) pipeline.Result
	OnPermanentFailure(ctx context.Context, task models.ExportTask, attempts int, cause error)
}

// ExportWorker pulls export tasks from the queue and runs them with a pool
// of goroutines. Each attempt runs under the task timeout; failures are
// rescheduled with backoff until the attempt limit is reached, then the
// message is dead-lettered.
type ExportWorker struct {
	queue    queue.Queue
	pipeline Pipeline
	cfg      config.QueueConfig
	retry    RetryPolicy
	clock    clockwork.Clock
	events   domain.EventPublisher
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewExportWorker(q queue.Queue, p Pipeline, cfg config.QueueConfig, clock clockwork.Clock, publisher domain.EventPublisher, logger *zerolog.Logger) *ExportWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = models.DefaultWorkers
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = models.DefaultTaskTimeoutSeconds * time.Second
	}
	return &ExportWorker{
		queue:    q,
		pipeline: p,
		cfg:      cfg,
		retry:    PolicyFromConfig(cfg),
		clock:    clock,
		events:   publisher,
		logger:   logging.Component(logger, "export_worker"),
	}
}

// Enqueue validates task and puts it on the queue.
func (w *ExportWorker) Enqueue(ctx context.Context, task models.ExportTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid export task: %w", err)
	}
	if task.RequestedAt.IsZero() {
		task.RequestedAt = w.clock.Now().UTC()
	}

	msg := models.QueueMessage{Task: task, EnqueuedAt: w.clock.Now().UTC()}
	if err := w.queue.Push(ctx, msg); err != nil {
		return fmt.Errorf("enqueue export %s: %w", task.ExportID, err)
	}

	w.logger.Info().Str("export_id", task.ExportID).Str("admin_email", task.AdminEmail).Msg("export enqueued")
	w.publish(events.EventExportEnqueued, events.ExportEventPayload{ExportID: task.ExportID, AdminEmail: task.AdminEmail})
	return nil
}

// Start runs the worker pool until ctx is done and waits for in-flight
// attempts to return.
func (w *ExportWorker) Start(ctx context.Context) {
	if w.cfg.MemoryLimitMB > 0 {
		prev := debug.SetMemoryLimit(w.cfg.MemoryLimitMB << 20)
		w.logger.Info().Int64("limit_mb", w.cfg.MemoryLimitMB).Int64("previous_bytes", prev).Msg("memory limit applied")
	}

	w.logger.Info().Int("workers", w.cfg.Workers).Str("queue", w.cfg.Name).Msg("export worker started")
	defer w.logger.Info().Msg("export worker stopped")

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.loop(ctx, id)
		}(i + 1)
	}
	w.wg.Wait()
}

func (w *ExportWorker) loop(ctx context.Context, id int) {
	log := w.logger.With().Int("worker", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok, err := w.queue.Pop(ctx, w.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("queue pop failed")
			w.sleep(ctx, w.cfg.PollWait)
			continue
		}
		if !ok {
			continue
		}

		w.processMessage(ctx, msg)
	}
}

func (w *ExportWorker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.clock.After(d):
	}
}

// processMessage runs one delivery of msg, decides its fate and then
// acknowledges the delivery. Shutdown does not interrupt a running attempt;
// only the task timeout bounds it.
func (w *ExportWorker) processMessage(ctx context.Context, msg models.QueueMessage) {
	// the queue must keep the message even when the worker is shutting down
	queueCtx := context.WithoutCancel(ctx)
	defer w.ack(queueCtx, msg)

	msg.Attempts++
	log := logging.ForTask(w.logger, msg.Task, msg.Attempts)

	if err := msg.Task.Validate(); err != nil {
		log.Error().Err(err).Msg("dropping malformed export task to dead letter")
		msg.LastError = err.Error()
		if err := w.queue.DeadLetter(queueCtx, msg); err != nil {
			log.Error().Err(err).Msg("dead letter push failed")
		}
		return
	}

	if w.retry.Exhausted(msg.Attempts - 1) {
		// redelivered after its last attempt was lost with a worker
		msg.Attempts--
		w.giveUp(queueCtx, msg, errors.New(msg.LastError), log)
		return
	}

	attemptCtx, cancel := context.WithTimeout(queueCtx, w.cfg.Timeout)
	res := w.pipeline.Attempt(attemptCtx, msg.Task, msg.Attempts)
	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	cancel()

	if res.OK() {
		return
	}
	msg.LastError = res.Err.Error()

	if timedOut {
		log.Warn().Dur("timeout", w.cfg.Timeout).Msg("export attempt timed out")
	}

	if !w.retry.Exhausted(msg.Attempts) {
		delay := w.retry.NextDelay(msg.Attempts)
		err := w.queue.PushDelayed(queueCtx, msg, w.clock.Now().Add(delay))
		if err == nil {
			log.Info().Dur("delay", delay).Msg("export rescheduled")
			return
		}
		log.Error().Err(err).Msg("failed to reschedule export, dead-lettering")
	}

	w.giveUp(queueCtx, msg, res.Err, log)
}

func (w *ExportWorker) giveUp(ctx context.Context, msg models.QueueMessage, cause error, log zerolog.Logger) {
	w.pipeline.OnPermanentFailure(ctx, msg.Task, msg.Attempts, cause)
	if err := w.queue.DeadLetter(ctx, msg); err != nil {
		log.Error().Err(err).Msg("dead letter push failed")
	}
}

func (w *ExportWorker) ack(ctx context.Context, msg models.QueueMessage) {
	if err := w.queue.Ack(ctx, msg); err != nil {
		w.logger.Error().Err(err).Str("export_id", msg.Task.ExportID).Msg("failed to ack delivery")
	}
}

func (w *ExportWorker) publish(eventType string, payload events.ExportEventPayload) {
	if w.events == nil {
		return
	}
	if err := w.events.PublishJSON(eventType, payload); err != nil {
		w.logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}
