package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/events"
	"catalogexport/internal/logging"
	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Result is the outcome of one export attempt. Err is nil on success and a
// *domain.Error otherwise.
type Result struct {
	ExportID   string
	LocalPath  string
	StorageKey string
	Rows       int
	Stats      models.ExportStats
	Duration   time.Duration
	Err        error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Dependencies are the collaborators of an Orchestrator. Runs and Events are
// optional.
type Dependencies struct {
	Generator domain.ArtifactGenerator
	Uploader  domain.ArtifactUploader
	Source    domain.CatalogSource
	Notifier  domain.Notifier
	Runs      domain.RunRecorder
	Events    domain.EventPublisher
	Clock     clockwork.Clock
}

// Orchestrator runs a single export attempt: generate, upload, compute stats,
// notify. It keeps no state between attempts, so the queue may call it again
// for the same task.
type Orchestrator struct {
	deps   Dependencies
	cfg    config.ExportConfig
	logger zerolog.Logger
}

func NewOrchestrator(deps Dependencies, cfg config.ExportConfig, logger *zerolog.Logger) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logging.Component(logger, "orchestrator"),
	}
}

// Attempt executes one attempt of task. On failure the administrator gets a
// best-effort failure notification and the error is returned in the Result
// for the queue to apply its retry policy.
func (o *Orchestrator) Attempt(ctx context.Context, task models.ExportTask, attempt int) Result {
	start := o.deps.Clock.Now()
	log := logging.ForTask(o.logger, task, attempt)
	log.Info().Msg("export started")

	runID := o.startRun(ctx, task, attempt, log)
	o.publish(log, events.EventExportStarted, events.ExportEventPayload{
		ExportID:   task.ExportID,
		AdminEmail: task.AdminEmail,
		Attempt:    attempt,
	})

	res := o.run(ctx, task, log)
	res.Duration = o.deps.Clock.Since(start)

	if res.OK() {
		o.succeeded(ctx, task, attempt, runID, res, log)
	} else {
		o.failed(ctx, task, attempt, runID, res, log)
	}

	o.removeLocal(res.LocalPath, log)
	return res
}

func (o *Orchestrator) run(ctx context.Context, task models.ExportTask, log zerolog.Logger) Result {
	res := Result{ExportID: task.ExportID}

	artifact, err := o.deps.Generator.Generate(ctx, task.ExportID)
	res.LocalPath = artifact.LocalPath
	if err != nil {
		res.Err = classify(err, domain.KindGeneration, "pipeline.generate", task.ExportID)
		return res
	}
	res.Rows = artifact.Rows

	if artifact.LocalPath == "" {
		res.Err = domain.NewError(domain.KindGeneration, "pipeline.verify_artifact", task.ExportID, errors.New("generator returned no file"))
		return res
	}
	if _, err := os.Stat(artifact.LocalPath); err != nil {
		res.Err = domain.NewError(domain.KindGeneration, "pipeline.verify_artifact", task.ExportID, err)
		return res
	}
	log.Debug().Str("path", artifact.LocalPath).Int("rows", artifact.Rows).Msg("artifact generated")

	key, err := o.deps.Uploader.UploadCatalogExport(ctx, artifact.LocalPath, task.ExportID, task.RequestedAt)
	if err != nil {
		res.Err = classify(err, domain.KindStorageUpload, "pipeline.upload", task.ExportID)
		return res
	}
	if key == "" {
		res.Err = domain.NewError(domain.KindStorageUpload, "pipeline.upload", task.ExportID, errors.New("upload returned no storage key"))
		return res
	}
	res.StorageKey = key

	stats, err := o.deps.Source.CatalogStats(ctx)
	if err != nil {
		res.Err = classify(err, domain.KindData, "pipeline.stats", task.ExportID)
		return res
	}
	res.Stats = stats

	err = o.deps.Notifier.SendExportSuccessNotification(ctx, task.AdminEmail, task.ExportID, key, stats)
	if err != nil {
		if o.cfg.Strict() {
			res.Err = classify(err, domain.KindNotification, "pipeline.notify_success", task.ExportID)
			return res
		}
		log.Warn().Err(err).Msg("success notification failed, export kept as succeeded")
	}

	return res
}

func (o *Orchestrator) succeeded(ctx context.Context, task models.ExportTask, attempt int, runID int64, res Result, log zerolog.Logger) {
	log.Info().
		Str("storage_key", res.StorageKey).
		Int("rows", res.Rows).
		Int("total_products", res.Stats.TotalProducts).
		Dur("duration", res.Duration).
		Msg("export completed")

	o.finishRun(ctx, runID, models.StateSucceeded, res.StorageKey, res.Rows, "", log)
	o.publish(log, events.EventExportSucceeded, events.ExportEventPayload{
		ExportID:   task.ExportID,
		AdminEmail: task.AdminEmail,
		Attempt:    attempt,
		StorageKey: res.StorageKey,
		Rows:       res.Rows,
		Duration:   res.Duration.Seconds(),
	})
}

// failed reports a failed attempt. Errors of the failure notification are
// logged and never replace the original error.
func (o *Orchestrator) failed(ctx context.Context, task models.ExportTask, attempt int, runID int64, res Result, log zerolog.Logger) {
	kind := domain.KindOf(res.Err)
	event := log.Error()
	if domain.IsTransient(res.Err) {
		event = log.Warn()
	}
	event.Err(res.Err).Str("error_kind", string(kind)).Dur("duration", res.Duration).Msg("export attempt failed")

	notifyCtx := context.WithoutCancel(ctx)
	if err := o.deps.Notifier.SendExportFailureNotification(notifyCtx, task.AdminEmail, task.ExportID, res.Err.Error()); err != nil {
		log.Error().Err(err).Msg("failure notification could not be sent")
	}

	o.finishRun(ctx, runID, models.StateFailed, res.StorageKey, res.Rows, res.Err.Error(), log)
	o.publish(log, events.EventExportFailed, events.ExportEventPayload{
		ExportID:   task.ExportID,
		AdminEmail: task.AdminEmail,
		Attempt:    attempt,
		ErrorKind:  string(kind),
		Error:      res.Err.Error(),
		Duration:   res.Duration.Seconds(),
	})
}

// OnPermanentFailure records that task exhausted its attempts. No further
// notification is sent; the administrator already got one per failed attempt.
func (o *Orchestrator) OnPermanentFailure(ctx context.Context, task models.ExportTask, attempts int, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	log := logging.ForTask(o.logger, task, attempts)
	log.Error().
		Str("error", msg).
		Int("attempts", attempts).
		Msg("export permanently failed")

	if o.deps.Runs != nil {
		if err := o.deps.Runs.MarkPermanentlyFailed(ctx, task.ExportID, msg); err != nil {
			log.Error().Err(err).Msg("failed to mark export permanently failed")
		}
	}
	o.publish(log, events.EventExportDeadLettered, events.ExportEventPayload{
		ExportID:   task.ExportID,
		AdminEmail: task.AdminEmail,
		Attempt:    attempts,
		ErrorKind:  string(domain.KindOf(cause)),
		Error:      msg,
	})
}

func (o *Orchestrator) startRun(ctx context.Context, task models.ExportTask, attempt int, log zerolog.Logger) int64 {
	if o.deps.Runs == nil {
		return 0
	}
	id, err := o.deps.Runs.StartExportRun(ctx, task, attempt)
	if err != nil {
		log.Error().Err(err).Msg("failed to record export run")
		return 0
	}
	return id
}

func (o *Orchestrator) finishRun(ctx context.Context, runID int64, status models.ExportState, key string, rows int, errMsg string, log zerolog.Logger) {
	if o.deps.Runs == nil || runID == 0 {
		return
	}
	// the attempt context may already be expired
	ctx = context.WithoutCancel(ctx)
	if err := o.deps.Runs.FinishExportRun(ctx, runID, status, key, rows, errMsg); err != nil {
		log.Error().Err(err).Int64("run_id", runID).Msg("failed to update export run")
	}
}

func (o *Orchestrator) publish(log zerolog.Logger, eventType string, payload events.ExportEventPayload) {
	if o.deps.Events == nil {
		return
	}
	if err := o.deps.Events.PublishJSON(eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	}
}

func (o *Orchestrator) removeLocal(path string, log zerolog.Logger) {
	if path == "" || o.cfg.KeepLocalFiles {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove local export")
	}
}

// classify keeps an existing pipeline error and wraps anything else with
// the fallback kind.
func classify(err error, fallback domain.ErrorKind, op, exportID string) error {
	var perr *domain.Error
	if errors.As(err, &perr) {
		return err
	}
	return domain.NewError(fallback, op, exportID, err)
}
