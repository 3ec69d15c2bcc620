package notify

import (
	"context"
	"fmt"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/logging"
	"catalogexport/internal/metrics"
	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Dispatcher renders export outcome messages and hands them to a Sink.
type Dispatcher struct {
	cfg    config.NotificationConfig
	sink   Sink
	clock  clockwork.Clock
	logger zerolog.Logger
}

var _ domain.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg config.NotificationConfig, sink Sink, clock clockwork.Clock, logger *zerolog.Logger) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		clock:  clock,
		logger: logging.Component(logger, "notifier"),
	}
}

func (d *Dispatcher) SendExportSuccessNotification(ctx context.Context, adminEmail, exportID, storageKey string, stats models.ExportStats) error {
	rec := models.NotificationRecord{
		Kind:       models.NotificationSuccess,
		ExportID:   exportID,
		Suffix:     models.SuccessSuffix,
		To:         adminEmail,
		From:       d.cfg.FromAddress,
		Subject:    fmt.Sprintf("Catalog export %s is ready", exportID),
		TextBody:   successText(exportID, storageKey, stats),
		StorageKey: storageKey,
		Stats:      &stats,
		CreatedAt:  d.clock.Now().UTC(),
	}
	return d.deliver(ctx, rec)
}

// SendExportFailureNotification carries only the error message; stack traces
// never reach the recipient.
func (d *Dispatcher) SendExportFailureNotification(ctx context.Context, adminEmail, exportID, errorMessage string) error {
	rec := models.NotificationRecord{
		Kind:      models.NotificationFailure,
		ExportID:  exportID,
		Suffix:    models.FailureSuffix,
		To:        adminEmail,
		From:      d.cfg.FromAddress,
		Subject:   fmt.Sprintf("Catalog export %s failed", exportID),
		TextBody:  failureText(exportID, errorMessage),
		Error:     errorMessage,
		CreatedAt: d.clock.Now().UTC(),
	}
	return d.deliver(ctx, rec)
}

func (d *Dispatcher) deliver(ctx context.Context, rec models.NotificationRecord) error {
	html, err := renderHTML(rec)
	if err != nil {
		metrics.IncNotification(rec.Kind, "error")
		return domain.NewError(domain.KindNotification, "notify.render", rec.ExportID, err)
	}
	rec.HTMLBody = html

	if err := d.sink.Deliver(ctx, rec); err != nil {
		metrics.IncNotification(rec.Kind, "error")
		return domain.NewError(domain.KindNotification, "notify.deliver", rec.ExportID, err)
	}

	metrics.IncNotification(rec.Kind, "sent")
	d.logger.Info().
		Str("export_id", rec.ExportID).
		Str("to", rec.To).
		Str("kind", rec.Kind).
		Msg("notification delivered")
	return nil
}
