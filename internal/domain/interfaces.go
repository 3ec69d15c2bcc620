package domain

import (
	"context"
	"time"

	"catalogexport/internal/models"
)

// CatalogSource reads the product catalog. StreamCatalog invokes fn once per
// product in id order and stops at the first error fn returns.
type CatalogSource interface {
	StreamCatalog(ctx context.Context, fn func(models.CatalogRow) error) error
	CatalogStats(ctx context.Context) (models.ExportStats, error)
}

// ArtifactGenerator renders the catalog into a local file named after the
// export id.
type ArtifactGenerator interface {
	Generate(ctx context.Context, exportID string) (models.ExportArtifact, error)
}

// ArtifactUploader pushes a generated file to object storage and returns its
// key. requestedAt may be used to pick the date partition.
type ArtifactUploader interface {
	UploadCatalogExport(ctx context.Context, filePath, exportID string, requestedAt time.Time) (string, error)
}

// Notifier delivers the outcome of an export attempt to the administrator.
// A nil error means the message was delivered or persisted.
type Notifier interface {
	SendExportSuccessNotification(ctx context.Context, adminEmail, exportID, storageKey string, stats models.ExportStats) error
	SendExportFailureNotification(ctx context.Context, adminEmail, exportID, errorMessage string) error
}

// RunRecorder keeps the per-attempt history of exports.
type RunRecorder interface {
	StartExportRun(ctx context.Context, task models.ExportTask, attempt int) (int64, error)
	FinishExportRun(ctx context.Context, runID int64, status models.ExportState, storageKey string, rows int, errMsg string) error
	MarkPermanentlyFailed(ctx context.Context, exportID string, errMsg string) error
}

// RunReader exposes the run history to the API.
type RunReader interface {
	GetExportRuns(ctx context.Context, exportID string) ([]models.ExportRun, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
