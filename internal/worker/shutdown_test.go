package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/database"
	"catalogexport/internal/export"
	"catalogexport/internal/models"
	"catalogexport/internal/notify"
	"catalogexport/internal/pipeline"
	"catalogexport/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shutdownUploader signals worker shutdown while its upload is in flight.
type shutdownUploader struct {
	shutdown context.CancelFunc
}

func (u *shutdownUploader) UploadCatalogExport(ctx context.Context, filePath, exportID string, requestedAt time.Time) (string, error) {
	u.shutdown()
	time.Sleep(20 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "catalog-exports/" + filepath.Base(filePath), nil
}

func TestShutdownDuringUploadSendsNoFailureNotice(t *testing.T) {
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateProduct(context.Background(), &models.Product{Name: "Drill", Article: "DR-1", Price: 10}))

	notifications := config.NotificationConfig{
		FromAddress:   "noreply@catalog.local",
		LogDirectory:  filepath.Join(dir, "notifications"),
		FilePrefix:    "export_email_",
		HTMLExtension: ".html",
		JSONExtension: ".json",
	}
	exports := config.ExportConfig{
		Directory:     filepath.Join(dir, "exports"),
		FilePrefix:    "catalog_export_",
		FileExtension: ".csv",
		DirMode:       "0755",
		Format:        models.FormatCSV,
	}
	sink := notify.NewFileSink(notifications)
	gen, err := export.New(db, exports, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orchestrator := pipeline.NewOrchestrator(pipeline.Dependencies{
		Generator: gen,
		Uploader:  &shutdownUploader{shutdown: cancel},
		Source:    db,
		Notifier:  notify.NewDispatcher(notifications, sink, nil, nil),
		Runs:      db,
	}, exports, nil)

	q := queue.NewMemoryQueue(10, nil)
	w := NewExportWorker(q, orchestrator, queueConfig(), nil, nil, nil)
	w.processMessage(ctx, models.QueueMessage{Task: validTask()})

	require.Error(t, ctx.Err(), "shutdown happened during the attempt")

	entries, err := os.ReadDir(notifications.LogDirectory)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), models.FailureSuffix), "unexpected failure record %s", e.Name())
	}
	successJSON, _ := sink.Paths(models.NotificationRecord{ExportID: "exp-001", Suffix: models.SuccessSuffix})
	assert.FileExists(t, successJSON)

	runs, err := db.GetExportRuns(context.Background(), "exp-001")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StateSucceeded, runs[0].Status)

	n, _ := q.Len(context.Background())
	assert.Zero(t, n)
	assert.Empty(t, q.DeadLetters())
}
