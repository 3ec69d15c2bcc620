package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notificationConfig(t *testing.T) config.NotificationConfig {
	t.Helper()
	return config.NotificationConfig{
		FromAddress:   "noreply@catalog.local",
		LogDirectory:  filepath.Join(t.TempDir(), "notifications"),
		FilePrefix:    "export_email_",
		HTMLExtension: ".html",
		JSONExtension: ".json",
	}
}

func newDispatcher(t *testing.T) (*Dispatcher, *FileSink) {
	t.Helper()
	cfg := notificationConfig(t)
	sink := NewFileSink(cfg)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewDispatcher(cfg, sink, clock, nil), sink
}

func TestSuccessNotification(t *testing.T) {
	d, sink := newDispatcher(t)
	stats := models.ExportStats{TotalProducts: 2, WithImages: 1, WithManufacturer: 1, WithCategory: 1}

	err := d.SendExportSuccessNotification(context.Background(), "admin@example.com", "exp-001", "catalog-exports/2025/01/02/catalog_export_exp-001.csv", stats)
	require.NoError(t, err)

	jsonPath, htmlPath := sink.Paths(models.NotificationRecord{ExportID: "exp-001"})
	assert.Equal(t, "export_email_exp-001.json", filepath.Base(jsonPath))

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var rec models.NotificationRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "admin@example.com", rec.To)
	assert.Equal(t, "noreply@catalog.local", rec.From)
	require.NotNil(t, rec.Stats)
	assert.Equal(t, stats, *rec.Stats)
	assert.Contains(t, rec.TextBody, "catalog-exports/2025/01/02/catalog_export_exp-001.csv")
	assert.Contains(t, rec.TextBody, "Total products:")

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "exp-001")
	assert.Contains(t, string(html), "<td>2</td>")
}

func TestFailureNotificationUsesDistinctKey(t *testing.T) {
	d, sink := newDispatcher(t)
	ctx := context.Background()

	require.NoError(t, d.SendExportSuccessNotification(ctx, "admin@example.com", "exp-001", "key", models.ExportStats{}))
	require.NoError(t, d.SendExportFailureNotification(ctx, "admin@example.com", "exp-001", "upload <failed> & retried"))

	successJSON, _ := sink.Paths(models.NotificationRecord{ExportID: "exp-001", Suffix: models.SuccessSuffix})
	failureJSON, failureHTML := sink.Paths(models.NotificationRecord{ExportID: "exp-001", Suffix: models.FailureSuffix})
	assert.Equal(t, "export_email_exp-001_error.json", filepath.Base(failureJSON))
	assert.FileExists(t, successJSON)
	assert.FileExists(t, failureJSON)

	html, err := os.ReadFile(failureHTML)
	require.NoError(t, err)
	assert.Contains(t, string(html), "upload &lt;failed&gt; &amp; retried")
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, models.NotificationRecord) error {
	return errors.New("disk full")
}

func TestDeliveryFailure(t *testing.T) {
	d := NewDispatcher(notificationConfig(t), failingSink{}, nil, nil)

	err := d.SendExportFailureNotification(context.Background(), "admin@example.com", "exp-001", "boom")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotification, domain.KindOf(err))
}

func TestFileSinkCanceledContext(t *testing.T) {
	sink := NewFileSink(notificationConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Deliver(ctx, models.NotificationRecord{ExportID: "exp-001"}), context.Canceled)
}

func TestFileSinkMetadataFailureRemovesHTML(t *testing.T) {
	cfg := notificationConfig(t)
	sink := NewFileSink(cfg)
	rec := models.NotificationRecord{ExportID: "exp-001", Suffix: models.SuccessSuffix, HTMLBody: "<p>done</p>"}

	jsonPath, htmlPath := sink.Paths(rec)
	// a directory in place of the metadata file makes the final rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(jsonPath, "blocker"), 0o755))

	require.Error(t, sink.Deliver(context.Background(), rec))
	assert.NoFileExists(t, htmlPath)
}
