package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"catalogexport/internal/config"
	"catalogexport/internal/models"
)

// Sink persists or delivers a rendered notification.
type Sink interface {
	Deliver(ctx context.Context, rec models.NotificationRecord) error
}

// FileSink writes every notification as a JSON metadata file plus its HTML
// rendering. Files are named after the record key, so success and failure
// records of one export never collide.
type FileSink struct {
	cfg config.NotificationConfig
}

func NewFileSink(cfg config.NotificationConfig) *FileSink {
	return &FileSink{cfg: cfg}
}

// Paths returns the JSON and HTML file paths for rec.
func (s *FileSink) Paths(rec models.NotificationRecord) (jsonPath, htmlPath string) {
	base := filepath.Join(s.cfg.LogDirectory, s.cfg.FilePrefix+rec.Key())
	return base + s.cfg.JSONExtension, base + s.cfg.HTMLExtension
}

func (s *FileSink) Deliver(ctx context.Context, rec models.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.cfg.LogDirectory, 0o755); err != nil {
		return fmt.Errorf("create notification directory: %w", err)
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	jsonPath, htmlPath := s.Paths(rec)
	if err := writeFileAtomic(htmlPath, []byte(rec.HTMLBody)); err != nil {
		return fmt.Errorf("write notification html: %w", err)
	}
	if err := writeFileAtomic(jsonPath, meta); err != nil {
		// the metadata file marks delivery; never leave the page behind alone
		os.Remove(htmlPath)
		return fmt.Errorf("write notification metadata: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
