package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/models"

	"github.com/rs/zerolog"
)

// New returns the generator for the configured export format.
func New(source domain.CatalogSource, cfg config.ExportConfig, logger *zerolog.Logger) (domain.ArtifactGenerator, error) {
	switch cfg.Format {
	case models.FormatCSV, "":
		return NewCSVExporter(source, cfg, logger), nil
	case models.FormatXLSX:
		return NewXLSXExporter(source, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", cfg.Format)
	}
}

// FilePath is where the artifact of exportID is written.
func FilePath(cfg config.ExportConfig, exportID string) string {
	return filepath.Join(cfg.Directory, cfg.FilePrefix+exportID+cfg.FileExtension)
}

func prepareDir(cfg config.ExportConfig, exportID string) error {
	mode, err := cfg.Mode()
	if err != nil {
		return domain.NewError(domain.KindIO, "export.prepare_dir", exportID, err)
	}
	if err := os.MkdirAll(cfg.Directory, mode); err != nil {
		return domain.NewError(domain.KindIO, "export.prepare_dir", exportID, err)
	}
	return nil
}

// Record renders a catalog row in header order.
func Record(row models.CatalogRow) ([]string, error) {
	maintenances := row.Maintenances
	if maintenances == nil {
		maintenances = []models.Maintenance{}
	}
	encoded, err := json.Marshal(maintenances)
	if err != nil {
		return nil, fmt.Errorf("encode maintenances of product %d: %w", row.ID, err)
	}

	return []string{
		strconv.FormatInt(row.ID, 10),
		row.Name,
		row.Article,
		deref(row.Category),
		deref(row.Manufacturer),
		FormatPrice(row.Price),
		row.ImageURL,
		string(encoded),
	}, nil
}

// FormatPrice renders a price with two fixed decimals.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// writeError marks failures of the output side so they are not reported as
// catalog read errors.
type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }
func (e writeError) Unwrap() error { return e.err }
