package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/logging"
	"catalogexport/internal/models"

	"github.com/rs/zerolog"
)

const utf8BOM = "\ufeff"

// CSVExporter streams the catalog into a UTF-8 CSV file with a BOM so that
// spreadsheet tools detect the encoding.
type CSVExporter struct {
	source domain.CatalogSource
	cfg    config.ExportConfig
	logger zerolog.Logger
}

func NewCSVExporter(source domain.CatalogSource, cfg config.ExportConfig, logger *zerolog.Logger) *CSVExporter {
	return &CSVExporter{
		source: source,
		cfg:    cfg,
		logger: logging.Component(logger, "csv_exporter"),
	}
}

// Generate writes the export file for exportID and returns its path and row
// count. A partially written file is removed on failure.
func (e *CSVExporter) Generate(ctx context.Context, exportID string) (models.ExportArtifact, error) {
	if err := prepareDir(e.cfg, exportID); err != nil {
		return models.ExportArtifact{}, err
	}

	path := FilePath(e.cfg, exportID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return models.ExportArtifact{}, domain.NewError(domain.KindIO, "export.open", exportID, err)
	}

	rows, err := e.write(ctx, file, exportID)
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = domain.NewError(domain.KindIO, "export.close", exportID, closeErr)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn().Err(rmErr).Str("path", path).Msg("failed to remove partial export")
		}
		return models.ExportArtifact{}, err
	}

	e.logger.Info().Str("export_id", exportID).Str("path", path).Int("rows", rows).Msg("csv export written")
	return models.ExportArtifact{LocalPath: path, Rows: rows}, nil
}

func (e *CSVExporter) write(ctx context.Context, file *os.File, exportID string) (int, error) {
	if _, err := file.WriteString(utf8BOM); err != nil {
		return 0, domain.NewError(domain.KindIO, "export.write_bom", exportID, err)
	}

	w := csv.NewWriter(file)
	w.UseCRLF = true
	if err := w.Write(models.CSVHeader); err != nil {
		return 0, domain.NewError(domain.KindIO, "export.write_header", exportID, err)
	}

	rows := 0
	err := e.source.StreamCatalog(ctx, func(row models.CatalogRow) error {
		record, err := Record(row)
		if err != nil {
			return err
		}
		if err := w.Write(record); err != nil {
			return writeError{err}
		}
		rows++
		return nil
	})
	if err != nil {
		var werr writeError
		if errors.As(err, &werr) {
			return rows, domain.NewError(domain.KindIO, "export.write_row", exportID, werr.err)
		}
		return rows, domain.NewError(domain.KindData, "export.read_catalog", exportID, err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return rows, domain.NewError(domain.KindIO, "export.flush", exportID, err)
	}
	return rows, nil
}
