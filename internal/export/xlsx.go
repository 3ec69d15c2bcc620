package export

import (
	"context"
	"errors"
	"os"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/logging"
	"catalogexport/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Catalog"

// XLSXExporter writes the same columns as the CSV export into a workbook.
// Rows go through excelize's stream writer so the catalog is never held in
// memory as cells.
type XLSXExporter struct {
	source domain.CatalogSource
	cfg    config.ExportConfig
	logger zerolog.Logger
}

func NewXLSXExporter(source domain.CatalogSource, cfg config.ExportConfig, logger *zerolog.Logger) *XLSXExporter {
	return &XLSXExporter{
		source: source,
		cfg:    cfg,
		logger: logging.Component(logger, "xlsx_exporter"),
	}
}

func (e *XLSXExporter) Generate(ctx context.Context, exportID string) (models.ExportArtifact, error) {
	if err := prepareDir(e.cfg, exportID); err != nil {
		return models.ExportArtifact{}, err
	}

	path := FilePath(e.cfg, exportID)
	rows, err := e.write(ctx, path, exportID)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn().Err(rmErr).Str("path", path).Msg("failed to remove partial export")
		}
		return models.ExportArtifact{}, err
	}

	e.logger.Info().Str("export_id", exportID).Str("path", path).Int("rows", rows).Msg("xlsx export written")
	return models.ExportArtifact{LocalPath: path, Rows: rows}, nil
}

func (e *XLSXExporter) write(ctx context.Context, path, exportID string) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return 0, domain.NewError(domain.KindIO, "export.sheet", exportID, err)
	}
	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return 0, domain.NewError(domain.KindIO, "export.stream_writer", exportID, err)
	}

	header := make([]interface{}, len(models.CSVHeader))
	for i, h := range models.CSVHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, domain.NewError(domain.KindIO, "export.write_header", exportID, err)
	}

	rows := 0
	err = e.source.StreamCatalog(ctx, func(row models.CatalogRow) error {
		record, err := Record(row)
		if err != nil {
			return err
		}
		cells := make([]interface{}, len(record))
		for i, v := range record {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, rows+2)
		if err != nil {
			return writeError{err}
		}
		if err := sw.SetRow(cell, cells); err != nil {
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

	if err := sw.Flush(); err != nil {
		return rows, domain.NewError(domain.KindIO, "export.flush", exportID, err)
	}
	if err := f.SaveAs(path); err != nil {
		return rows, domain.NewError(domain.KindIO, "export.save", exportID, err)
	}
	return rows, nil
}
