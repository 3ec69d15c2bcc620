package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type sliceSource struct {
	rows      []models.CatalogRow
	streamErr error
}

func (s *sliceSource) StreamCatalog(ctx context.Context, fn func(models.CatalogRow) error) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	for _, row := range s.rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *sliceSource) CatalogStats(ctx context.Context) (models.ExportStats, error) {
	return models.ExportStats{TotalProducts: len(s.rows)}, nil
}

func strPtr(s string) *string { return &s }

func sampleRows() []models.CatalogRow {
	return []models.CatalogRow{
		{
			ID:           1,
			Name:         "Drill, cordless",
			Article:      "DR-1",
			Category:     strPtr("Power Tools"),
			Manufacturer: strPtr("Acme \"Pro\""),
			Price:        129.9,
			ImageURL:     "https://cdn.example.com/drill.png",
			Maintenances: []models.Maintenance{{Name: "Cleaning", Price: 15}},
		},
		{
			ID:      2,
			Name:    "Widget\nsecond line",
			Article: "BW-2",
			Price:   3,
		},
	}
}

func testConfig(t *testing.T) config.ExportConfig {
	t.Helper()
	return config.ExportConfig{
		Directory:     filepath.Join(t.TempDir(), "exports"),
		FilePrefix:    "catalog_export_",
		FileExtension: ".csv",
		DirMode:       "0755",
		Format:        models.FormatCSV,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte(utf8BOM)), "missing BOM")

	records, err := csv.NewReader(bytes.NewReader(raw[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVExporter_Generate(t *testing.T) {
	cfg := testConfig(t)
	exp := NewCSVExporter(&sliceSource{rows: sampleRows()}, cfg, nil)

	artifact, err := exp.Generate(context.Background(), "exp-001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Directory, "catalog_export_exp-001.csv"), artifact.LocalPath)
	assert.Equal(t, 2, artifact.Rows)

	records := readCSV(t, artifact.LocalPath)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Len(t, r, len(models.CSVHeader))
	}

	assert.Equal(t, models.CSVHeader, records[0])
	assert.Equal(t, []string{
		"1", "Drill, cordless", "DR-1", "Power Tools", "Acme \"Pro\"", "129.90",
		"https://cdn.example.com/drill.png", `[{"name":"Cleaning","price":15}]`,
	}, records[1])
	assert.Equal(t, []string{"2", "Widget\nsecond line", "BW-2", "", "", "3.00", "", "[]"}, records[2])
}

func TestCSVExporter_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	exp := NewCSVExporter(&sliceSource{rows: sampleRows()}, cfg, nil)

	artifact, err := exp.Generate(context.Background(), "exp-rt")
	require.NoError(t, err)

	raw, err := os.ReadFile(artifact.LocalPath)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteString(utf8BOM)
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	require.NoError(t, w.WriteAll(readCSV(t, artifact.LocalPath)))

	assert.Equal(t, raw, buf.Bytes())
}

func TestCSVExporter_CRLFLineEndings(t *testing.T) {
	cfg := testConfig(t)
	exp := NewCSVExporter(&sliceSource{rows: sampleRows()}, cfg, nil)

	artifact, err := exp.Generate(context.Background(), "exp-crlf")
	require.NoError(t, err)

	raw, err := os.ReadFile(artifact.LocalPath)
	require.NoError(t, err)

	header := utf8BOM + strings.Join(models.CSVHeader, ",") + "\r\n"
	assert.True(t, strings.HasPrefix(string(raw), header))
	assert.True(t, bytes.HasSuffix(raw, []byte("\r\n")))
	assert.Equal(t, bytes.Count(raw, []byte("\n")), bytes.Count(raw, []byte("\r\n")), "bare LF in output")
}

func TestCSVExporter_EmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	exp := NewCSVExporter(&sliceSource{}, cfg, nil)

	artifact, err := exp.Generate(context.Background(), "exp-empty")
	require.NoError(t, err)
	assert.Zero(t, artifact.Rows)

	records := readCSV(t, artifact.LocalPath)
	require.Len(t, records, 1)
	assert.Equal(t, models.CSVHeader, records[0])
}

func TestCSVExporter_DirectoryNotWritable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Directory = filepath.Join(blocker, "exports")

	_, err := NewCSVExporter(&sliceSource{}, cfg, nil).Generate(context.Background(), "exp-io")
	require.Error(t, err)
	assert.Equal(t, domain.KindIO, domain.KindOf(err))
}

func TestCSVExporter_CatalogReadFailure(t *testing.T) {
	cfg := testConfig(t)
	src := &sliceSource{streamErr: errors.New("database is locked")}

	_, err := NewCSVExporter(src, cfg, nil).Generate(context.Background(), "exp-data")
	require.Error(t, err)
	assert.Equal(t, domain.KindData, domain.KindOf(err))
	assert.NoFileExists(t, FilePath(cfg, "exp-data"))
}

func TestXLSXExporter_Generate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Format = models.FormatXLSX
	cfg.FileExtension = ".xlsx"

	gen, err := New(&sliceSource{rows: sampleRows()}, cfg, nil)
	require.NoError(t, err)

	artifact, err := gen.Generate(context.Background(), "exp-001")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(artifact.LocalPath, "catalog_export_exp-001.xlsx"))

	f, err := excelize.OpenFile(artifact.LocalPath)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, models.CSVHeader, rows[0])
	assert.Equal(t, "129.90", rows[1][5])
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New(&sliceSource{}, config.ExportConfig{Format: "pdf"}, nil)
	assert.Error(t, err)
}
