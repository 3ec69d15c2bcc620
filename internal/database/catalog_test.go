package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"catalogexport/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCatalog(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()

	catID, err := db.CreateCategory(ctx, "Power Tools")
	require.NoError(t, err)
	manID, err := db.CreateManufacturer(ctx, "Acme")
	require.NoError(t, err)
	cleanID, err := db.CreateMaintenance(ctx, models.Maintenance{Name: "Cleaning", Price: 15})
	require.NoError(t, err)
	repairID, err := db.CreateMaintenance(ctx, models.Maintenance{Name: "Repair", Price: 99.5})
	require.NoError(t, err)

	release := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		Name:           "Drill",
		Article:        "DR-1",
		Description:    "Cordless, 18V",
		ReleaseDate:    &release,
		CategoryID:     &catID,
		ManufacturerID: &manID,
		Price:          129.9,
		Image:          "https://cdn.example.com/drill.png",
		MaintenanceIDs: []int64{cleanID, repairID},
	}))
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		Name:    "Bare widget",
		Article: "BW-2",
		Price:   3,
	}))
}

func TestStreamCatalog(t *testing.T) {
	db := setupTestDB(t)
	seedCatalog(t, db)

	var rows []models.CatalogRow
	err := db.StreamCatalog(context.Background(), func(row models.CatalogRow) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	full := rows[0]
	assert.Equal(t, "Drill", full.Name)
	require.NotNil(t, full.Category)
	assert.Equal(t, "Power Tools", *full.Category)
	require.NotNil(t, full.Manufacturer)
	assert.Equal(t, "Acme", *full.Manufacturer)
	require.NotNil(t, full.ReleaseDate)
	assert.Equal(t, []models.Maintenance{{Name: "Cleaning", Price: 15}, {Name: "Repair", Price: 99.5}}, full.Maintenances)

	bare := rows[1]
	assert.Nil(t, bare.Category)
	assert.Nil(t, bare.Manufacturer)
	assert.Nil(t, bare.ReleaseDate)
	assert.Empty(t, bare.ImageURL)
	assert.Empty(t, bare.Maintenances)
}

func TestStreamCatalogStopsOnCallbackError(t *testing.T) {
	db := setupTestDB(t)
	seedCatalog(t, db)

	stop := errors.New("stop")
	calls := 0
	err := db.StreamCatalog(context.Background(), func(models.CatalogRow) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestStreamCatalogCanceledContext(t *testing.T) {
	db := setupTestDB(t)
	seedCatalog(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.StreamCatalog(ctx, func(models.CatalogRow) error { return nil })
	assert.Error(t, err)
}

func TestCatalogStats(t *testing.T) {
	db := setupTestDB(t)
	seedCatalog(t, db)

	stats, err := db.CatalogStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ExportStats{TotalProducts: 2, WithImages: 1, WithManufacturer: 1, WithCategory: 1}, stats)
}
