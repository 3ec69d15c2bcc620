package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"catalogexport/internal/models"
)

func (db *DB) CreateCategory(ctx context.Context, name string) (int64, error) {
	result, err := db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create category: %w", err)
	}
	return result.LastInsertId()
}

func (db *DB) CreateManufacturer(ctx context.Context, name string) (int64, error) {
	result, err := db.ExecContext(ctx, `INSERT INTO manufacturers (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to create manufacturer: %w", err)
	}
	return result.LastInsertId()
}

func (db *DB) CreateMaintenance(ctx context.Context, m models.Maintenance) (int64, error) {
	result, err := db.ExecContext(ctx, `INSERT INTO maintenances (name, price) VALUES (?, ?)`, m.Name, m.Price)
	if err != nil {
		return 0, fmt.Errorf("failed to create maintenance: %w", err)
	}
	return result.LastInsertId()
}

// CreateProduct inserts a product and links its maintenances in one transaction.
func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	query := `INSERT INTO products (name, article, description, release_date, category_id, manufacturer_id, price, image, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, query,
		p.Name,
		p.Article,
		p.Description,
		p.ReleaseDate,
		p.CategoryID,
		p.ManufacturerID,
		p.Price,
		p.Image,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, mid := range p.MaintenanceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_maintenances (product_id, maintenance_id) VALUES (?, ?)`, id, mid); err != nil {
			return fmt.Errorf("failed to link maintenance %d: %w", mid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit product: %w", err)
	}
	p.ID = id
	return nil
}

// StreamCatalog reads every product with its relations in a single cursor so
// the catalog never has to fit in memory.
func (db *DB) StreamCatalog(ctx context.Context, fn func(models.CatalogRow) error) error {
	query := `
        SELECT p.id, p.name, p.article, p.description, p.release_date,
               c.name, m.name, p.price, p.image,
               (SELECT json_group_array(json_object('name', x.name, 'price', x.price))
                  FROM (SELECT mt.name, mt.price
                          FROM product_maintenances pm
                          JOIN maintenances mt ON mt.id = pm.maintenance_id
                         WHERE pm.product_id = p.id
                         ORDER BY mt.id) x)
        FROM products p
        LEFT JOIN categories c ON c.id = p.category_id
        LEFT JOIN manufacturers m ON m.id = p.manufacturer_id
        ORDER BY p.id
    `

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			row          models.CatalogRow
			releaseDate  sql.NullTime
			category     sql.NullString
			manufacturer sql.NullString
			maintenances sql.NullString
		)
		if err := rows.Scan(
			&row.ID,
			&row.Name,
			&row.Article,
			&row.Description,
			&releaseDate,
			&category,
			&manufacturer,
			&row.Price,
			&row.ImageURL,
			&maintenances,
		); err != nil {
			return fmt.Errorf("failed to scan catalog row %d: %w", count, err)
		}

		if releaseDate.Valid {
			t := releaseDate.Time
			row.ReleaseDate = &t
		}
		if category.Valid {
			row.Category = &category.String
		}
		if manufacturer.Valid {
			row.Manufacturer = &manufacturer.String
		}
		row.Maintenances = []models.Maintenance{}
		if maintenances.Valid && maintenances.String != "" {
			if err := json.Unmarshal([]byte(maintenances.String), &row.Maintenances); err != nil {
				return fmt.Errorf("failed to decode maintenances of product %d: %w", row.ID, err)
			}
		}

		if err := fn(row); err != nil {
			return err
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog cursor: %w", err)
	}

	db.logger.Debug().Int("rows", count).Msg("catalog streamed")
	return nil
}

// CatalogStats counts products and their populated relations.
func (db *DB) CatalogStats(ctx context.Context) (models.ExportStats, error) {
	query := `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN image <> '' THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN manufacturer_id IS NOT NULL THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN category_id IS NOT NULL THEN 1 ELSE 0 END), 0)
        FROM products
    `

	var stats models.ExportStats
	err := db.QueryRowContext(ctx, query).Scan(
		&stats.TotalProducts,
		&stats.WithImages,
		&stats.WithManufacturer,
		&stats.WithCategory,
	)
	if err != nil {
		return models.ExportStats{}, fmt.Errorf("failed to compute catalog stats: %w", err)
	}
	return stats, nil
}
