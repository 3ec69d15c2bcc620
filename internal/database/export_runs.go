package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalogexport/internal/models"
)

func (db *DB) StartExportRun(ctx context.Context, task models.ExportTask, attempt int) (int64, error) {
	query := `INSERT INTO export_runs (export_id, admin_email, attempt, status, started_at)
              VALUES (?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query, task.ExportID, task.AdminEmail, attempt, models.StateRunning, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to create export run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

func (db *DB) FinishExportRun(ctx context.Context, runID int64, status models.ExportState, storageKey string, rows int, errMsg string) error {
	query := `UPDATE export_runs SET status = ?, storage_key = ?, rows_exported = ?, last_error = ?, finished_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, status, nullString(storageKey), rows, nullString(errMsg), time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to update export run: %w", err)
	}
	return nil
}

// MarkPermanentlyFailed flags the latest attempt of an export as terminal.
func (db *DB) MarkPermanentlyFailed(ctx context.Context, exportID string, errMsg string) error {
	query := `UPDATE export_runs SET status = ?, last_error = COALESCE(?, last_error), finished_at = COALESCE(finished_at, ?)
              WHERE id = (SELECT MAX(id) FROM export_runs WHERE export_id = ?)`
	result, err := db.ExecContext(ctx, query, models.StatePermanentlyFailed, nullString(errMsg), time.Now(), exportID)
	if err != nil {
		return fmt.Errorf("failed to mark export permanently failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no export runs for %s: %w", exportID, sql.ErrNoRows)
	}
	return nil
}

func (db *DB) GetExportRuns(ctx context.Context, exportID string) ([]models.ExportRun, error) {
	query := `SELECT id, export_id, admin_email, attempt, status, storage_key, rows_exported, last_error, started_at, finished_at
              FROM export_runs WHERE export_id = ? ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query, exportID)
	if err != nil {
		return nil, fmt.Errorf("failed to get export runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ExportRun
	for rows.Next() {
		var r models.ExportRun
		if err := rows.Scan(
			&r.ID, &r.ExportID, &r.AdminEmail, &r.Attempt, &r.Status, &r.StorageKey, &r.Rows, &r.LastError, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan export run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
