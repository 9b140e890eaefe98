// Package repository provides data access for terminal records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shellpane/backend/internal/model"
)

// TerminalRepository persists terminal descriptors so the UI can list
// and inspect terminals across reconnects and restarts.
type TerminalRepository struct {
	db *sql.DB
}

// NewTerminalRepository creates a TerminalRepository.
func NewTerminalRepository(db *sql.DB) *TerminalRepository {
	return &TerminalRepository{db: db}
}

// Create inserts a terminal record. Terminal ids are reusable once the
// prior terminal is dead, so an existing record under the same id is
// replaced wholesale; a fresh run starts with no exit code regardless of
// how the previous one ended.
func (r *TerminalRepository) Create(ctx context.Context, t *model.Terminal) error {
	query := `
		INSERT OR REPLACE INTO terminals (id, project_id, project_name, title, shell, cwd, pid, status, cast_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.ProjectID,
		t.ProjectName,
		t.Title,
		t.Shell,
		t.Cwd,
		t.PID,
		t.Status,
		t.CastPath,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create terminal record: %w", err)
	}
	return nil
}

// GetByID retrieves a terminal record by id.
func (r *TerminalRepository) GetByID(ctx context.Context, id string) (*model.Terminal, error) {
	query := `
		SELECT id, project_id, project_name, title, shell, cwd, pid, status, exit_code, cast_path, created_at, updated_at
		FROM terminals
		WHERE id = ?
	`

	t := &model.Terminal{}
	var pid sql.NullInt64
	var exitCode sql.NullInt64
	var castPath sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.ProjectID,
		&t.ProjectName,
		&t.Title,
		&t.Shell,
		&t.Cwd,
		&pid,
		&t.Status,
		&exitCode,
		&castPath,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrTerminalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal record: %w", err)
	}

	if pid.Valid {
		t.PID = int(pid.Int64)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		t.ExitCode = &code
	}
	if castPath.Valid {
		t.CastPath = castPath.String
	}

	return t, nil
}

// ListByProject retrieves all terminal records for a project, newest first.
func (r *TerminalRepository) ListByProject(ctx context.Context, projectID string) ([]*model.Terminal, error) {
	query := `
		SELECT id, project_id, project_name, title, shell, cwd, pid, status, exit_code, cast_path, created_at, updated_at
		FROM terminals
		WHERE project_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal records: %w", err)
	}
	defer rows.Close()

	var out []*model.Terminal
	for rows.Next() {
		t := &model.Terminal{}
		var pid sql.NullInt64
		var exitCode sql.NullInt64
		var castPath sql.NullString

		if err := rows.Scan(
			&t.ID,
			&t.ProjectID,
			&t.ProjectName,
			&t.Title,
			&t.Shell,
			&t.Cwd,
			&pid,
			&t.Status,
			&exitCode,
			&castPath,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan terminal record: %w", err)
		}

		if pid.Valid {
			t.PID = int(pid.Int64)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			t.ExitCode = &code
		}
		if castPath.Valid {
			t.CastPath = castPath.String
		}

		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus records a terminal's status transition and exit code.
func (r *TerminalRepository) UpdateStatus(ctx context.Context, id string, status model.TerminalStatus, exitCode *int) error {
	query := `
		UPDATE terminals
		SET status = ?, exit_code = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, exitCode, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update terminal status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return model.ErrTerminalNotFound
	}
	return nil
}

// UpdateTitle records the latest display title.
func (r *TerminalRepository) UpdateTitle(ctx context.Context, id, title string) error {
	query := `
		UPDATE terminals
		SET title = ?, updated_at = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, title, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update terminal title: %w", err)
	}
	return nil
}

// Delete removes a terminal record.
func (r *TerminalRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete terminal record: %w", err)
	}
	return nil
}
