// Package audit is the durable, append-only side channel that backs the
// project's recent-changes and completion history beyond the capped
// in-memory list the store keeps (spec §4.2). It is additive: every write
// here is best-effort and never fails a tool call.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/gastown/fleetbroker/internal/model"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Archive is a SQLite-backed audit trail.
type Archive struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and migrates it to
// the latest schema.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordChange appends a durable copy of one recent-change entry.
func (a *Archive) RecordChange(ctx context.Context, projectID string, entry model.ChangeEntry) error {
	system := 0
	if entry.System {
		system = 1
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO change_log (project_id, session_name, file_path, change_type, description, system, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectID, entry.SessionName, entry.FilePath, entry.ChangeType, entry.Description, system, entry.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"))
	return err
}

// RecordCompletion appends a durable completion record.
func (a *Archive) RecordCompletion(ctx context.Context, projectID string, c model.Completion) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO completions (project_id, task_id, session_name, completed_at)
		VALUES (?, ?, ?, ?)`,
		projectID, c.TaskID, c.SessionName, c.CompletedAt.Format("2006-01-02T15:04:05.000000000Z07:00"))
	return err
}

// RecentChanges returns the most recent entries recorded for a project,
// newest first, for callers that want history beyond the in-memory cap.
func (a *Archive) RecentChanges(ctx context.Context, projectID string, limit int) ([]model.ChangeEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT session_name, COALESCE(file_path, ''), change_type, COALESCE(description, ''), system, timestamp
		FROM change_log WHERE project_id = ? ORDER BY id DESC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChangeEntry
	for rows.Next() {
		var e model.ChangeEntry
		var system int
		var ts string
		if err := rows.Scan(&e.SessionName, &e.FilePath, &e.ChangeType, &e.Description, &system, &ts); err != nil {
			return nil, err
		}
		e.System = system == 1
		if t, err := parseTimestamp(ts); err == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
