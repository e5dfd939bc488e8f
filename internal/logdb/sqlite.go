package logdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS %s (
	event_time TEXT NOT NULL,
	event_id INTEGER NOT NULL,
	host TEXT,
	record_id TEXT,
	process_guid TEXT,
	image TEXT,
	command_line TEXT,
	parent_image TEXT,
	user_name TEXT,
	target_filename TEXT,
	destination_ip TEXT,
	destination_port TEXT,
	query_name TEXT,
	target_object TEXT,
	fields TEXT
)`

// LoadSQLite creates the events table in the database at path if needed and
// appends events in one transaction.
func LoadSQLite(ctx context.Context, path string, events []*models.Event) (int, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return 0, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer db.Close()
	return InsertSQLite(ctx, db, events)
}

// InsertSQLite writes events through an open handle.
func InsertSQLite(ctx context.Context, db *sql.DB, events []*models.Event) (int, error) {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(sqliteSchema, Table)); err != nil {
		return 0, fmt.Errorf("create table %s: %w", Table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Table, strings.Join(columns, ", "), marks))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, FromEvent(ev).values()...); err != nil {
			return 0, fmt.Errorf("insert event %d: %w", n, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	logger.Infof("Loaded %d events into %s", n, Table)
	return n, nil
}
