// Package audit keeps an append-only, queryable record of task
// lifecycle transitions and daemon start/stop events. It is purely
// observational: the scheduling source of truth remains the JSON
// state-file aggregate in internal/task, never this database.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Log wraps a SQLite connection dedicated to the audit trail.
type Log struct {
	conn *sql.DB
}

// Open opens or creates the audit database at path, enabling WAL mode
// for low-overhead concurrent writes from the scheduler goroutine.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS task_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_events_timestamp ON task_events(timestamp);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}
	return &Log{conn: conn}, nil
}

// Close checkpoints the WAL and closes the connection.
func (l *Log) Close() error {
	l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.conn.Close()
}

// TaskEvent types recorded by the scheduler and dispatcher.
const (
	TaskSpawned          = "spawned"
	TaskFinished         = "finished"
	TaskFailedToSpawn    = "failed_to_spawn"
	TaskDependencyFailed = "dependency_failed"
	TaskRemoved          = "removed"
)

// LogTaskEvent records one task lifecycle transition.
func (l *Log) LogTaskEvent(taskID int, eventType, detail string) error {
	_, err := l.conn.Exec(
		`INSERT INTO task_events (task_id, event_type, detail, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, eventType, detail, time.Now(),
	)
	return err
}

// Daemon event types.
const (
	DaemonStarted           = "started"
	DaemonShutdownRequested = "shutdown_requested"
	DaemonShutdownGraceful  = "shutdown_graceful"
	DaemonShutdownEmergency = "shutdown_emergency"
)

// LogDaemonEvent records a daemon lifecycle event.
func (l *Log) LogDaemonEvent(eventType, detail string) error {
	_, err := l.conn.Exec(
		`INSERT INTO daemon_events (event_type, detail, timestamp) VALUES (?, ?, ?)`,
		eventType, detail, time.Now(),
	)
	return err
}
