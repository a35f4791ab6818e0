// Package tasks is a read-only client for the working-memory task database
// maintained by the agent's task-tracking tools. The stop engine uses it to
// decide whether tracked work is still open; all mutation happens through
// the agent's own tool calls, never here.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DBFile is the task database path relative to the project root.
const DBFile = ".claude-reliability/working-memory.sqlite3"

// Status values a task can hold.
const (
	StatusOpen      = "open"
	StatusComplete  = "complete"
	StatusAbandoned = "abandoned"
	StatusStuck     = "stuck"
	StatusBlocked   = "blocked"
)

// Task is one tracked work item.
type Task struct {
	ID    string
	Title string
	// Status is one of the Status constants.
	Status string
	// Priority ranges 0 (highest) to 4 (lowest).
	Priority int
	// InProgress marks a claimed task. Open in-progress tasks sort first
	// in block feedback since they represent abandoned mid-flight work.
	InProgress bool
}

// Client queries one project's task database.
type Client struct {
	dbPath string
}

// NewClient returns a client for the task database under projectRoot.
func NewClient(projectRoot string) *Client {
	return &Client{dbPath: filepath.Join(projectRoot, DBFile)}
}

// NewClientAt returns a client for an explicit database file.
func NewClientAt(dbPath string) *Client {
	return &Client{dbPath: dbPath}
}

// OpenTasks returns tasks with status "open", claimed tasks first, then by
// priority. A missing database means the project does not use task tracking
// and yields an empty list, not an error: the governor fails open on absent
// optional infrastructure.
func (c *Client) OpenTasks(ctx context.Context) ([]Task, error) {
	if _, err := os.Stat(c.dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, title, status, priority, in_progress
		 FROM tasks
		 WHERE status = ?
		 ORDER BY in_progress DESC, priority ASC, created_at ASC`,
		StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("querying open tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		var t Task
		var inProgress int
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.Priority, &inProgress); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		t.InProgress = inProgress != 0
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}

	return out, nil
}

// OpenCount returns the number of open tasks.
func (c *Client) OpenCount(ctx context.Context) (int, error) {
	open, err := c.OpenTasks(ctx)
	if err != nil {
		return 0, err
	}
	return len(open), nil
}

// Available reports whether the task database exists at all.
func (c *Client) Available() bool {
	_, err := os.Stat(c.dbPath)
	return err == nil
}

func (c *Client) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite", c.dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}

	// SQLite supports one writer; a single connection serializes access
	// through Go's pool and avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}
