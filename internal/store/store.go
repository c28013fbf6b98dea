// Package store is the durable, single-writer state store: sessions,
// sections, tasks, sources, the task-source citation edge, glossary terms
// and run events, all backed by a single SQLite file in WAL mode.
//
// Every exported method takes a context and is safe to call from worker
// goroutines; the pool is capped at one open connection, so every
// statement and transaction, reads included, runs one at a time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/codeready-toolchain/deepcite/internal/config"
)

// Store wraps the SQLite connection pool used by every other component.
type Store struct {
	db *sql.DB
}

// Open creates the database file's parent directory if needed, opens the
// connection pool, enables WAL mode, and runs idempotent schema migration.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection avoids SQLITE_BUSY under WAL; reads share it and
	// wait for any in-flight write or transaction.
	db.SetMaxOpenConns(1)

	if cfg.WALMode {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for components (none, currently) that
// need a raw query the Store API doesn't cover.
func (s *Store) DB() *sql.DB {
	return s.db
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	phase TEXT NOT NULL DEFAULT 'idle',
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	total_words INTEGER NOT NULL DEFAULT 0,
	total_sources INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'planned',
	content TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	citation_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sections_session ON sections(session_id, position);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	section_id INTEGER REFERENCES sections(id),
	parent_task_id INTEGER REFERENCES tasks(id),
	topic TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 0,
	depth INTEGER NOT NULL DEFAULT 0,
	word_count INTEGER NOT NULL DEFAULT 0,
	citation_count INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(session_id, status, priority DESC, depth ASC, id ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_section ON tasks(section_id);

CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	quality_score REAL NOT NULL DEFAULT 0,
	academic INTEGER NOT NULL DEFAULT 0,
	accessed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_sources (
	task_id INTEGER NOT NULL REFERENCES tasks(id),
	source_id INTEGER NOT NULL REFERENCES sources(id),
	position INTEGER NOT NULL DEFAULT 0,
	extracted_content TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (task_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_task_sources_position ON task_sources(task_id, position ASC, source_id ASC);

CREATE TABLE IF NOT EXISTS glossary_terms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	term TEXT NOT NULL,
	definition TEXT NOT NULL DEFAULT '',
	origin_task_id INTEGER REFERENCES tasks(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_glossary_session_term ON glossary_terms(session_id, term COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	task_id INTEGER REFERENCES tasks(id),
	event_type TEXT NOT NULL,
	query_group TEXT NOT NULL DEFAULT '',
	query_text TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	quality_score REAL,
	phase TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'info',
	payload TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_keyset ON run_events(session_id, created_at ASC, id ASC);
`

// migrate creates missing tables, then applies forward-only column
// additions idempotently by inspecting PRAGMA table_info, the technique
// the prior Python implementation used — tables are never dropped or
// renamed here, only grown.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("creating base schema: %w", err)
	}

	columnAdditions := []struct {
		table  string
		column string
		ddl    string
	}{
		{"sessions", "cancel_requested_at", "ALTER TABLE sessions ADD COLUMN cancel_requested_at DATETIME"},
		{"sessions", "refined_brief", "ALTER TABLE sessions ADD COLUMN refined_brief TEXT NOT NULL DEFAULT ''"},
		{"sessions", "refinement_qa", "ALTER TABLE sessions ADD COLUMN refinement_qa TEXT NOT NULL DEFAULT ''"},
		{"sessions", "executive_summary", "ALTER TABLE sessions ADD COLUMN executive_summary TEXT NOT NULL DEFAULT ''"},
		{"sessions", "conclusion", "ALTER TABLE sessions ADD COLUMN conclusion TEXT NOT NULL DEFAULT ''"},
		{"sessions", "markdown_path", "ALTER TABLE sessions ADD COLUMN markdown_path TEXT NOT NULL DEFAULT ''"},
		{"sessions", "html_path", "ALTER TABLE sessions ADD COLUMN html_path TEXT NOT NULL DEFAULT ''"},
		{"sessions", "pdf_path", "ALTER TABLE sessions ADD COLUMN pdf_path TEXT NOT NULL DEFAULT ''"},
		{"sections", "gap_fill", "ALTER TABLE sections ADD COLUMN gap_fill INTEGER NOT NULL DEFAULT 0"},
		{"tasks", "gap_fill", "ALTER TABLE tasks ADD COLUMN gap_fill INTEGER NOT NULL DEFAULT 0"},
	}

	for _, c := range columnAdditions {
		has, err := s.hasColumn(ctx, c.table, c.column)
		if err != nil {
			return err
		}
		if !has {
			if _, err := s.db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("reading table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("scanning table_info(%s): %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
