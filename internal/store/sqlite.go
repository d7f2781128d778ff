package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name   string
	driver string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", numbered: true}
)

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Backend on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	path    string // file path for SQLite, empty otherwise
	logger  *slog.Logger
}

// Option customizes an SQLStore.
type Option func(*SQLStore)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return newSQLStore(db, sqliteDialect, dbPath, opts)
}

func newSQLStore(db *sql.DB, d dialect, path string, opts []Option) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, path: path, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Debug("store opened", "driver", d.name, "path", path)
	return s, nil
}

// The schema sticks to types both engines accept. Timestamps are Unix
// nanoseconds; JSON columns are TEXT.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	level         INTEGER NOT NULL,
	created_at    BIGINT NOT NULL,
	last_accessed BIGINT NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0,
	content       TEXT NOT NULL,
	context       TEXT,
	refs          TEXT,
	importance    DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_level ON memories(level);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_accessed ON memories(last_accessed);

CREATE TABLE IF NOT EXISTS vector_documents (
	namespace   TEXT NOT NULL,
	id          TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   TEXT NOT NULL,
	metadata    TEXT,
	created_at  BIGINT NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_vector_documents_doc ON vector_documents(namespace, document_id);
`

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Driver names the SQL engine in use.
func (s *SQLStore) Driver() string { return s.dialect.name }

// Close closes the store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}
