package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to PostgreSQL with a lib/pq DSN, e.g.
// "host=localhost user=postgres dbname=treering sslmode=disable".
func NewPostgresStore(dsn string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect, "", opts)
}

// Open picks a backend by driver name: "sqlite" takes a file path,
// "postgres" a DSN.
func Open(driver, source string, opts ...Option) (*SQLStore, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(source, opts...)
	case "postgres", "postgresql":
		return NewPostgresStore(source, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
