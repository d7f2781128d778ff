package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// newPostgresStore connects to TREERING_TEST_POSTGRES_DSN and empties both
// tables. Tests are skipped when the variable is unset.
func newPostgresStore(t *testing.T) *SQLStore {
	t.Helper()
	_ = godotenv.Load(filepath.Join("..", "..", ".env"))

	dsn := os.Getenv("TREERING_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL test: TREERING_TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: failed to connect: %v", err)
	}
	reset := func() {
		ctx := context.Background()
		s.db.ExecContext(ctx, `DELETE FROM memories`)
		s.db.ExecContext(ctx, `DELETE FROM vector_documents`)
	}
	reset()
	t.Cleanup(func() {
		reset()
		s.Close()
	})
	return s
}

func TestPostgresBackend(t *testing.T) {
	backendSuite(t, newPostgresStore)
}
