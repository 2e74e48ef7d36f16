package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/daily-engagement/internal/persistence/sqlite"
	"github.com/example/daily-engagement/internal/persistence/sqlite/migration"
)

// NewSQLiteStorage opens a migrated storage backed by a temporary file. The
// storage is closed when the test finishes. A nil logger discards migration
// output.
func NewSQLiteStorage(tb testing.TB, logger *slog.Logger) *sqlite.Storage {
	tb.Helper()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "engagement.db")

	storage, err := sqlite.Open(ctx, migration.TempFileTestSQLiteConfig(path), logger)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })

	if err := storage.Migrate(ctx); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return storage
}
