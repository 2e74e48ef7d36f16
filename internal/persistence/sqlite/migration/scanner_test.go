package migration

import (
	"errors"
	"testing"
	"testing/fstest"
)

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	t.Run("sorts by numeric version and reads descriptions", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"migrations/010_add_index.sql":      {Data: []byte("CREATE INDEX idx ON t(a);")},
			"migrations/002_add_table.sql":      {Data: []byte("-- Description: second table\nCREATE TABLE u (id TEXT);")},
			"migrations/001_initial_schema.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
			"migrations/README.md":              {Data: []byte("ignored")},
		}

		got, err := NewScanner(fsys, "migrations").Scan()
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 migrations, got %d", len(got))
		}
		if got[0].Version != "001" || got[1].Version != "002" || got[2].Version != "010" {
			t.Fatalf("unexpected order: %s %s %s", got[0].Version, got[1].Version, got[2].Version)
		}
		if got[0].Description != "initial schema" {
			t.Fatalf("filename description = %q", got[0].Description)
		}
		if got[1].Description != "second table" {
			t.Fatalf("content description = %q", got[1].Description)
		}
		if got[0].Checksum == "" || got[0].Checksum == got[1].Checksum {
			t.Fatalf("checksums not computed")
		}
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"migrations/initial.sql": {Data: []byte("SELECT 1;")}}
		if _, err := NewScanner(fsys, "migrations").Scan(); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})

	t.Run("rejects duplicate versions", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"migrations/001_a.sql":  {Data: []byte("SELECT 1;")},
			"migrations/0001_b.sql": {Data: []byte("SELECT 2;")},
		}
		if _, err := NewScanner(fsys, "migrations").Scan(); !errors.Is(err, ErrDuplicateVersion) {
			t.Fatalf("expected ErrDuplicateVersion, got %v", err)
		}
	})

	t.Run("rejects comment-only files", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"migrations/001_empty.sql": {Data: []byte("-- nothing here\n")}}
		if _, err := NewScanner(fsys, "migrations").Scan(); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected ErrInvalidMigrationFile, got %v", err)
		}
	})
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE TABLE b (y INT);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x INT)" {
		t.Fatalf("unexpected first statement %q", got[0])
	}
}
