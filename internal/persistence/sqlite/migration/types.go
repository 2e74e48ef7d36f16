package migration

import (
	"context"
	"time"
)

// Migration is a single versioned SQL file.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status summarises the migration state of a database.
type Status struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// Source lists the migrations available to a Manager.
type Source interface {
	Scan() ([]Migration, error)
}

// Executor applies migrations and reads the version table.
type Executor interface {
	InitializeVersionTable(ctx context.Context) error
	// ExecuteMigration runs the statements of m and records it in one transaction.
	ExecuteMigration(ctx context.Context, m Migration, appliedAt time.Time) error
	AppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
