// Package migration applies versioned SQL files to a SQLite database.
//
// Files are read from an fs.FS (typically an embed.FS) and must be named
// {version}_{description}.sql, for example 001_initial_schema.sql. Applied
// versions and their checksums are tracked in the schema_migrations table;
// each file runs in its own transaction together with its bookkeeping row.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if _, err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
