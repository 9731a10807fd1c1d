// Package database provides the SQLite connection and schema migrations for depot-core.
//
// This package manages:
//   - Opening the database with foreign keys enforced and optional WAL mode
//   - Applying embedded migrations in version order
//   - Classifying constraint failures (unique, foreign key, busy) for callers
//
// A single connection is kept open so that SQLite serialises writers.
// Compare-and-set updates such as refresh token rotation depend on this.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
