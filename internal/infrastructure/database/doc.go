// Package database provides SQLite connectivity for the EMS bridge.
//
// The database holds bridge state that should survive restarts, mainly
// the per-source statistics of telegram types seen on the bus. Schema
// changes are embedded migration files applied by Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns need a DEFAULT, and every
// .up.sql file ships with its .down.sql.
package database
