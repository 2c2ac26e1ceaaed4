// Package database opens the relational database backing the local store.
//
// It wraps GORM and selects the dialector from configuration: sqlite for
// single-device deployments and tests, mysql or postgres when the local
// store is shared by several processes.
//
// # Connect
//
// Connect builds the DSN for the configured driver, applies connection pool
// settings suited to the driver and pings the database before returning.
//
// # Schema Inspection
//
// GetTableColumns lists the columns of a table through the GORM migrator. The
// local store uses it to verify that its tables carry every column it needs.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	columns, err := database.GetTableColumns(db, "sync_objects")
package database
