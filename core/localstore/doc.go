// Package localstore persists the application-side copies of synchronized
// records.
//
// An Object carries the record's fields (device-only fields included), its
// parent reference, a SyncState and a Revision counter bumped every time the
// object is marked dirty. The store also keeps one change-feed token per
// zone and the list of objects whose synchronization started but did not
// finish, so an interrupted pass can be resumed after a restart.
//
// # Implementations
//
// Memory keeps everything in process and is used by tests and the memory
// remote driver. GormStore maps the same model onto three tables
// (sync_objects, sync_tokens, sync_in_progress) through GORM, so it runs on
// sqlite, mysql or postgres.
//
// # Transactions
//
// Save runs a function against a Tx. Every mutation made through the Tx is
// committed together or discarded together.
//
// # Usage
//
//	store := localstore.NewGormStore(db)
//	if err := store.Migrate(ctx); err != nil {
//	    return err
//	}
//	err := store.Save(ctx, func(tx localstore.Tx) error {
//	    return tx.Put(obj)
//	})
package localstore
