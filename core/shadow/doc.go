// Package shadow keeps the local view of remote records.
//
// A Shadow holds the snapshot the remote store last confirmed and the field
// edits that have not been confirmed yet. Writing a field back to its
// committed value cancels the edit. Materialize turns the shadow into the
// record to submit, ReconcileAfterRemote folds a fresh remote copy in after a
// conflict (dropping edits that became moot), and Commit records a successful
// submission.
//
// # Registry
//
// Shadows are obtained from a Registry, which guarantees one shadow per
// (scope, id) while it is in use:
//
//	s := reg.Acquire(record.ScopePrivate, id, "Order")
//	defer reg.Release(s)
//	s.Write("total", record.Int(10))
//
// A shadow is evicted once every Acquire has been released and it is no longer
// linked to a parent or children. Purge removes a shadow whose record was
// deleted.
package shadow
