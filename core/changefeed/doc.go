// Package changefeed applies remote changes to the local store.
//
// # Pulling
//
// A Puller reads a zone's change feed starting at the token persisted by the
// last pull. Every page is applied in one local transaction together with its
// token, so an interrupted pull resumes where the last applied page ended.
//
// Changed records update clean local objects and the committed snapshot of
// live shadows. Objects with unsynchronized local edits keep them; the next
// reconciliation pass diffs those edits against the fresh remote state.
// Deletions always win and remove the local object and its shadow.
//
// # Resync
//
// Resync queries every record of one type in a zone and removes local objects
// that no longer exist remotely. It recovers from an expired change token.
//
// # Usage
//
//	p := changefeed.NewPuller(cfg, changefeed.Deps{
//		Remote:   store,
//		Local:    local,
//		Registry: registry,
//		Retrier:  retrier,
//		Bus:      bus,
//	}, logger)
//	stats, err := p.Pull(ctx, record.ScopePrivate, "default")
package changefeed
