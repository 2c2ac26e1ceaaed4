// Package reconcile turns local "this object changed" notifications into
// batched writes against the remote record store.
//
// # Scheduler
//
// A Scheduler owns one goroutine holding the pending graph (refs waiting for
// the next pass plus their completion callbacks), the debounce timer and the
// resync flag. MarkDirty persists the object as dirty and in progress, then
// hands the ref to that goroutine:
//
//   - with no pass running, the debounce timer is (re)armed, so a burst of
//     edits ends up in one pass;
//   - with a pass running, the resync flag is set and the next pass starts as
//     soon as the running one finishes.
//
// At most one pass runs at a time and deletes share the same submission lock,
// so overlapping writes to parents and children never race.
//
// # Pass
//
// A pass collects the marked objects and their dirty descendants, reloads
// their remote records through the shadow registry, stages local fields on
// the shadows, materializes and submits them in one batch. A conflict on any
// member reloads the whole batch and submits again, up to MaxConflictRounds.
// Records that vanished remotely are dropped locally. Saved objects become up
// to date in one local transaction unless they were marked dirty again while
// the pass ran.
//
// # Usage
//
//	sched := reconcile.NewScheduler(cfg.Sync, reconcile.Deps{
//	    Remote: store, Local: local, Registry: reg, Retrier: retrier, Bus: bus,
//	}, logger)
//	defer sched.Close()
//
//	res, err := sched.Sync(ctx, ref)
package reconcile
