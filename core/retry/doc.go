// Package retry classifies failed remote operations and decides how work
// continues.
//
// # Decision Table
//
//   - no error: nothing to handle.
//   - not a remote error: surfaced to the caller.
//   - authentication failure: connectivity is demoted (signing_in becomes
//     token_failed, anything else not_logged_in); not retried.
//   - rate limited with a server delay: the request is resubmitted after the
//     delay through its Resubmit entry point.
//   - partial failure: narrowed to the item of interest (or the first item
//     error) and classified again.
//   - anything else: surfaced.
//
// Scheduled resubmissions are tracked as PendingRetry values and cancelled by
// Close, so shutdown never leaks timers.
//
// # Usage
//
//	r := retry.New(cfg.Retry, tracker, logger)
//	defer r.Close()
//	err := r.Do(ctx, retry.Request{Name: "fetch", Scope: scope}, func(ctx context.Context) error {
//	    found, err = store.Fetch(ctx, scope, ids)
//	    return err
//	})
package retry
