// Package remote defines the contract between the sync engine and the remote
// record store, together with the classified error type every remote call
// returns.
//
// # Error Taxonomy
//
//   - CodeRateLimited / CodeServiceUnavailable with RetryAfter: transient, retried after the delay.
//   - CodeConflict: the submitted change tag is stale; reload and resubmit.
//   - CodeUnknownItem: the record does not exist remotely.
//   - CodeNotAuthenticated / CodePermissionFailure: connectivity must be re-established.
//   - CodePartialFailure: a batch failed for some items; Resolve picks the
//     error of the item of interest, or the first one.
//   - CodeOther: everything else.
//
// # Implementations
//
// The memstore subpackage is an in-memory Store with per-zone change logs and
// fault injection. The mocks subpackage provides a testify mock.
package remote
