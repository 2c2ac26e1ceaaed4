package remote

import (
	"context"

	"record-sync/core/record"
)

// ChangeToken is an opaque cursor over a zone's change feed. The empty token
// means "from the beginning".
type ChangeToken string

// AccountStatus describes whether the remote account can be used.
type AccountStatus int

const (
	AccountUnknown AccountStatus = iota
	AccountAvailable
	AccountRestricted
	AccountNoAccount
)

func (s AccountStatus) String() string {
	switch s {
	case AccountAvailable:
		return "available"
	case AccountRestricted:
		return "restricted"
	case AccountNoAccount:
		return "no_account"
	default:
		return "unknown"
	}
}

// Query selects records of one type, optionally restricted to a zone and to
// records whose fields equal the given values.
type Query struct {
	// Type is the record type to match.
	Type string
	// Zone restricts the query to one zone. Empty matches all zones.
	Zone string
	// Equals holds field predicates that must all match.
	Equals map[string]record.Value
	// Cursor continues a previous query. Empty starts from the beginning.
	Cursor string
	// Limit caps the page size. Zero lets the store decide.
	Limit int
}

// Page is one page of query results.
type Page struct {
	// Records holds the matching records.
	Records []*record.Record
	// Cursor continues the query. Empty when there are no more results.
	Cursor string
}

// ChangePage is one page of a zone's change feed.
type ChangePage struct {
	// Changed holds records created or updated since the request token.
	Changed []*record.Record
	// Deleted holds ids of records removed since the request token.
	Deleted []record.ID
	// Token is the cursor to persist once this page has been applied.
	Token ChangeToken
	// More reports whether further pages are waiting.
	More bool
}

// ModifyResult reports the items a batch modify committed.
type ModifyResult struct {
	// Saved holds the server-confirmed records, including new change tags.
	Saved []*record.Record
	// Deleted holds the ids that were removed.
	Deleted []record.ID
}

// Store is the remote record store the engine synchronizes with.
//
// Batch calls may commit some items and fail others; in that case they return
// the committed part together with an *Error of code CodePartialFailure.
type Store interface {
	// AccountStatus reports whether the remote account is usable.
	AccountStatus(ctx context.Context) (AccountStatus, error)
	// EnsureZones creates the named zones in scope if they do not exist.
	EnsureZones(ctx context.Context, scope record.Scope, zones []string) error
	// Fetch returns the records for ids. Missing ids are reported as
	// CodeUnknownItem per-item errors.
	Fetch(ctx context.Context, scope record.Scope, ids []record.ID) (map[record.ID]*record.Record, error)
	// Query returns one page of records matching q.
	Query(ctx context.Context, scope record.Scope, q Query) (Page, error)
	// Modify saves and deletes records in one batch.
	Modify(ctx context.Context, scope record.Scope, save []*record.Record, del []record.ID) (ModifyResult, error)
	// FetchChanges returns changes in zone after since, at most limit entries.
	FetchChanges(ctx context.Context, scope record.Scope, zone string, since ChangeToken, limit int) (ChangePage, error)
}
