package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"record-sync/core/record"
	"record-sync/core/remote"

	"github.com/google/uuid"
)

// Op names a Store operation for fault injection and call counting.
type Op string

const (
	OpAccount      Op = "account"
	OpEnsureZones  Op = "ensure_zones"
	OpFetch        Op = "fetch"
	OpQuery        Op = "query"
	OpModify       Op = "modify"
	OpFetchChanges Op = "fetch_changes"
)

const (
	defaultQueryLimit = 100
	tokenPrefix       = "seq:"
)

type change struct {
	seq     uint64
	name    string
	deleted bool
}

type zone struct {
	records map[string]*record.Record
	log     []change
	seq     uint64
}

// Store is an in-memory remote.Store. It keeps versioned records per scope
// and zone, a per-zone change log, and supports injected faults.
type Store struct {
	mu      sync.Mutex
	scopes  map[record.Scope]map[string]*zone
	account remote.AccountStatus
	faults  map[Op][]error
	calls   map[Op]int
	now     func() time.Time
}

// New creates an empty store with an available account.
func New() *Store {
	return &Store{
		scopes:  make(map[record.Scope]map[string]*zone),
		account: remote.AccountAvailable,
		faults:  make(map[Op][]error),
		calls:   make(map[Op]int),
		now:     time.Now,
	}
}

var _ remote.Store = (*Store)(nil)

// SetAccountStatus changes what AccountStatus reports.
func (s *Store) SetAccountStatus(status remote.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = status
}

// FailNext queues err as the result of the next call to op.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter counts the call and pops a queued fault. Caller holds s.mu.
func (s *Store) enter(op Op) error {
	s.calls[op]++
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

func (s *Store) zone(scope record.Scope, name string, create bool) *zone {
	zones, ok := s.scopes[scope]
	if !ok {
		if !create {
			return nil
		}
		zones = make(map[string]*zone)
		s.scopes[scope] = zones
	}
	z, ok := zones[name]
	if !ok && create {
		z = &zone{records: make(map[string]*record.Record)}
		zones[name] = z
	}
	return z
}

func (s *Store) lookup(scope record.Scope, id record.ID) *record.Record {
	z := s.zone(scope, id.Zone, false)
	if z == nil {
		return nil
	}
	return z.records[id.Name]
}

// put stores a clone of r with a fresh change tag. Caller holds s.mu.
func (s *Store) put(scope record.Scope, r *record.Record) *record.Record {
	z := s.zone(scope, r.ID.Zone, true)
	stored := r.Clone()
	stored.ChangeTag = uuid.NewString()
	stored.Modified = s.now()
	z.records[r.ID.Name] = stored
	z.seq++
	z.log = append(z.log, change{seq: z.seq, name: r.ID.Name})
	return stored.Clone()
}

func (s *Store) remove(scope record.Scope, id record.ID) bool {
	z := s.zone(scope, id.Zone, false)
	if z == nil {
		return false
	}
	if _, ok := z.records[id.Name]; !ok {
		return false
	}
	delete(z.records, id.Name)
	z.seq++
	z.log = append(z.log, change{seq: z.seq, name: id.Name, deleted: true})
	return true
}

// Put writes r as another client would, bypassing change tag checks.
func (s *Store) Put(scope record.Scope, r *record.Record) *record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(scope, r)
}

// Delete removes a record as another client would.
func (s *Store) Delete(scope record.Scope, id record.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(scope, id)
}

// Get returns a copy of the stored record.
func (s *Store) Get(scope record.Scope, id record.ID) (*record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.lookup(scope, id)
	return r.Clone(), r != nil
}

// AccountStatus implements remote.Store.
func (s *Store) AccountStatus(ctx context.Context) (remote.AccountStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAccount); err != nil {
		return remote.AccountUnknown, err
	}
	return s.account, nil
}

// EnsureZones implements remote.Store.
func (s *Store) EnsureZones(ctx context.Context, scope record.Scope, zones []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpEnsureZones); err != nil {
		return err
	}
	for _, name := range zones {
		s.zone(scope, name, true)
	}
	return nil
}

// Fetch implements remote.Store.
func (s *Store) Fetch(ctx context.Context, scope record.Scope, ids []record.ID) (map[record.ID]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFetch); err != nil {
		return nil, err
	}

	found := make(map[record.ID]*record.Record, len(ids))
	var items []remote.ItemError
	for _, id := range ids {
		if r := s.lookup(scope, id); r != nil {
			found[id] = r.Clone()
			continue
		}
		items = append(items, remote.ItemError{ID: id, Err: remote.UnknownItem(id)})
	}
	if len(items) > 0 {
		return found, remote.Partial(items)
	}
	return found, nil
}

// Query implements remote.Store. Results are ordered by id.
func (s *Store) Query(ctx context.Context, scope record.Scope, q remote.Query) (remote.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpQuery); err != nil {
		return remote.Page{}, err
	}

	var matches []*record.Record
	for zoneName, z := range s.scopes[scope] {
		if q.Zone != "" && q.Zone != zoneName {
			continue
		}
		for _, r := range z.records {
			if r.Type == q.Type && matchesAll(r, q.Equals) {
				matches = append(matches, r)
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ID.String() < matches[j].ID.String()
	})

	offset := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil || n < 0 {
			return remote.Page{}, &remote.Error{Code: remote.CodeOther, Err: fmt.Errorf("invalid cursor %q", q.Cursor)}
		}
		offset = n
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var page remote.Page
	for i := offset; i < len(matches) && len(page.Records) < limit; i++ {
		page.Records = append(page.Records, matches[i].Clone())
	}
	if next := offset + len(page.Records); next < len(matches) {
		page.Cursor = strconv.Itoa(next)
	}
	return page, nil
}

func matchesAll(r *record.Record, equals map[string]record.Value) bool {
	for field, want := range equals {
		if !record.Equal(r.Get(field), want) {
			return false
		}
	}
	return true
}

// Modify implements remote.Store. Items are applied independently: a failing
// item does not prevent the others from committing.
func (s *Store) Modify(ctx context.Context, scope record.Scope, save []*record.Record, del []record.ID) (remote.ModifyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpModify); err != nil {
		return remote.ModifyResult{}, err
	}

	var (
		result remote.ModifyResult
		items  []remote.ItemError
	)
	for _, r := range save {
		existing := s.lookup(scope, r.ID)
		switch {
		case existing == nil && r.ChangeTag != "":
			items = append(items, remote.ItemError{ID: r.ID, Err: remote.UnknownItem(r.ID)})
		case existing != nil && existing.ChangeTag != r.ChangeTag:
			items = append(items, remote.ItemError{ID: r.ID, Err: remote.Conflict(r.ID, existing.Clone())})
		default:
			result.Saved = append(result.Saved, s.put(scope, r))
		}
	}
	for _, id := range del {
		s.remove(scope, id)
		result.Deleted = append(result.Deleted, id)
	}

	if len(items) > 0 {
		return result, remote.Partial(items)
	}
	return result, nil
}

// FetchChanges implements remote.Store. Several changes to one record within
// a page collapse into its latest state.
func (s *Store) FetchChanges(ctx context.Context, scope record.Scope, zoneName string, since remote.ChangeToken, limit int) (remote.ChangePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFetchChanges); err != nil {
		return remote.ChangePage{}, err
	}

	after, err := parseToken(since)
	if err != nil {
		return remote.ChangePage{}, &remote.Error{Code: remote.CodeOther, Err: err}
	}

	page := remote.ChangePage{Token: since}
	z := s.zone(scope, zoneName, false)
	if z == nil {
		return page, nil
	}

	var window []change
	for _, c := range z.log {
		if c.seq <= after {
			continue
		}
		if limit > 0 && len(window) == limit {
			page.More = true
			break
		}
		window = append(window, c)
	}
	if len(window) == 0 {
		return page, nil
	}

	latest := make(map[string]change, len(window))
	var order []string
	for _, c := range window {
		if _, seen := latest[c.name]; !seen {
			order = append(order, c.name)
		}
		latest[c.name] = c
	}
	for _, name := range order {
		c := latest[name]
		id := record.ID{Zone: zoneName, Name: name}
		if c.deleted {
			page.Deleted = append(page.Deleted, id)
			continue
		}
		if r, ok := z.records[name]; ok {
			page.Changed = append(page.Changed, r.Clone())
		}
	}
	page.Token = formatToken(window[len(window)-1].seq)
	return page, nil
}

func formatToken(seq uint64) remote.ChangeToken {
	return remote.ChangeToken(tokenPrefix + strconv.FormatUint(seq, 10))
}

func parseToken(t remote.ChangeToken) (uint64, error) {
	if t == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(string(t), tokenPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid change token %q", t)
	}
	return strconv.ParseUint(raw, 10, 64)
}
