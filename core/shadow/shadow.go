package shadow

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"record-sync/core/record"
)

// ErrUntyped is returned when materializing a shadow whose record type is unknown.
var ErrUntyped = errors.New("record has no type")

// Key addresses a shadow in the registry.
type Key struct {
	Scope record.Scope
	ID    record.ID
}

func (k Key) String() string {
	return string(k.Scope) + ":" + k.ID.String()
}

// Shadow is the local view of one remote record: the snapshot the remote store
// last confirmed plus the field edits not yet confirmed. Shadows are created
// and shared through a Registry.
type Shadow struct {
	key Key
	reg *Registry

	mu        sync.Mutex
	typeName  string
	committed *record.Record
	pending   map[string]record.Value
	dirty     map[string]struct{}
	state     record.SyncState

	// Guarded by reg.mu.
	parent          *Shadow
	children        []*Shadow
	childrenChanged bool
	refs            int
	detached        bool
}

func newShadow(reg *Registry, key Key, typeName string) *Shadow {
	return &Shadow{
		key:      key,
		reg:      reg,
		typeName: typeName,
		pending:  make(map[string]record.Value),
		dirty:    make(map[string]struct{}),
	}
}

// Key returns the registry key.
func (s *Shadow) Key() Key { return s.key }

// ID returns the record id.
func (s *Shadow) ID() record.ID { return s.key.ID }

// Type returns the record type, empty if still unknown.
func (s *Shadow) Type() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typeName
}

func (s *Shadow) adoptType(typeName string) {
	if typeName == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typeName == "" {
		s.typeName = typeName
	}
}

// Read returns the pending value of a dirty field, else the committed value.
// Asset fields come back as location handles.
func (s *Shadow) Read(field string) record.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirty[field]; ok {
		return s.pending[field]
	}
	return s.committed.Get(field)
}

// Write stages a field value. Writing the committed value back cancels the
// pending edit, and cancelling the last edit makes the shadow up to date
// again. Device-only fields are ignored.
func (s *Shadow) Write(field string, v record.Value) {
	if record.IsDeviceField(field) {
		return
	}
	s.reg.mu.Lock()
	childrenChanged := s.childrenChanged
	s.reg.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Equal(v, s.committed.Get(field)) {
		delete(s.dirty, field)
		delete(s.pending, field)
		if len(s.dirty) == 0 && !childrenChanged && s.state == record.Dirty {
			s.state = record.UpToDate
		}
		return
	}
	s.pending[field] = v
	s.dirty[field] = struct{}{}
	s.state = record.Dirty
}

// DirtyKeys returns the fields with pending edits, sorted.
func (s *Shadow) DirtyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasChanges reports whether the shadow has pending field edits or a changed
// child set.
func (s *Shadow) HasChanges() bool {
	s.reg.mu.Lock()
	childrenChanged := s.childrenChanged
	s.reg.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0 || childrenChanged
}

// ExistsRemotely reports whether a committed snapshot exists. Shadows without
// one are created, not patched, on their next submission.
func (s *Shadow) ExistsRemotely() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed != nil
}

// Committed returns a copy of the committed snapshot, or nil.
func (s *Shadow) Committed() *record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.Clone()
}

// SyncState returns the current sync tag.
func (s *Shadow) SyncState() record.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetSyncState overrides the sync tag.
func (s *Shadow) SetSyncState(state record.SyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Parent returns the parent shadow, or nil.
func (s *Shadow) Parent() *Shadow {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.parent
}

// Children returns the child shadows in insertion order.
func (s *Shadow) Children() []*Shadow {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return append([]*Shadow(nil), s.children...)
}

// SetParent moves the shadow under p, or detaches it when p is nil. The
// shadow itself does not become dirty; the old and new parents get their
// childrenChanged flag set so they resubmit their child lists.
func (s *Shadow) SetParent(p *Shadow) {
	r := s.reg
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setParentLocked(s, p, true)
}

// Descendants returns every transitive child, depth first.
func (s *Shadow) Descendants() []*Shadow {
	r := s.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Shadow
	seen := map[*Shadow]bool{s: true}
	var walk func(n *Shadow)
	walk = func(n *Shadow) {
		for _, c := range n.children {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(s)
	return out
}

// DescendantIDs returns the ids of all descendants followed by the shadow's
// own id, children before parents, as needed for a cascading delete.
func (s *Shadow) DescendantIDs() []record.ID {
	desc := s.Descendants()
	ids := make([]record.ID, 0, len(desc)+1)
	for i := len(desc) - 1; i >= 0; i-- {
		ids = append(ids, desc[i].key.ID)
	}
	return append(ids, s.key.ID)
}

// Materialize builds the record to submit: the committed snapshot (or a new
// shell) with every pending edit applied and the hierarchy fields recomputed.
func (s *Shadow) Materialize() (*record.Record, error) {
	r := s.reg
	r.mu.Lock()
	var parentID *record.ID
	if s.parent != nil {
		id := s.parent.key.ID
		parentID = &id
	}
	refs := make([]record.Value, 0, len(s.children))
	for _, c := range s.children {
		refs = append(refs, record.Ref(c.key.ID))
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typeName == "" {
		return nil, fmt.Errorf("failed to materialize %s: %w", s.key.ID, ErrUntyped)
	}

	out := s.committed.Clone()
	if out == nil {
		out = record.New(s.typeName, s.key.ID)
	}
	for field := range s.dirty {
		out.Set(field, s.pending[field])
	}
	out.Parent = parentID
	if len(refs) > 0 {
		out.Set(record.ChildrenField, record.List(refs...))
	} else {
		out.Set(record.ChildrenField, record.Null())
	}
	return out, nil
}

// ReconcileAfterRemote replaces the committed snapshot with fresh and drops
// every pending edit that fresh already carries. Remaining edits stay pending.
func (s *Shadow) ReconcileAfterRemote(fresh *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.committed = fresh.Clone()
	if fresh.Type != "" {
		s.typeName = fresh.Type
	}
	for field := range s.dirty {
		if record.Equal(s.pending[field], fresh.Get(field)) {
			delete(s.dirty, field)
			delete(s.pending, field)
		}
	}
}

// Commit records a successful submission: confirmed becomes the committed
// snapshot (nil keeps the current one) and all pending state is cleared.
func (s *Shadow) Commit(confirmed *record.Record) {
	s.mu.Lock()
	if confirmed != nil {
		s.committed = confirmed.Clone()
		if confirmed.Type != "" {
			s.typeName = confirmed.Type
		}
	}
	s.pending = make(map[string]record.Value)
	s.dirty = make(map[string]struct{})
	s.state = record.UpToDate
	s.mu.Unlock()

	s.reg.mu.Lock()
	s.childrenChanged = false
	s.reg.mu.Unlock()
}
