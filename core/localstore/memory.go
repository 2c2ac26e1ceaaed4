package localstore

import (
	"context"
	"sort"
	"sync"

	"record-sync/core/record"
	"record-sync/core/remote"
)

type tokenKey struct {
	scope record.Scope
	zone  string
}

type memState struct {
	objects    map[Ref]*Object
	tokens     map[tokenKey]remote.ChangeToken
	inProgress map[Ref]struct{}
}

func (s *memState) clone() *memState {
	cp := &memState{
		objects:    make(map[Ref]*Object, len(s.objects)),
		tokens:     make(map[tokenKey]remote.ChangeToken, len(s.tokens)),
		inProgress: make(map[Ref]struct{}, len(s.inProgress)),
	}
	for k, v := range s.objects {
		cp.objects[k] = v
	}
	for k, v := range s.tokens {
		cp.tokens[k] = v
	}
	for k := range s.inProgress {
		cp.inProgress[k] = struct{}{}
	}
	return cp
}

func (s *memState) find(scope record.Scope, id record.ID) (*Object, error) {
	for ref, obj := range s.objects {
		if ref.Scope == scope && ref.ID == id {
			return obj.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Memory is an in-process Store. Save stages mutations on a copy and swaps
// it in only when fn succeeds.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		objects:    make(map[Ref]*Object),
		tokens:     make(map[tokenKey]remote.ChangeToken),
		inProgress: make(map[Ref]struct{}),
	}}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Lookup(ctx context.Context, ref Ref) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.state.objects[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.Clone(), nil
}

func (m *Memory) Find(ctx context.Context, scope record.Scope, id record.ID) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.find(scope, id)
}

func (m *Memory) Children(ctx context.Context, parent Ref) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Object
	for _, obj := range m.state.objects {
		if obj.Parent != nil && *obj.Parent == parent {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) ListIDs(ctx context.Context, scope record.Scope, typeName, zone string) ([]record.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []record.ID
	for ref := range m.state.objects {
		if ref.Scope == scope && ref.Type == typeName && ref.ID.Zone == zone {
			ids = append(ids, ref.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *Memory) InsertIfAbsent(ctx context.Context, obj *Object) (*Object, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.state.objects[obj.Ref]; ok {
		return existing.Clone(), false, nil
	}
	m.state.objects[obj.Ref] = obj.Clone()
	return obj.Clone(), true, nil
}

func (m *Memory) Delete(ctx context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.objects, ref)
	delete(m.state.inProgress, ref)
	return nil
}

func (m *Memory) Save(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := m.state.clone()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *Memory) Token(ctx context.Context, scope record.Scope, zone string) (remote.ChangeToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.tokens[tokenKey{scope: scope, zone: zone}], nil
}

func (m *Memory) InProgress(ctx context.Context) ([]Ref, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]Ref, 0, len(m.state.inProgress))
	for ref := range m.state.inProgress {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs, nil
}

type memTx struct {
	state *memState
}

func (tx *memTx) Lookup(ref Ref) (*Object, error) {
	obj, ok := tx.state.objects[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.Clone(), nil
}

func (tx *memTx) Find(scope record.Scope, id record.ID) (*Object, error) {
	return tx.state.find(scope, id)
}

func (tx *memTx) Put(obj *Object) error {
	tx.state.objects[obj.Ref] = obj.Clone()
	return nil
}

func (tx *memTx) Delete(ref Ref) error {
	delete(tx.state.objects, ref)
	delete(tx.state.inProgress, ref)
	return nil
}

func (tx *memTx) SetToken(scope record.Scope, zone string, token remote.ChangeToken) error {
	tx.state.tokens[tokenKey{scope: scope, zone: zone}] = token
	return nil
}

func (tx *memTx) MarkInProgress(ref Ref, inProgress bool) error {
	if inProgress {
		tx.state.inProgress[ref] = struct{}{}
	} else {
		delete(tx.state.inProgress, ref)
	}
	return nil
}
