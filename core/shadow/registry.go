package shadow

import (
	"context"
	"fmt"
	"sync"

	"record-sync/core/record"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Registry hands out exactly one Shadow per (scope, id) while it is in use.
//
// Callers Acquire a shadow and Release it when done. A shadow stays registered
// while it is acquired or linked into a parent/child graph, so every caller
// observing the same record during a sync pass shares one mutable shadow.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Shadow
	sf      singleflight.Group
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[Key]*Shadow),
		logger:  logger,
	}
}

// Acquire returns the live shadow for id, creating an empty shell when none
// exists, and takes a reference on it. typeName seeds the type of untyped shadows.
func (r *Registry) Acquire(scope record.Scope, id record.ID, typeName string) *Shadow {
	r.mu.Lock()
	s := r.acquireLocked(Key{Scope: scope, ID: id})
	r.mu.Unlock()

	s.adoptType(typeName)
	return s
}

func (r *Registry) acquireLocked(key Key) *Shadow {
	s, ok := r.entries[key]
	if !ok {
		s = newShadow(r, key, "")
		r.entries[key] = s
	}
	s.refs++
	return s
}

// Observe integrates a record freshly read from the remote store and returns
// its acquired shadow. Shadows without local edits take rec as their committed
// snapshot; shadows with edits keep the edits that still differ from rec.
// The parent and (unless locally changed) the children are linked from rec.
func (r *Registry) Observe(scope record.Scope, rec *record.Record) *Shadow {
	s := r.Acquire(scope, rec.ID, rec.Type)
	if s.HasChanges() {
		s.ReconcileAfterRemote(rec)
	} else {
		s.Commit(rec)
	}
	r.linkCommitted(s, rec)
	return s
}

// linkCommitted links s to the parent and children named by rec without
// flagging anyone's child list as changed.
func (r *Registry) linkCommitted(s *Shadow, rec *record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Parent != nil {
		p := r.acquireLocked(Key{Scope: s.key.Scope, ID: *rec.Parent})
		r.setParentLocked(s, p, false)
		p.refs--
	}

	if s.childrenChanged {
		return
	}
	childIDs := rec.ChildIDs()
	keep := make(map[record.ID]bool, len(childIDs))
	for _, id := range childIDs {
		keep[id] = true
	}
	for _, c := range append([]*Shadow(nil), s.children...) {
		if !keep[c.key.ID] {
			r.setParentLocked(c, nil, false)
		}
	}
	for _, id := range childIDs {
		c := r.acquireLocked(Key{Scope: s.key.Scope, ID: id})
		r.setParentLocked(c, s, false)
		c.refs--
	}
	s.childrenChanged = false
}

// setParentLocked moves child under p. Caller holds r.mu.
func (r *Registry) setParentLocked(child, p *Shadow, flag bool) {
	old := child.parent
	if old == p {
		if p != nil && !containsShadow(p.children, child) {
			p.children = append(p.children, child)
			p.childrenChanged = p.childrenChanged || flag
		}
		return
	}
	if old != nil {
		old.children = removeShadow(old.children, child)
		old.childrenChanged = old.childrenChanged || flag
	}
	child.parent = p
	if p != nil && !containsShadow(p.children, child) {
		p.children = append(p.children, child)
		p.childrenChanged = p.childrenChanged || flag
	}
	if old != nil {
		r.evictLocked(old)
	}
	r.evictLocked(child)
}

func containsShadow(list []*Shadow, s *Shadow) bool {
	for _, c := range list {
		if c == s {
			return true
		}
	}
	return false
}

func removeShadow(list []*Shadow, s *Shadow) []*Shadow {
	out := list[:0]
	for _, c := range list {
		if c != s {
			out = append(out, c)
		}
	}
	return out
}

// evictLocked drops s from the table once nothing references or links it.
func (r *Registry) evictLocked(s *Shadow) {
	if s.refs > 0 || s.parent != nil || len(s.children) > 0 || s.detached {
		return
	}
	if r.entries[s.key] == s {
		delete(r.entries, s.key)
	}
	s.detached = true
}

// Release drops a reference taken by Acquire or Observe.
func (r *Registry) Release(s *Shadow) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.refs <= 0 {
		r.logger.Warn("Shadow released more often than acquired", zap.String("key", s.key.String()))
		return
	}
	s.refs--
	r.evictLocked(s)
}

// Purge unlinks s from its graph and removes it regardless of outstanding
// references. Used when the record no longer exists.
func (r *Registry) Purge(s *Shadow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.parent != nil {
		p := s.parent
		p.children = removeShadow(p.children, s)
		p.childrenChanged = true
		s.parent = nil
		r.evictLocked(p)
	}
	for _, c := range s.children {
		c.parent = nil
		r.evictLocked(c)
	}
	s.children = nil
	if r.entries[s.key] == s {
		delete(r.entries, s.key)
	}
	s.detached = true
}

// Lookup returns the live shadow for id without taking a reference.
func (r *Registry) Lookup(scope record.Scope, id record.ID) (*Shadow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[Key{Scope: scope, ID: id}]
	return s, ok
}

// Len returns the number of live shadows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Refresh reloads s from the remote store and reconciles its pending edits
// against the result. Concurrent refreshes of the same record share one fetch.
// A nil record from fetch leaves s untouched.
func (r *Registry) Refresh(ctx context.Context, s *Shadow, fetch func(ctx context.Context) (*record.Record, error)) error {
	_, err, shared := r.sf.Do(s.key.String(), func() (any, error) {
		fresh, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if fresh != nil {
			s.ReconcileAfterRemote(fresh)
			r.linkCommitted(s, fresh)
		}
		return fresh, nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", s.key, err)
	}
	if shared {
		r.logger.Debug("Shared in-flight refresh", zap.String("key", s.key.String()))
	}
	return nil
}
