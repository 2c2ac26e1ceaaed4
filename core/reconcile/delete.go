package reconcile

import (
	"context"
	"errors"
	"fmt"

	"record-sync/core/localstore"
	"record-sync/core/record"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"go.uber.org/zap"
)

// Delete removes the object at ref together with all of its descendants,
// remotely first and then locally, with no sync pass running in between. It
// returns the ids requested for remote deletion, children before parents. The
// former parent is marked dirty so its child list is resubmitted.
func (s *Scheduler) Delete(ctx context.Context, ref localstore.Ref) ([]record.ID, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	obj, err := s.deps.Local.Lookup(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	desc, err := s.descendants(ctx, ref)
	if err != nil {
		return nil, err
	}

	seen := map[record.ID]bool{ref.ID: true}
	ids := make([]record.ID, 0, len(desc)+1)
	if sh, ok := s.deps.Registry.Lookup(ref.Scope, ref.ID); ok {
		for _, id := range sh.DescendantIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for i := len(desc) - 1; i >= 0; i-- {
		if id := desc[i].ID; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	ids = append(ids, ref.ID)

	// Hold the former parent with its child list loaded so purging the
	// deleted shadow flags the list as changed.
	var parent *shadow.Shadow
	if obj.Parent != nil {
		parent = s.deps.Registry.Acquire(ref.Scope, obj.Parent.ID, obj.Parent.Type)
		err := s.deps.Registry.Refresh(ctx, parent, func(ctx context.Context) (*record.Record, error) {
			return s.fetchOne(ctx, ref.Scope, obj.Parent.ID)
		})
		if err != nil {
			s.deps.Registry.Release(parent)
			return nil, err
		}
	}
	releaseParent := func(Result) { s.deps.Registry.Release(parent) }

	s.submitMu.Lock()
	err = s.deps.Retrier.Do(ctx, retry.Request{Name: "delete", Scope: ref.Scope, Zone: ref.ID.Zone, Target: &ref.ID}, func(ctx context.Context) error {
		_, err := s.deps.Remote.Modify(ctx, ref.Scope, nil, ids)
		_, err = splitUnknown(err)
		return err
	})
	if err != nil {
		s.submitMu.Unlock()
		if parent != nil {
			releaseParent(Result{})
		}
		return nil, fmt.Errorf("failed to delete %s remotely: %w", ref, err)
	}

	err = s.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		for _, id := range ids {
			victim, err := tx.Find(ref.Scope, id)
			if errors.Is(err, localstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.Delete(victim.Ref); err != nil {
				return err
			}
		}
		return nil
	})
	s.submitMu.Unlock()
	if err != nil {
		if parent != nil {
			releaseParent(Result{})
		}
		return nil, fmt.Errorf("failed to delete %s locally: %w", ref, err)
	}

	for _, id := range ids {
		if sh, ok := s.deps.Registry.Lookup(ref.Scope, id); ok {
			s.deps.Registry.Purge(sh)
		}
	}
	s.logger.Info("Deleted record tree", zap.String("ref", ref.String()), zap.Int("records", len(ids)))

	if parent != nil {
		if err := s.MarkDirty(ctx, releaseParent, *obj.Parent); err != nil {
			releaseParent(Result{})
			if !errors.Is(err, localstore.ErrNotFound) {
				s.logger.Warn("Failed to resubmit parent after delete", zap.String("parent", obj.Parent.String()), zap.Error(err))
			}
		}
	}
	return ids, nil
}

// descendants returns the local objects below ref, breadth first.
func (s *Scheduler) descendants(ctx context.Context, ref localstore.Ref) ([]*localstore.Object, error) {
	var out []*localstore.Object
	seen := map[localstore.Ref]bool{ref: true}
	queue := []localstore.Ref{ref}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := s.deps.Local.Children(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("failed to load children of %s: %w", cur, err)
		}
		for _, c := range children {
			if seen[c.Ref] {
				continue
			}
			seen[c.Ref] = true
			out = append(out, c)
			queue = append(queue, c.Ref)
		}
	}
	return out, nil
}
