package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"record-sync/core/localstore"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// member is one object taking part in a pass.
type member struct {
	obj    *localstore.Object
	shadow *shadow.Shadow
	// revision is the object's revision when the pass picked it up.
	revision int64
	// extra marks parents pulled in because a child moved under or away
	// from them. They are only submitted when their child list changed.
	extra bool
}

// committedBefore reports whether the record was ever confirmed remotely.
func (m *member) committedBefore() bool {
	return m.obj.ChangeTag != "" || m.shadow.ExistsRemotely()
}

// batch holds the members of one scope and every shadow reference the pass
// took, so they can be released together.
type batch struct {
	scope   record.Scope
	members []*member
	byID    map[record.ID]*member
	held    []*shadow.Shadow
}

func (b *batch) add(reg *shadow.Registry, obj *localstore.Object, extra bool) *member {
	m := &member{
		obj:      obj,
		shadow:   reg.Acquire(b.scope, obj.ID, obj.Type),
		revision: obj.Revision,
		extra:    extra,
	}
	b.members = append(b.members, m)
	b.byID[obj.ID] = m
	b.held = append(b.held, m.shadow)
	return m
}

func (b *batch) release(reg *shadow.Registry) {
	for _, sh := range b.held {
		reg.Release(sh)
	}
	b.held = nil
}

// runPass synchronizes the dirty objects reachable from refs. Objects are
// collected under submitMu so no Delete runs between reading and submitting
// them.
func (s *Scheduler) runPass(ctx context.Context, refs []localstore.Ref) Result {
	out := newOutcomes()

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	objs, err := s.collect(ctx, refs)
	if err != nil {
		for _, ref := range refs {
			out.set(ref, StatusFailed, err)
		}
		return Result{Outcomes: out.list(), Err: out.err()}
	}
	if len(objs) == 0 {
		return Result{}
	}

	byScope := make(map[record.Scope][]*localstore.Object)
	var scopes []record.Scope
	for _, obj := range objs {
		if _, ok := byScope[obj.Scope]; !ok {
			scopes = append(scopes, obj.Scope)
		}
		byScope[obj.Scope] = append(byScope[obj.Scope], obj)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })

	for _, scope := range scopes {
		s.syncBatch(ctx, scope, byScope[scope], out)
	}
	return Result{Outcomes: out.list(), Err: out.err()}
}

// collect loads the trigger objects and their descendants, keeping the dirty
// ones. Parents come before their children.
func (s *Scheduler) collect(ctx context.Context, refs []localstore.Ref) ([]*localstore.Object, error) {
	seen := make(map[localstore.Ref]bool)
	queue := append([]localstore.Ref(nil), refs...)
	var out []*localstore.Object

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if seen[ref] {
			continue
		}
		seen[ref] = true

		obj, err := s.deps.Local.Lookup(ctx, ref)
		if errors.Is(err, localstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", ref, err)
		}
		if obj.SyncState == record.Dirty {
			out = append(out, obj)
		}

		children, err := s.deps.Local.Children(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to load children of %s: %w", ref, err)
		}
		for _, c := range children {
			queue = append(queue, c.Ref)
		}
	}
	return out, nil
}

func (s *Scheduler) syncBatch(ctx context.Context, scope record.Scope, objs []*localstore.Object, out *outcomes) {
	reg := s.deps.Registry
	b := &batch{scope: scope, byID: make(map[record.ID]*member)}
	defer b.release(reg)

	for _, obj := range objs {
		b.add(reg, obj, false)
	}

	failAll := func(err error) {
		for _, m := range b.members {
			if !out.has(m.obj.Ref) && !m.extra {
				out.set(m.obj.Ref, StatusFailed, err)
			}
		}
	}

	if err := s.load(ctx, b, b.members, out); err != nil {
		failAll(err)
		return
	}
	extra, err := s.hierarchyMembers(ctx, b)
	if err != nil {
		failAll(err)
		return
	}
	if len(extra) > 0 {
		if err := s.load(ctx, b, extra, out); err != nil {
			failAll(err)
			return
		}
	}

	for _, m := range b.members {
		if out.has(m.obj.Ref) {
			continue
		}
		if err := s.apply(ctx, b, m); err != nil {
			out.set(m.obj.Ref, StatusFailed, err)
		}
	}
	for _, m := range b.members {
		if !out.has(m.obj.Ref) {
			s.link(b, m)
		}
	}

	s.submit(ctx, b, out)
	s.persist(ctx, b, out)
}

// load fetches the remote records of members in chunks and folds them into
// the registry. Records unknown to the remote store are created on submit
// when they were never confirmed, and dropped when they vanished.
func (s *Scheduler) load(ctx context.Context, b *batch, members []*member, out *outcomes) error {
	var ids []record.ID
	for _, m := range members {
		if !out.has(m.obj.Ref) {
			ids = append(ids, m.obj.ID)
		}
	}

	for start := 0; start < len(ids); start += s.cfg.FetchBatchSize {
		end := start + s.cfg.FetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		found, unknown, err := s.fetch(ctx, b.scope, ids[start:end])
		if err != nil {
			return err
		}
		for _, rec := range found {
			s.deps.Registry.Release(s.deps.Registry.Observe(b.scope, rec))
		}
		for _, id := range unknown {
			m := b.byID[id]
			if m != nil && m.committedBefore() {
				s.logger.Info("Record vanished remotely, dropping local object", zap.String("ref", m.obj.Ref.String()))
				out.set(m.obj.Ref, StatusDropped, nil)
			}
		}
	}
	return nil
}

// fetch reads ids through the retrier. Unknown ids are returned separately
// instead of as an error.
func (s *Scheduler) fetch(ctx context.Context, scope record.Scope, ids []record.ID) (map[record.ID]*record.Record, []record.ID, error) {
	var (
		found   map[record.ID]*record.Record
		unknown []record.ID
	)
	req := retry.Request{Name: "fetch", Scope: scope}
	if len(ids) == 1 {
		req.Zone = ids[0].Zone
		req.Target = &ids[0]
	}
	err := s.deps.Retrier.Do(ctx, req, func(ctx context.Context) error {
		var err error
		found, err = s.deps.Remote.Fetch(ctx, scope, ids)
		unknown, err = splitUnknown(err)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %d records: %w", len(ids), err)
	}
	return found, unknown, nil
}

func (s *Scheduler) fetchOne(ctx context.Context, scope record.Scope, id record.ID) (*record.Record, error) {
	found, _, err := s.fetch(ctx, scope, []record.ID{id})
	if err != nil {
		return nil, err
	}
	return found[id], nil
}

// hierarchyMembers adds the parents whose child list changes because a
// member moves under or away from them.
func (s *Scheduler) hierarchyMembers(ctx context.Context, b *batch) ([]*member, error) {
	var extra []*member
	add := func(obj *localstore.Object) {
		if _, ok := b.byID[obj.ID]; ok {
			return
		}
		extra = append(extra, b.add(s.deps.Registry, obj, true))
	}

	for _, m := range append([]*member(nil), b.members...) {
		current := m.shadow.Parent()
		want := m.obj.Parent

		if want != nil && (current == nil || current.ID() != want.ID) {
			obj, err := s.deps.Local.Lookup(ctx, *want)
			switch {
			case err == nil:
				add(obj)
			case !errors.Is(err, localstore.ErrNotFound):
				return nil, fmt.Errorf("failed to load parent of %s: %w", m.obj.Ref, err)
			}
		}
		if current != nil && (want == nil || current.ID() != want.ID) {
			obj, err := s.deps.Local.Find(ctx, b.scope, current.ID())
			switch {
			case err == nil:
				add(obj)
			case !errors.Is(err, localstore.ErrNotFound):
				return nil, fmt.Errorf("failed to load former parent of %s: %w", m.obj.Ref, err)
			}
		}
	}
	return extra, nil
}

// apply stages the local object's fields on its shadow. Fields missing
// locally are staged as null so the submission removes them.
func (s *Scheduler) apply(ctx context.Context, b *batch, m *member) error {
	fields, err := s.deps.Stager.Stage(ctx, m.obj.Fields)
	if err != nil {
		return err
	}

	names := make(map[string]struct{}, len(fields))
	for name := range fields {
		names[name] = struct{}{}
	}
	if committed := m.shadow.Committed(); committed != nil {
		for name := range committed.Fields {
			names[name] = struct{}{}
		}
	}

	for name := range names {
		if name == record.ChildrenField || record.IsDeviceField(name) {
			continue
		}
		v, ok := fields[name]
		if !ok {
			v = record.Null()
		}
		m.shadow.Write(name, v)
	}
	return nil
}

// link moves the member's shadow under the parent named by the local object.
func (s *Scheduler) link(b *batch, m *member) {
	if m.obj.Parent == nil {
		m.shadow.SetParent(nil)
		return
	}
	if pm, ok := b.byID[m.obj.Parent.ID]; ok {
		m.shadow.SetParent(pm.shadow)
		return
	}
	p := s.deps.Registry.Acquire(b.scope, m.obj.Parent.ID, m.obj.Parent.Type)
	b.held = append(b.held, p)
	m.shadow.SetParent(p)
}

// submit writes the batch, reloading every unconfirmed member and trying
// again when the remote store reports a conflict. Members the store asked to
// send again later are resubmitted once the requested delay elapsed.
func (s *Scheduler) submit(ctx context.Context, b *batch, out *outcomes) {
	req := retry.Request{Name: "modify", Scope: b.scope}
	for round := 1; ; {
		var (
			save []*record.Record
			sent []*member
		)
		for _, m := range b.members {
			if out.has(m.obj.Ref) {
				continue
			}
			if m.shadow.ExistsRemotely() && !m.shadow.HasChanges() && !parentMoved(m.shadow) {
				m.shadow.Commit(nil)
				if !m.extra {
					out.set(m.obj.Ref, StatusSaved, nil)
				}
				continue
			}
			rec, err := m.shadow.Materialize()
			if err != nil {
				out.set(m.obj.Ref, StatusFailed, err)
				continue
			}
			m.shadow.SetSyncState(record.Syncing)
			save = append(save, rec)
			sent = append(sent, m)
		}
		if len(save) == 0 {
			return
		}

		var (
			res   remote.ModifyResult
			items *remote.Error
		)
		err := s.deps.Retrier.Do(ctx, req, func(ctx context.Context) error {
			var err error
			res, err = s.deps.Remote.Modify(ctx, b.scope, save, nil)
			items = nil
			if re, ok := remote.As(err); ok && re.Code == remote.CodePartialFailure {
				items = re
				return nil
			}
			return err
		})

		var conflicted []*member
		switch {
		case err == nil:
		case remote.IsCode(err, remote.CodeConflict):
			conflicted = append(conflicted, sent...)
		default:
			for _, m := range sent {
				m.shadow.SetSyncState(record.Dirty)
				out.set(m.obj.Ref, StatusFailed, fmt.Errorf("failed to submit %s: %w", m.obj.Ref, err))
			}
			return
		}

		for _, rec := range res.Saved {
			if m, ok := b.byID[rec.ID]; ok {
				m.shadow.Commit(rec)
				out.set(m.obj.Ref, StatusSaved, nil)
			}
		}

		var (
			delayed  []*member
			delayErr error
			longest  time.Duration
		)
		if items != nil {
			for _, item := range items.Items {
				m, ok := b.byID[item.ID]
				if !ok {
					continue
				}
				m.shadow.SetSyncState(record.Dirty)
				if delay, retryable := remote.RetryDelay(item.Err); retryable {
					delayed = append(delayed, m)
					if delayErr == nil || delay > longest {
						delayErr, longest = item.Err, delay
					}
					continue
				}
				switch remote.CodeOf(item.Err) {
				case remote.CodeConflict:
					conflicted = append(conflicted, m)
				case remote.CodeUnknownItem:
					out.set(m.obj.Ref, StatusDropped, nil)
				default:
					out.set(m.obj.Ref, StatusFailed, fmt.Errorf("failed to submit %s: %w", m.obj.Ref, item.Err))
				}
			}
		}

		if len(conflicted) > 0 {
			if round >= s.cfg.MaxConflictRounds {
				for _, m := range conflicted {
					out.set(m.obj.Ref, StatusFailed, fmt.Errorf("failed to submit %s: still conflicting after %d rounds", m.obj.Ref, round))
				}
				if len(delayed) == 0 {
					return
				}
			} else {
				s.logger.Info("Conflict during submit, reloading batch",
					zap.String("scope", string(b.scope)),
					zap.Int("conflicts", len(conflicted)),
					zap.Int("round", round),
				)
				round++
				if err := s.reload(ctx, b, out); err != nil {
					for _, m := range b.members {
						if !out.has(m.obj.Ref) && !m.extra {
							out.set(m.obj.Ref, StatusFailed, err)
						}
					}
					return
				}
			}
		}

		if len(delayed) > 0 {
			s.logger.Info("Items rate limited during submit",
				zap.String("scope", string(b.scope)),
				zap.Int("items", len(delayed)),
				zap.Duration("retry_after", longest),
			)
			next, err := s.deps.Retrier.Backoff(ctx, req, delayErr)
			if err != nil {
				for _, m := range delayed {
					if !out.has(m.obj.Ref) {
						out.set(m.obj.Ref, StatusFailed, fmt.Errorf("failed to submit %s: %w", m.obj.Ref, err))
					}
				}
				return
			}
			req = next
			continue
		}
		if len(conflicted) == 0 {
			return
		}
	}
}

// reload refreshes every member without an outcome concurrently, then
// re-applies the local hierarchy the refresh may have replaced.
func (s *Scheduler) reload(ctx context.Context, b *batch, out *outcomes) error {
	var (
		mu       sync.Mutex
		vanished []*member
		pending  []*member
	)
	for _, m := range b.members {
		if !out.has(m.obj.Ref) {
			pending = append(pending, m)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range pending {
		g.Go(func() error {
			return s.deps.Registry.Refresh(gctx, m.shadow, func(ctx context.Context) (*record.Record, error) {
				rec, err := s.fetchOne(ctx, b.scope, m.obj.ID)
				if err == nil && rec == nil {
					mu.Lock()
					vanished = append(vanished, m)
					mu.Unlock()
				}
				return rec, err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, m := range vanished {
		if m.committedBefore() {
			out.set(m.obj.Ref, StatusDropped, nil)
		}
	}
	for _, m := range pending {
		if !out.has(m.obj.Ref) {
			s.link(b, m)
		}
	}
	return nil
}

// persist records the pass in the local store in one transaction. Saved
// objects become up to date unless they were marked dirty again meanwhile;
// dropped objects are deleted and their shadows purged.
func (s *Scheduler) persist(ctx context.Context, b *batch, out *outcomes) {
	var purge []*shadow.Shadow
	err := s.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		purge = purge[:0]
		for _, m := range b.members {
			o, ok := out.byRef[m.obj.Ref]
			if !ok {
				continue
			}
			switch o.Status {
			case StatusSaved:
				cur, err := tx.Lookup(m.obj.Ref)
				if errors.Is(err, localstore.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if committed := m.shadow.Committed(); committed != nil {
					cur.ChangeTag = committed.ChangeTag
				}
				if cur.Revision == m.revision {
					cur.SyncState = record.UpToDate
					if err := tx.MarkInProgress(cur.Ref, false); err != nil {
						return err
					}
				}
				if err := tx.Put(cur); err != nil {
					return err
				}
			case StatusDropped:
				if err := tx.Delete(m.obj.Ref); err != nil {
					return err
				}
				purge = append(purge, m.shadow)
			}
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to persist sync pass: %w", err)
		for _, ref := range out.order {
			if o := out.byRef[ref]; o.Status != StatusFailed {
				out.set(ref, StatusFailed, err)
			}
		}
		return
	}
	for _, sh := range purge {
		s.deps.Registry.Purge(sh)
	}
}

// parentMoved reports whether the shadow's parent differs from the parent
// in its committed snapshot.
func parentMoved(sh *shadow.Shadow) bool {
	committed := sh.Committed()
	if committed == nil {
		return false
	}
	p := sh.Parent()
	switch {
	case p == nil:
		return committed.Parent != nil
	case committed.Parent == nil:
		return true
	default:
		return *committed.Parent != p.ID()
	}
}

// splitUnknown separates unknown-item failures from a partial failure.
func splitUnknown(err error) ([]record.ID, error) {
	re, ok := remote.As(err)
	if !ok || re.Code != remote.CodePartialFailure {
		return nil, err
	}
	var (
		unknown []record.ID
		rest    []remote.ItemError
	)
	for _, item := range re.Items {
		if remote.IsCode(item.Err, remote.CodeUnknownItem) {
			unknown = append(unknown, item.ID)
			continue
		}
		rest = append(rest, item)
	}
	if len(rest) == 0 {
		return unknown, nil
	}
	return unknown, remote.Partial(rest)
}
