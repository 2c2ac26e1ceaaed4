package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"record-sync/core/events"
	"record-sync/core/localstore"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators a Puller writes through.
type Deps struct {
	Remote   remote.Store
	Local    localstore.Store
	Registry *shadow.Registry
	Retrier  *retry.Retrier
	// Bus receives PullCompleted events. Nil disables publishing.
	Bus *events.Bus
}

// Stats summarizes one pull or resync of a zone.
type Stats struct {
	Scope   record.Scope       `json:"scope"`
	Zone    string             `json:"zone"`
	Pages   int                `json:"pages"`
	Changed int                `json:"changed"`
	Deleted int                `json:"deleted"`
	Kept    int                `json:"kept_dirty"`
	Token   remote.ChangeToken `json:"token,omitempty"`
}

// PullCompleted is published after a zone has been pulled or resynced.
type PullCompleted struct {
	Stats
	Resync bool `json:"resync"`
}

func (PullCompleted) EventName() string { return "sync.pull_completed" }

// Puller applies the remote change feed to the local store.
type Puller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu    sync.Mutex
	zones map[string]*sync.Mutex
}

// NewPuller creates a puller.
func NewPuller(cfg Config, deps Deps, logger *zap.Logger) *Puller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Puller{cfg: cfg, deps: deps, logger: logger, zones: make(map[string]*sync.Mutex)}
}

// lock serializes pulls of the same zone.
func (p *Puller) lock(scope record.Scope, zone string) func() {
	key := string(scope) + "/" + zone
	p.mu.Lock()
	m, ok := p.zones[key]
	if !ok {
		m = &sync.Mutex{}
		p.zones[key] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Pull fetches every change of zone since the persisted token. Each page is
// applied together with its token in one local transaction.
func (p *Puller) Pull(ctx context.Context, scope record.Scope, zone string) (Stats, error) {
	defer p.lock(scope, zone)()

	stats := Stats{Scope: scope, Zone: zone}
	token, err := p.deps.Local.Token(ctx, scope, zone)
	if err != nil {
		return stats, err
	}

	for {
		var page remote.ChangePage
		req := retry.Request{Name: "fetch_changes", Scope: scope, Zone: zone}
		err := p.deps.Retrier.Do(ctx, req, func(ctx context.Context) error {
			var err error
			page, err = p.deps.Remote.FetchChanges(ctx, scope, zone, token, p.cfg.PageSize)
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("failed to pull zone %s: %w", zone, err)
		}

		if err := p.applyPage(ctx, scope, zone, page, &stats); err != nil {
			return stats, err
		}
		stats.Pages++
		token = page.Token
		stats.Token = token
		if !page.More {
			break
		}
	}

	p.logger.Debug("Pulled zone",
		zap.String("scope", string(scope)),
		zap.String("zone", zone),
		zap.Int("changed", stats.Changed),
		zap.Int("deleted", stats.Deleted),
	)
	p.deps.Bus.Publish(PullCompleted{Stats: stats})
	return stats, nil
}

// PullAll pulls every configured zone concurrently.
func (p *Puller) PullAll(ctx context.Context) ([]Stats, error) {
	scope := record.Scope(p.cfg.Scope)
	out := make([]Stats, len(p.cfg.Zones))
	g, gctx := errgroup.WithContext(ctx)
	for i, zone := range p.cfg.Zones {
		g.Go(func() error {
			st, err := p.Pull(gctx, scope, zone)
			out[i] = st
			return err
		})
	}
	return out, g.Wait()
}

// Run pulls all zones every Interval until ctx ends. It returns immediately
// when the interval is zero.
func (p *Puller) Run(ctx context.Context) {
	if p.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PullAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("Periodic pull failed", zap.Error(err))
			}
		}
	}
}

func (p *Puller) applyPage(ctx context.Context, scope record.Scope, zone string, page remote.ChangePage, stats *Stats) error {
	p.observe(scope, page.Changed)

	var changed, deleted, kept int
	var purge []record.ID
	err := p.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		var err error
		changed, kept, err = applyRecords(tx, scope, page.Changed)
		if err != nil {
			return err
		}

		deleted = 0
		purge = purge[:0]
		for _, id := range page.Deleted {
			obj, err := tx.Find(scope, id)
			if errors.Is(err, localstore.ErrNotFound) {
				purge = append(purge, id)
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.Delete(obj.Ref); err != nil {
				return err
			}
			deleted++
			purge = append(purge, id)
		}

		return tx.SetToken(scope, zone, page.Token)
	})
	if err != nil {
		return fmt.Errorf("failed to apply changes of zone %s: %w", zone, err)
	}

	p.purge(scope, purge)
	stats.Changed += changed
	stats.Deleted += deleted
	stats.Kept += kept
	return nil
}

// observe folds records into shadows that are currently live. Shadows that
// are not live reload on their next pass anyway.
func (p *Puller) observe(scope record.Scope, recs []*record.Record) {
	for _, rec := range recs {
		if _, ok := p.deps.Registry.Lookup(scope, rec.ID); ok {
			p.deps.Registry.Release(p.deps.Registry.Observe(scope, rec))
		}
	}
}

func (p *Puller) purge(scope record.Scope, ids []record.ID) {
	for _, id := range ids {
		if sh, ok := p.deps.Registry.Lookup(scope, id); ok {
			p.deps.Registry.Purge(sh)
		}
	}
}

// applyRecords writes remote records into the local store. Locally dirty
// objects are left alone so their edits survive; the next pass diffs them
// against the fresh remote state. Parents are linked in a second pass so the
// order of records within the page does not matter.
func applyRecords(tx localstore.Tx, scope record.Scope, recs []*record.Record) (changed, kept int, err error) {
	var applied []*record.Record
	for _, rec := range recs {
		ref := localstore.Ref{Scope: scope, Type: rec.Type, ID: rec.ID}
		cur, err := tx.Lookup(ref)
		if err != nil && !errors.Is(err, localstore.ErrNotFound) {
			return 0, 0, err
		}
		if cur != nil && cur.SyncState == record.Dirty {
			kept++
			continue
		}

		obj := &localstore.Object{
			Ref:       ref,
			Fields:    make(map[string]record.Value, len(rec.Fields)),
			SyncState: record.UpToDate,
			ChangeTag: rec.ChangeTag,
		}
		for name, v := range rec.Fields {
			if name != record.ChildrenField {
				obj.Fields[name] = v
			}
		}
		if cur != nil {
			obj.Revision = cur.Revision
			obj.Parent = cur.Parent
			for name, v := range cur.Fields {
				if record.IsDeviceField(name) {
					obj.Fields[name] = v
				}
			}
		}
		if err := tx.Put(obj); err != nil {
			return 0, 0, err
		}
		applied = append(applied, rec)
		changed++
	}

	for _, rec := range applied {
		ref := localstore.Ref{Scope: scope, Type: rec.Type, ID: rec.ID}
		if rec.Parent == nil {
			if err := setParent(tx, ref, nil); err != nil {
				return 0, 0, err
			}
		} else if parent, err := tx.Find(scope, *rec.Parent); err == nil {
			if err := setParent(tx, ref, &parent.Ref); err != nil {
				return 0, 0, err
			}
		} else if !errors.Is(err, localstore.ErrNotFound) {
			return 0, 0, err
		}

		for _, childID := range rec.ChildIDs() {
			child, err := tx.Find(scope, childID)
			if errors.Is(err, localstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, 0, err
			}
			if err := setParent(tx, child.Ref, &ref); err != nil {
				return 0, 0, err
			}
		}
	}
	return changed, kept, nil
}

// setParent points the clean object at ref to parent. Dirty objects keep
// their local parent.
func setParent(tx localstore.Tx, ref localstore.Ref, parent *localstore.Ref) error {
	obj, err := tx.Lookup(ref)
	if err != nil {
		if errors.Is(err, localstore.ErrNotFound) {
			return nil
		}
		return err
	}
	if obj.SyncState == record.Dirty || sameRef(obj.Parent, parent) {
		return nil
	}
	obj.Parent = parent
	return tx.Put(obj)
}

func sameRef(a, b *localstore.Ref) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Resync rebuilds the local objects of one type in zone from a full remote
// query. Objects missing remotely are deleted unless they hold local edits
// that were never created remotely.
func (p *Puller) Resync(ctx context.Context, scope record.Scope, zone, typeName string) (Stats, error) {
	defer p.lock(scope, zone)()

	stats := Stats{Scope: scope, Zone: zone}
	seen := make(map[record.ID]struct{})
	cursor := ""
	for {
		var page remote.Page
		req := retry.Request{Name: "query", Scope: scope, Zone: zone}
		err := p.deps.Retrier.Do(ctx, req, func(ctx context.Context) error {
			var err error
			page, err = p.deps.Remote.Query(ctx, scope, remote.Query{
				Type:   typeName,
				Zone:   zone,
				Cursor: cursor,
				Limit:  p.cfg.PageSize,
			})
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("failed to query %s in zone %s: %w", typeName, zone, err)
		}

		p.observe(scope, page.Records)
		var changed, kept int
		err = p.deps.Local.Save(ctx, func(tx localstore.Tx) error {
			var err error
			changed, kept, err = applyRecords(tx, scope, page.Records)
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("failed to apply %s of zone %s: %w", typeName, zone, err)
		}
		for _, rec := range page.Records {
			seen[rec.ID] = struct{}{}
		}
		stats.Pages++
		stats.Changed += changed
		stats.Kept += kept

		cursor = page.Cursor
		if cursor == "" {
			break
		}
	}

	ids, err := p.deps.Local.ListIDs(ctx, scope, typeName, zone)
	if err != nil {
		return stats, err
	}
	var purge []record.ID
	err = p.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		purge = purge[:0]
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			ref := localstore.Ref{Scope: scope, Type: typeName, ID: id}
			obj, err := tx.Lookup(ref)
			if errors.Is(err, localstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if obj.SyncState == record.Dirty && obj.ChangeTag == "" {
				continue
			}
			if err := tx.Delete(ref); err != nil {
				return err
			}
			purge = append(purge, id)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to remove stale %s of zone %s: %w", typeName, zone, err)
	}
	p.purge(scope, purge)
	stats.Deleted = len(purge)

	p.logger.Info("Resynced type",
		zap.String("scope", string(scope)),
		zap.String("zone", zone),
		zap.String("type", typeName),
		zap.Int("changed", stats.Changed),
		zap.Int("deleted", stats.Deleted),
	)
	p.deps.Bus.Publish(PullCompleted{Stats: stats, Resync: true})
	return stats, nil
}
