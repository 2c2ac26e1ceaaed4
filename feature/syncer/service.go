package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"record-sync/core/assets"
	"record-sync/core/changefeed"
	"record-sync/core/connectivity"
	"record-sync/core/events"
	"record-sync/core/localstore"
	"record-sync/core/reconcile"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/retry"

	"go.uber.org/zap"
)

// ErrInvalid marks requests that name an unusable scope, parent or field.
var ErrInvalid = errors.New("invalid request")

// Deps are the engine components a Service fronts.
type Deps struct {
	Remote    remote.Store
	Local     localstore.Store
	Tracker   *connectivity.Tracker
	Retrier   *retry.Retrier
	Scheduler *reconcile.Scheduler
	Puller    *changefeed.Puller
	Stager    *assets.Stager
	Bus       *events.Bus
}

// Service exposes the sync engine to the HTTP surface and the CLI.
type Service struct {
	deps   Deps
	feed   changefeed.Config
	logger *zap.Logger
}

// NewService creates a new sync service.
func NewService(deps Deps, feed changefeed.Config, logger *zap.Logger) *Service {
	return &Service{deps: deps, feed: feed, logger: logger}
}

// Status describes the engine at a glance.
type Status struct {
	Connectivity connectivity.State   `json:"connectivity"`
	Scheduler    reconcile.Stats      `json:"scheduler"`
	Retries      []retry.PendingRetry `json:"retries"`
	InProgress   int                  `json:"in_progress"`
}

// ObjectInput carries a create or update request.
type ObjectInput struct {
	// Name picks the record name on create. A random one is used when empty.
	Name string `json:"name,omitempty"`
	// Fields are merged into the object. Null values remove fields.
	Fields map[string]record.Value `json:"fields"`
	// Parent moves the object under another object of the same scope.
	Parent *localstore.Ref `json:"parent,omitempty"`
	// Orphan detaches the object from its parent.
	Orphan bool `json:"orphan,omitempty"`
}

// Connect signs in to the remote account and creates the configured zones.
// Remote work waits while signing in and fails fast in any other state
// than authenticated.
func (s *Service) Connect(ctx context.Context) error {
	s.deps.Tracker.Set(connectivity.SigningIn)

	status, err := s.deps.Remote.AccountStatus(ctx)
	if err != nil {
		if remote.IsAuth(err) {
			s.deps.Tracker.Demote()
		} else {
			s.deps.Tracker.Set(connectivity.NotLoggedIn)
		}
		return fmt.Errorf("failed to check account status: %w", err)
	}
	if status != remote.AccountAvailable {
		s.deps.Tracker.Set(connectivity.Denied)
		return fmt.Errorf("remote account is %s", status)
	}

	scope := record.Scope(s.feed.Scope)
	if err := s.deps.Remote.EnsureZones(ctx, scope, s.feed.Zones); err != nil {
		s.deps.Tracker.Set(connectivity.NotLoggedIn)
		return fmt.Errorf("failed to create zones: %w", err)
	}

	s.deps.Tracker.Set(connectivity.Authenticated)
	s.logger.Info("Connected to remote store",
		zap.String("scope", s.feed.Scope),
		zap.Strings("zones", s.feed.Zones),
	)
	return nil
}

// Resume queues every object whose sync started but never finished.
func (s *Service) Resume(ctx context.Context) (int, error) {
	refs, err := s.deps.Local.InProgress(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list objects in progress: %w", err)
	}
	if err := s.deps.Scheduler.Enqueue(ctx, nil, refs...); err != nil {
		return 0, err
	}
	if len(refs) > 0 {
		s.logger.Info("Resumed interrupted sync", zap.Int("objects", len(refs)))
	}
	return len(refs), nil
}

// Status reports connectivity, scheduler and retry state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	stats, err := s.deps.Scheduler.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	refs, err := s.deps.Local.InProgress(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Connectivity: s.deps.Tracker.Current(),
		Scheduler:    stats,
		Retries:      s.deps.Retrier.Pending(),
		InProgress:   len(refs),
	}, nil
}

// Events returns the most recent engine events.
func (s *Service) Events() []events.Envelope {
	return s.deps.Bus.Recent()
}

// Pull pulls one zone of the configured scope, or every configured zone when
// zone is empty.
func (s *Service) Pull(ctx context.Context, zone string) ([]changefeed.Stats, error) {
	if zone == "" {
		return s.deps.Puller.PullAll(ctx)
	}
	st, err := s.deps.Puller.Pull(ctx, record.Scope(s.feed.Scope), zone)
	return []changefeed.Stats{st}, err
}

// Resync rebuilds one type of a zone in the configured scope.
func (s *Service) Resync(ctx context.Context, zone, typeName string) (changefeed.Stats, error) {
	return s.deps.Puller.Resync(ctx, record.Scope(s.feed.Scope), zone, typeName)
}

// Run pulls periodically until ctx ends.
func (s *Service) Run(ctx context.Context) {
	s.deps.Puller.Run(ctx)
}

// Get returns the local object at ref.
func (s *Service) Get(ctx context.Context, ref localstore.Ref) (*localstore.Object, error) {
	return s.deps.Local.Lookup(ctx, ref)
}

// Create stores a new local object and schedules its upload. With wait set
// it returns once the covering pass finished.
func (s *Service) Create(ctx context.Context, scope record.Scope, typeName, zone string, in ObjectInput, wait bool) (*localstore.Object, *reconcile.Result, error) {
	if err := validateRef(scope, typeName, zone); err != nil {
		return nil, nil, err
	}
	id := record.NewID(zone)
	if in.Name != "" {
		id.Name = in.Name
	}
	ref := localstore.Ref{Scope: scope, Type: typeName, ID: id}
	if err := checkParent(ref, in.Parent); err != nil {
		return nil, nil, err
	}
	if in.Parent != nil {
		if _, err := s.deps.Local.Lookup(ctx, *in.Parent); err != nil {
			return nil, nil, fmt.Errorf("parent %s: %w", in.Parent, err)
		}
	}

	obj := &localstore.Object{Ref: ref, Fields: make(map[string]record.Value), Parent: in.Parent}
	mergeFields(obj, in.Fields)
	if _, inserted, err := s.deps.Local.InsertIfAbsent(ctx, obj); err != nil {
		return nil, nil, err
	} else if !inserted {
		return nil, nil, fmt.Errorf("%w: %s already exists", ErrInvalid, ref)
	}

	return s.schedule(ctx, ref, wait)
}

// Update merges in into the object at ref and schedules its upload.
func (s *Service) Update(ctx context.Context, ref localstore.Ref, in ObjectInput, wait bool) (*localstore.Object, *reconcile.Result, error) {
	if err := checkParent(ref, in.Parent); err != nil {
		return nil, nil, err
	}
	err := s.deps.Local.Save(ctx, func(tx localstore.Tx) error {
		obj, err := tx.Lookup(ref)
		if err != nil {
			return err
		}
		if in.Parent != nil {
			if _, err := tx.Lookup(*in.Parent); err != nil {
				return fmt.Errorf("parent %s: %w", in.Parent, err)
			}
			obj.Parent = in.Parent
		} else if in.Orphan {
			obj.Parent = nil
		}
		mergeFields(obj, in.Fields)
		return tx.Put(obj)
	})
	if err != nil {
		return nil, nil, err
	}
	return s.schedule(ctx, ref, wait)
}

func (s *Service) schedule(ctx context.Context, ref localstore.Ref, wait bool) (*localstore.Object, *reconcile.Result, error) {
	var res *reconcile.Result
	if wait {
		r, err := s.deps.Scheduler.Sync(ctx, ref)
		if err != nil && r.Pass == 0 {
			return nil, nil, err
		}
		res = &r
	} else if err := s.deps.Scheduler.MarkDirty(ctx, nil, ref); err != nil {
		return nil, nil, err
	}

	obj, err := s.deps.Local.Lookup(ctx, ref)
	if errors.Is(err, localstore.ErrNotFound) && res != nil {
		// dropped by the pass
		return nil, res, nil
	}
	return obj, res, err
}

// Delete removes the object at ref and its descendants everywhere.
func (s *Service) Delete(ctx context.Context, ref localstore.Ref) ([]record.ID, error) {
	return s.deps.Scheduler.Delete(ctx, ref)
}

// OpenAsset streams the stored content of an asset field.
func (s *Service) OpenAsset(ctx context.Context, ref localstore.Ref, field string) (io.ReadCloser, error) {
	obj, err := s.deps.Local.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	a, ok := obj.Fields[field].AsAsset()
	if !ok {
		return nil, fmt.Errorf("%w: field %s is not an asset", ErrInvalid, field)
	}
	return s.deps.Stager.Open(ctx, a)
}

func validateRef(scope record.Scope, typeName, zone string) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalid, scope)
	}
	if typeName == "" || zone == "" {
		return fmt.Errorf("%w: type and zone are required", ErrInvalid)
	}
	return nil
}

func checkParent(ref localstore.Ref, parent *localstore.Ref) error {
	if parent == nil {
		return nil
	}
	if parent.Scope != ref.Scope {
		return fmt.Errorf("%w: parent must share scope %s", ErrInvalid, ref.Scope)
	}
	if parent.ID == ref.ID {
		return fmt.Errorf("%w: object cannot be its own parent", ErrInvalid)
	}
	return nil
}

func mergeFields(obj *localstore.Object, fields map[string]record.Value) {
	if obj.Fields == nil {
		obj.Fields = make(map[string]record.Value, len(fields))
	}
	for name, v := range fields {
		if name == record.ChildrenField {
			continue
		}
		if v.IsNull() {
			delete(obj.Fields, name)
			continue
		}
		obj.Fields[name] = v
	}
}
