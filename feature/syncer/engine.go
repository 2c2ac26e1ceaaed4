package syncer

import (
	"context"
	"fmt"
	"strings"

	"record-sync/core/assets"
	"record-sync/core/changefeed"
	"record-sync/core/config"
	"record-sync/core/connectivity"
	"record-sync/core/database"
	"record-sync/core/events"
	"record-sync/core/localstore"
	"record-sync/core/reconcile"
	"record-sync/core/remote"
	"record-sync/core/remote/memstore"
	"record-sync/core/retry"
	"record-sync/core/shadow"
	"record-sync/core/storage"

	"go.uber.org/zap"
)

// eventHistory is how many events the bus keeps for /sync/events.
const eventHistory = 256

// Engine owns every component built from a Config.
type Engine struct {
	Service *Service
	closers []func()
}

// Open connects the local database, the remote store and the optional asset
// storage, then starts the scheduler. Close releases everything.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	e.closers = append(e.closers, func() { _ = sqlDB.Close() })

	local := localstore.NewGormStore(db)
	if err := local.Migrate(ctx); err != nil {
		e.Close()
		return nil, err
	}
	missing, err := local.Verify(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to inspect sync tables: %w", err)
	}
	if len(missing) > 0 {
		e.Close()
		return nil, fmt.Errorf("sync tables are missing columns: %s", strings.Join(missing, ", "))
	}

	rs, err := NewRemote(cfg.Remote)
	if err != nil {
		e.Close()
		return nil, err
	}

	stager, err := newStager(ctx, cfg.Storage, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	bus := events.NewBus(eventHistory)
	tracker := connectivity.NewTracker(bus, logger)
	retrier := retry.New(cfg.Retry, tracker, logger)
	registry := shadow.NewRegistry(logger)

	scheduler := reconcile.NewScheduler(cfg.Sync, reconcile.Deps{
		Remote:   rs,
		Local:    local,
		Registry: registry,
		Retrier:  retrier,
		Stager:   stager,
		Bus:      bus,
	}, logger)
	// Closers run in reverse: the scheduler stops before the retrier and the database.
	e.closers = append(e.closers, retrier.Close, scheduler.Close)

	puller := changefeed.NewPuller(cfg.Feed, changefeed.Deps{
		Remote:   rs,
		Local:    local,
		Registry: registry,
		Retrier:  retrier,
		Bus:      bus,
	}, logger)

	e.Service = NewService(Deps{
		Remote:    rs,
		Local:     local,
		Tracker:   tracker,
		Retrier:   retrier,
		Scheduler: scheduler,
		Puller:    puller,
		Stager:    stager,
		Bus:       bus,
	}, cfg.Feed, logger)
	return e, nil
}

// Close stops the engine and closes its connections.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// NewRemote builds the remote store named by cfg.Driver.
func NewRemote(cfg remote.Config) (remote.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported remote driver: %s", cfg.Driver)
	}
}

func newStager(ctx context.Context, cfg storage.Config, logger *zap.Logger) (*assets.Stager, error) {
	if !cfg.Enabled {
		return assets.NewStager(nil, cfg.Bucket, logger), nil
	}
	client, err := storage.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	stager := assets.NewStager(client, cfg.Bucket, logger)
	if err := stager.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return stager, nil
}
