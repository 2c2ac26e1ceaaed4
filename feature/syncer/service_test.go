package syncer

import (
	"context"
	"testing"
	"time"

	"record-sync/core/assets"
	"record-sync/core/changefeed"
	"record-sync/core/connectivity"
	"record-sync/core/events"
	"record-sync/core/localstore"
	"record-sync/core/reconcile"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/remote/memstore"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	remote  *memstore.Store
	local   *localstore.Memory
	tracker *connectivity.Tracker
	bus     *events.Bus
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	logger := zap.NewNop()
	f := &fixture{
		remote: memstore.New(),
		local:  localstore.NewMemory(),
		bus:    events.NewBus(32),
	}
	f.tracker = connectivity.NewTracker(f.bus, logger)
	retrier := retry.New(retry.Config{MaxAttempts: 5}, f.tracker, logger)
	registry := shadow.NewRegistry(logger)
	stager := assets.NewStager(nil, "record-assets", logger)

	scheduler := reconcile.NewScheduler(reconcile.Config{Debounce: 10 * time.Millisecond}, reconcile.Deps{
		Remote:   f.remote,
		Local:    f.local,
		Registry: registry,
		Retrier:  retrier,
		Stager:   stager,
		Bus:      f.bus,
	}, logger)
	feed := changefeed.Config{PageSize: 50, Scope: "private", Zones: []string{"default"}}
	puller := changefeed.NewPuller(feed, changefeed.Deps{
		Remote:   f.remote,
		Local:    f.local,
		Registry: registry,
		Retrier:  retrier,
		Bus:      f.bus,
	}, logger)

	f.svc = NewService(Deps{
		Remote:    f.remote,
		Local:     f.local,
		Tracker:   f.tracker,
		Retrier:   retrier,
		Scheduler: scheduler,
		Puller:    puller,
		Stager:    stager,
		Bus:       f.bus,
	}, feed, logger)

	t.Cleanup(func() {
		scheduler.Close()
		retrier.Close()
	})
	return f
}

func noteRef(name string) localstore.Ref {
	return localstore.Ref{Scope: record.ScopePrivate, Type: "Note", ID: record.ID{Zone: "default", Name: name}}
}

func (f *fixture) connect(t *testing.T) {
	require.NoError(t, f.svc.Connect(context.Background()))
}

func TestService_Connect(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	assert.Equal(t, connectivity.Authenticated, f.tracker.Current())
	assert.Equal(t, 1, f.remote.Calls(memstore.OpEnsureZones))

	var states []connectivity.State
	for _, env := range f.bus.Recent() {
		if ch, ok := env.Event.(connectivity.Changed); ok {
			states = append(states, ch.To)
		}
	}
	assert.Equal(t, []connectivity.State{connectivity.SigningIn, connectivity.Authenticated}, states)
}

func TestService_ConnectDenied(t *testing.T) {
	f := newFixture(t)
	f.remote.SetAccountStatus(remote.AccountNoAccount)

	err := f.svc.Connect(context.Background())
	assert.ErrorContains(t, err, "no_account")
	assert.Equal(t, connectivity.Denied, f.tracker.Current())
}

func TestService_ConnectTokenFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext(memstore.OpAccount, remote.NotAuthenticated(nil))

	err := f.svc.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, connectivity.TokenFailed, f.tracker.Current())
}

func TestService_CreateAndWait(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	obj, res, err := f.svc.Create(context.Background(), record.ScopePrivate, "Note", "default", ObjectInput{
		Name:   "n1",
		Fields: map[string]record.Value{"title": record.String("hello")},
	}, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, reconcile.StatusSaved, res.Outcomes[0].Status)
	assert.Equal(t, record.UpToDate, obj.SyncState)

	rec, ok := f.remote.Get(record.ScopePrivate, noteRef("n1").ID)
	require.True(t, ok)
	assert.True(t, record.Equal(record.String("hello"), rec.Get("title")))
}

func TestService_CreateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, "bogus", "Note", "default", ObjectInput{}, false)
	assert.ErrorIs(t, err, ErrInvalid)

	_, _, err = f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{Name: "dup"}, false)
	require.NoError(t, err)
	_, _, err = f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{Name: "dup"}, false)
	assert.ErrorIs(t, err, ErrInvalid)

	missing := noteRef("nowhere")
	_, _, err = f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{Parent: &missing}, false)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestService_UpdateMergesFields(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{
		Name: "n1",
		Fields: map[string]record.Value{
			"title": record.String("hello"),
			"body":  record.String("text"),
		},
	}, true)
	require.NoError(t, err)

	obj, res, err := f.svc.Update(ctx, noteRef("n1"), ObjectInput{
		Fields: map[string]record.Value{
			"body":  record.Null(),
			"stars": record.Int(5),
		},
	}, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NoError(t, res.Err)
	assert.NotContains(t, obj.Fields, "body")
	assert.True(t, record.Equal(record.String("hello"), obj.Fields["title"]))

	rec, ok := f.remote.Get(record.ScopePrivate, noteRef("n1").ID)
	require.True(t, ok)
	assert.True(t, rec.Get("body").IsNull())
	assert.True(t, record.Equal(record.Int(5), rec.Get("stars")))
}

func TestService_UpdateMissing(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Update(context.Background(), noteRef("ghost"), ObjectInput{}, false)
	assert.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestService_Resume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := noteRef("interrupted")

	err := f.local.Save(ctx, func(tx localstore.Tx) error {
		obj := &localstore.Object{
			Ref:       ref,
			Fields:    map[string]record.Value{"title": record.String("left over")},
			SyncState: record.Dirty,
			Revision:  1,
		}
		if err := tx.Put(obj); err != nil {
			return err
		}
		return tx.MarkInProgress(ref, true)
	})
	require.NoError(t, err)
	f.connect(t)

	n, err := f.svc.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		refs, err := f.local.InProgress(ctx)
		return err == nil && len(refs) == 0
	}, 5*time.Second, 10*time.Millisecond)
	_, ok := f.remote.Get(record.ScopePrivate, ref.ID)
	assert.True(t, ok)
}

func TestService_DeleteAndPull(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{Name: "n1"}, true)
	require.NoError(t, err)

	ids, err := f.svc.Delete(ctx, noteRef("n1"))
	require.NoError(t, err)
	assert.Equal(t, []record.ID{noteRef("n1").ID}, ids)
	_, ok := f.remote.Get(record.ScopePrivate, noteRef("n1").ID)
	assert.False(t, ok)

	rec := record.New("Note", record.ID{Zone: "default", Name: "remote"})
	f.remote.Put(record.ScopePrivate, rec)
	stats, err := f.svc.Pull(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Changed)

	_, err = f.svc.Get(ctx, noteRef("remote"))
	assert.NoError(t, err)
}

func TestService_Status(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, connectivity.NotLoggedIn, st.Connectivity)
	assert.Zero(t, st.InProgress)
	assert.Empty(t, st.Retries)
}

func TestService_OpenAssetWithoutStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{
		Name:   "n1",
		Fields: map[string]record.Value{"cover": record.StoredAsset("sha256/abc")},
	}, false)
	require.NoError(t, err)

	_, err = f.svc.OpenAsset(ctx, noteRef("n1"), "cover")
	assert.ErrorIs(t, err, assets.ErrStorageDisabled)

	_, err = f.svc.OpenAsset(ctx, noteRef("n1"), "missing")
	assert.ErrorIs(t, err, ErrInvalid)
}
