package changefeed

import (
	"context"
	"errors"
	"testing"

	"record-sync/core/localstore"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/remote/mocks"
	"record-sync/core/retry"
	"record-sync/core/shadow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockPuller(t *testing.T, store *mocks.Store, local localstore.Store) *Puller {
	retrier := retry.New(retry.Config{MaxAttempts: 5}, nil, zap.NewNop())
	t.Cleanup(retrier.Close)
	return NewPuller(Config{PageSize: 2}, Deps{
		Remote:   store,
		Local:    local,
		Registry: shadow.NewRegistry(zap.NewNop()),
		Retrier:  retrier,
	}, zap.NewNop())
}

func TestPull_ContinuesFromPageTokens(t *testing.T) {
	store := new(mocks.Store)
	local := localstore.NewMemory()
	p := newMockPuller(t, store, local)
	ctx := context.Background()

	require.NoError(t, local.Save(ctx, func(tx localstore.Tx) error {
		return tx.SetToken(record.ScopePrivate, "default", "t0")
	}))

	rec := record.New("Note", record.ID{Zone: "default", Name: "a"})
	rec.ChangeTag = "v1"
	store.On("FetchChanges", mock.Anything, record.ScopePrivate, "default", remote.ChangeToken("t0"), 2).
		Return(remote.ChangePage{Changed: []*record.Record{rec}, Token: "t1", More: true}, nil).Once()
	store.On("FetchChanges", mock.Anything, record.ScopePrivate, "default", remote.ChangeToken("t1"), 2).
		Return(remote.ChangePage{Deleted: []record.ID{{Zone: "default", Name: "gone"}}, Token: "t2"}, nil).Once()

	stats, err := p.Pull(ctx, record.ScopePrivate, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, remote.ChangeToken("t2"), stats.Token)
	store.AssertExpectations(t)

	token, err := local.Token(ctx, record.ScopePrivate, "default")
	require.NoError(t, err)
	assert.Equal(t, remote.ChangeToken("t2"), token)
}

func TestPull_FailedPageKeepsEarlierToken(t *testing.T) {
	store := new(mocks.Store)
	local := localstore.NewMemory()
	p := newMockPuller(t, store, local)
	ctx := context.Background()

	store.On("FetchChanges", mock.Anything, record.ScopePrivate, "default", remote.ChangeToken(""), 2).
		Return(remote.ChangePage{Token: "t1", More: true}, nil).Once()
	store.On("FetchChanges", mock.Anything, record.ScopePrivate, "default", remote.ChangeToken("t1"), 2).
		Return(remote.ChangePage{}, &remote.Error{Code: remote.CodeOther, Err: errors.New("network down")}).Once()

	_, err := p.Pull(ctx, record.ScopePrivate, "default")
	require.Error(t, err)

	token, err := local.Token(ctx, record.ScopePrivate, "default")
	require.NoError(t, err)
	assert.Equal(t, remote.ChangeToken("t1"), token)
}
