package syncer

import (
	"context"
	"path/filepath"
	"testing"

	"record-sync/core/config"
	"record-sync/core/record"
	"record-sync/core/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Name = filepath.Join(t.TempDir(), "sync.db")
	cfg.Sync.Debounce = 0
	return cfg
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	engine, err := Open(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer engine.Close()

	svc := engine.Service
	require.NoError(t, svc.Connect(ctx))

	obj, res, err := svc.Create(ctx, record.ScopePrivate, "Note", "default", ObjectInput{
		Name:   "n1",
		Fields: map[string]record.Value{"title": record.String("persisted")},
	}, true)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, record.UpToDate, obj.SyncState)
	assert.NotEmpty(t, obj.ChangeTag)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.InProgress)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("RemoteDriver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Driver = "cloud"
		_, err := Open(context.Background(), cfg, zap.NewNop())
		assert.ErrorContains(t, err, "unsupported remote driver")
	})

	t.Run("DatabaseDriver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "oracle"
		_, err := Open(context.Background(), cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestNewRemote(t *testing.T) {
	rs, err := NewRemote(remote.Config{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, rs)
}
