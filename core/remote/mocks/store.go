package mocks

import (
	"context"

	"record-sync/core/record"
	"record-sync/core/remote"

	"github.com/stretchr/testify/mock"
)

// Store is a mock implementation of remote.Store
type Store struct {
	mock.Mock
}

func (m *Store) AccountStatus(ctx context.Context) (remote.AccountStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(remote.AccountStatus), args.Error(1)
}

func (m *Store) EnsureZones(ctx context.Context, scope record.Scope, zones []string) error {
	args := m.Called(ctx, scope, zones)
	return args.Error(0)
}

func (m *Store) Fetch(ctx context.Context, scope record.Scope, ids []record.ID) (map[record.ID]*record.Record, error) {
	args := m.Called(ctx, scope, ids)
	if found, ok := args.Get(0).(map[record.ID]*record.Record); ok {
		return found, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Store) Query(ctx context.Context, scope record.Scope, q remote.Query) (remote.Page, error) {
	args := m.Called(ctx, scope, q)
	return args.Get(0).(remote.Page), args.Error(1)
}

func (m *Store) Modify(ctx context.Context, scope record.Scope, save []*record.Record, del []record.ID) (remote.ModifyResult, error) {
	args := m.Called(ctx, scope, save, del)
	return args.Get(0).(remote.ModifyResult), args.Error(1)
}

func (m *Store) FetchChanges(ctx context.Context, scope record.Scope, zone string, since remote.ChangeToken, limit int) (remote.ChangePage, error) {
	args := m.Called(ctx, scope, zone, since, limit)
	return args.Get(0).(remote.ChangePage), args.Error(1)
}
