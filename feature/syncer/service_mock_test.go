package syncer

import (
	"context"
	"errors"
	"testing"

	"record-sync/core/changefeed"
	"record-sync/core/connectivity"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/remote/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestService_ConnectFailures(t *testing.T) {
	feed := changefeed.Config{Scope: "shared", Zones: []string{"a", "b"}}

	tests := []struct {
		name  string
		setup func(m *mocks.Store)
		want  connectivity.State
	}{
		{
			name: "AccountLookupFails",
			setup: func(m *mocks.Store) {
				m.On("AccountStatus", mock.Anything).Return(remote.AccountUnknown, errors.New("offline"))
			},
			want: connectivity.NotLoggedIn,
		},
		{
			name: "Restricted",
			setup: func(m *mocks.Store) {
				m.On("AccountStatus", mock.Anything).Return(remote.AccountRestricted, nil)
			},
			want: connectivity.Denied,
		},
		{
			name: "ZoneSetupFails",
			setup: func(m *mocks.Store) {
				m.On("AccountStatus", mock.Anything).Return(remote.AccountAvailable, nil)
				m.On("EnsureZones", mock.Anything, record.ScopeShared, []string{"a", "b"}).Return(errors.New("quota"))
			},
			want: connectivity.NotLoggedIn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mocks.Store)
			tt.setup(store)
			tracker := connectivity.NewTracker(nil, zap.NewNop())
			svc := NewService(Deps{Remote: store, Tracker: tracker}, feed, zap.NewNop())

			assert.Error(t, svc.Connect(context.Background()))
			assert.Equal(t, tt.want, tracker.Current())
			store.AssertExpectations(t)
		})
	}
}
