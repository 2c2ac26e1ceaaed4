package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"record-sync/core/connectivity"
	"record-sync/core/record"
	"record-sync/core/remote"
	"record-sync/core/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRetrier(t *testing.T, conn *connectivity.Tracker) *retry.Retrier {
	r := retry.New(retry.Config{MaxAttempts: 5}, conn, zap.NewNop())
	t.Cleanup(r.Close)
	return r
}

func TestHandle_DecisionTable(t *testing.T) {
	plain := errors.New("disk full")
	conflict := remote.Conflict(record.ID{Zone: "z", Name: "a"}, nil)

	tests := []struct {
		name        string
		err         error
		wantHandled bool
		wantErr     error
	}{
		{"NoError", nil, false, nil},
		{"NotRemote", plain, true, plain},
		{"Conflict", conflict, true, conflict},
		{"RateLimitedWithoutDelay", &remote.Error{Code: remote.CodeRateLimited}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRetrier(t, nil)
			handled, surfaced := r.Handle(tt.err, retry.Request{Name: "modify"})
			assert.Equal(t, tt.wantHandled, handled)
			if tt.wantErr != nil {
				assert.Same(t, tt.wantErr, surfaced)
			} else if tt.err != nil {
				assert.Error(t, surfaced)
			} else {
				assert.NoError(t, surfaced)
			}
		})
	}
}

func TestHandle_AuthDemotes(t *testing.T) {
	tests := []struct {
		name  string
		start connectivity.State
		want  connectivity.State
	}{
		{"SigningIn", connectivity.SigningIn, connectivity.TokenFailed},
		{"Authenticated", connectivity.Authenticated, connectivity.NotLoggedIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := connectivity.NewTracker(nil, zap.NewNop())
			tr.Set(tt.start)
			r := newRetrier(t, tr)

			var resubmits int32
			handled, surfaced := r.Handle(remote.NotAuthenticated(nil), retry.Request{
				Name:     "fetch",
				Resubmit: func(context.Context, retry.Request) { atomic.AddInt32(&resubmits, 1) },
			})

			assert.False(t, handled)
			assert.True(t, remote.IsAuth(surfaced))
			assert.Equal(t, tt.want, tr.Current())
			assert.Empty(t, r.Pending())
			assert.Zero(t, atomic.LoadInt32(&resubmits))
		})
	}
}

func TestHandle_RateLimitedResubmitsOnceAfterDelay(t *testing.T) {
	r := newRetrier(t, nil)
	delay := 80 * time.Millisecond

	var resubmits int32
	var got retry.Request
	done := make(chan struct{})
	start := time.Now()
	var firedAfter time.Duration

	handled, surfaced := r.Handle(remote.RateLimited(delay), retry.Request{
		Name:  "modify",
		Scope: record.ScopePrivate,
		Zone:  "default",
		Resubmit: func(_ context.Context, next retry.Request) {
			firedAfter = time.Since(start)
			got = next
			atomic.AddInt32(&resubmits, 1)
			close(done)
		},
	})
	require.True(t, handled)
	require.NoError(t, surfaced)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "default", pending[0].Zone)
	assert.Equal(t, delay, pending[0].Delay)

	time.Sleep(delay / 4)
	assert.Zero(t, atomic.LoadInt32(&resubmits))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resubmission never happened")
	}
	time.Sleep(delay)

	assert.Equal(t, int32(1), atomic.LoadInt32(&resubmits))
	assert.GreaterOrEqual(t, firedAfter, delay)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "default", got.Zone)
	assert.Empty(t, r.Pending())
}

func TestHandle_PartialFailureAddressing(t *testing.T) {
	a := record.ID{Zone: "z", Name: "a"}
	b := record.ID{Zone: "z", Name: "b"}
	partial := remote.Partial([]remote.ItemError{
		{ID: a, Err: remote.Conflict(a, nil)},
		{ID: b, Err: remote.RateLimited(time.Hour)},
	})
	noop := func(context.Context, retry.Request) {}

	t.Run("TargetRateLimited", func(t *testing.T) {
		r := newRetrier(t, nil)
		handled, surfaced := r.Handle(partial, retry.Request{Name: "modify", Target: &b, Resubmit: noop})
		assert.True(t, handled)
		assert.NoError(t, surfaced)
		assert.Len(t, r.Pending(), 1)
	})

	t.Run("FirstItemWithoutTarget", func(t *testing.T) {
		r := newRetrier(t, nil)
		handled, surfaced := r.Handle(partial, retry.Request{Name: "modify", Resubmit: noop})
		assert.True(t, handled)
		assert.True(t, remote.IsCode(surfaced, remote.CodeConflict))
		assert.Empty(t, r.Pending())
	})
}

func TestHandle_AttemptsExhausted(t *testing.T) {
	r := retry.New(retry.Config{MaxAttempts: 2}, nil, zap.NewNop())
	defer r.Close()

	handled, surfaced := r.Handle(remote.RateLimited(time.Millisecond), retry.Request{
		Name:     "modify",
		Attempt:  2,
		Resubmit: func(context.Context, retry.Request) {},
	})
	assert.True(t, handled)
	assert.ErrorIs(t, surfaced, retry.ErrAttemptsExhausted)
	assert.True(t, remote.IsCode(surfaced, remote.CodeRateLimited))
}

func TestClose_CancelsPending(t *testing.T) {
	r := retry.New(retry.Config{}, nil, zap.NewNop())

	var resubmits int32
	handled, surfaced := r.Handle(remote.RateLimited(30*time.Millisecond), retry.Request{
		Name:     "fetch_changes",
		Resubmit: func(context.Context, retry.Request) { atomic.AddInt32(&resubmits, 1) },
	})
	require.True(t, handled)
	require.NoError(t, surfaced)

	r.Close()
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, atomic.LoadInt32(&resubmits))
	assert.Empty(t, r.Pending())

	handled, surfaced = r.Handle(remote.RateLimited(time.Millisecond), retry.Request{
		Name:     "fetch_changes",
		Resubmit: func(context.Context, retry.Request) {},
	})
	assert.True(t, handled)
	assert.ErrorIs(t, surfaced, retry.ErrClosed)
}

func TestDo(t *testing.T) {
	t.Run("RetriesUntilSuccess", func(t *testing.T) {
		r := newRetrier(t, nil)
		calls := 0
		err := r.Do(context.Background(), retry.Request{Name: "fetch"}, func(context.Context) error {
			calls++
			if calls < 3 {
				return remote.RateLimited(10 * time.Millisecond)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("SurfacesTerminalError", func(t *testing.T) {
		r := newRetrier(t, nil)
		err := r.Do(context.Background(), retry.Request{Name: "fetch"}, func(context.Context) error {
			return remote.UnknownItem(record.ID{Zone: "z", Name: "x"})
		})
		assert.True(t, remote.IsCode(err, remote.CodeUnknownItem))
	})

	t.Run("ContextCancelledWhileWaiting", func(t *testing.T) {
		r := newRetrier(t, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := r.Do(ctx, retry.Request{Name: "fetch"}, func(context.Context) error {
			return remote.RateLimited(time.Hour)
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, r.Pending())
	})

	t.Run("WaitsForSignIn", func(t *testing.T) {
		tr := connectivity.NewTracker(nil, zap.NewNop())
		tr.Set(connectivity.SigningIn)
		r := newRetrier(t, tr)

		go func() {
			time.Sleep(20 * time.Millisecond)
			tr.Set(connectivity.Authenticated)
		}()

		calls := 0
		err := r.Do(context.Background(), retry.Request{Name: "fetch"}, func(context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("AuthFailureSurfaces", func(t *testing.T) {
		tr := connectivity.NewTracker(nil, zap.NewNop())
		tr.Set(connectivity.Authenticated)
		r := newRetrier(t, tr)

		err := r.Do(context.Background(), retry.Request{Name: "modify"}, func(context.Context) error {
			return remote.NotAuthenticated(errors.New("token expired"))
		})
		assert.True(t, remote.IsAuth(err))
		assert.Equal(t, connectivity.NotLoggedIn, tr.Current())
	})
}

func TestBackoff(t *testing.T) {
	t.Run("WaitsServerDelay", func(t *testing.T) {
		r := newRetrier(t, nil)
		start := time.Now()
		next, err := r.Backoff(context.Background(), retry.Request{Name: "modify", Attempt: 1}, remote.RateLimited(20*time.Millisecond))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Equal(t, 2, next.Attempt)
		assert.Empty(t, r.Pending())
	})

	t.Run("SurfacesTerminalError", func(t *testing.T) {
		r := newRetrier(t, nil)
		conflict := remote.Conflict(record.ID{Zone: "z", Name: "a"}, nil)
		_, err := r.Backoff(context.Background(), retry.Request{Name: "modify"}, conflict)
		assert.Same(t, conflict, err)
	})

	t.Run("AttemptsExhausted", func(t *testing.T) {
		r := newRetrier(t, nil)
		_, err := r.Backoff(context.Background(), retry.Request{Name: "modify", Attempt: 5}, remote.RateLimited(time.Millisecond))
		assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
	})
}
