package remote_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"record-sync/core/record"
	"record-sync/core/remote"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	a := record.ID{Zone: "z", Name: "a"}
	b := record.ID{Zone: "z", Name: "b"}
	errA := remote.Conflict(a, nil)
	errB := remote.RateLimited(2 * time.Second)
	partial := remote.Partial([]remote.ItemError{{ID: a, Err: errA}, {ID: b, Err: errB}})

	t.Run("ItemOfInterest", func(t *testing.T) {
		assert.Same(t, errB, remote.Resolve(partial, &b))
	})

	t.Run("FallsBackToFirst", func(t *testing.T) {
		other := record.ID{Zone: "z", Name: "c"}
		assert.Same(t, errA, remote.Resolve(partial, &other))
		assert.Same(t, errA, remote.Resolve(partial, nil))
	})

	t.Run("NonPartialUnchanged", func(t *testing.T) {
		err := remote.UnknownItem(a)
		assert.Same(t, err, remote.Resolve(err, &a))
	})

	t.Run("PlainError", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, err, remote.Resolve(err, nil))
	})
}

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("failed to modify: %w", remote.RateLimited(3*time.Second))

	assert.Equal(t, remote.CodeRateLimited, remote.CodeOf(wrapped))
	assert.True(t, remote.IsCode(wrapped, remote.CodeRateLimited))
	assert.Equal(t, remote.CodeOther, remote.CodeOf(errors.New("plain")))

	delay, ok := remote.RetryDelay(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, delay)

	_, ok = remote.RetryDelay(&remote.Error{Code: remote.CodeConflict, RetryAfter: time.Second})
	assert.False(t, ok)

	assert.True(t, remote.IsAuth(remote.NotAuthenticated(nil)))
	assert.True(t, remote.IsAuth(&remote.Error{Code: remote.CodePermissionFailure}))
	assert.False(t, remote.IsAuth(remote.Conflict(record.ID{}, nil)))

	assert.Contains(t, remote.RateLimited(time.Second).Error(), "rate_limited")
}
