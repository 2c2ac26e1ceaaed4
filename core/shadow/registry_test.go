package shadow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"record-sync/core/record"
	"record-sync/core/shadow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_Identity(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())

	a := reg.Acquire(scope, id("o1"), "Order")
	b := reg.Acquire(scope, id("o1"), "")
	assert.Same(t, a, b)
	assert.Equal(t, "Order", b.Type())

	other := reg.Acquire(record.ScopeShared, id("o1"), "Order")
	assert.NotSame(t, a, other, "scopes are separate namespaces")
}

func TestRegistry_ConcurrentCallersConverge(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())

	const callers = 32
	got := make([]*shadow.Shadow, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				got[i] = reg.Acquire(scope, id("o1"), "Order")
			} else {
				got[i] = reg.Observe(scope, committedOrder("o1", 10))
			}
		}(i)
	}
	wg.Wait()

	for _, s := range got {
		assert.Same(t, got[0], s)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ReleaseEvicts(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())

	a := reg.Acquire(scope, id("o1"), "Order")
	b := reg.Acquire(scope, id("o1"), "Order")
	a.Write("total", record.Int(1))

	reg.Release(a)
	_, ok := reg.Lookup(scope, id("o1"))
	assert.True(t, ok, "still referenced")

	reg.Release(b)
	_, ok = reg.Lookup(scope, id("o1"))
	assert.False(t, ok)

	fresh := reg.Acquire(scope, id("o1"), "Order")
	assert.NotSame(t, a, fresh)
	assert.Empty(t, fresh.DirtyKeys())
}

func TestRegistry_LinkedShadowsStayResident(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())
	p := reg.Acquire(scope, id("p"), "Order")
	c := reg.Acquire(scope, id("c"), "Line")
	c.SetParent(p)

	reg.Release(c)
	reg.Release(p)
	assert.Equal(t, 2, reg.Len())

	again := reg.Acquire(scope, id("c"), "")
	assert.Same(t, c, again)

	again.SetParent(nil)
	reg.Release(again)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ObserveLinksHierarchy(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())

	parent := record.New("Order", id("p"))
	parent.Set(record.ChildrenField, record.List(record.Ref(id("c1")), record.Ref(id("c2"))))
	parent.ChangeTag = "t"
	child := record.New("Line", id("c1"))
	pid := id("p")
	child.Parent = &pid
	child.ChangeTag = "t"

	c := reg.Observe(scope, child)
	p := reg.Observe(scope, parent)

	assert.Same(t, p, c.Parent())
	require.Len(t, p.Children(), 2)
	assert.Same(t, c, p.Children()[0])
	assert.False(t, p.HasChanges(), "server-provided links are not local changes")
}

func TestRegistry_ObserveKeepsLocalEdits(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())
	s := reg.Observe(scope, committedOrder("o1", 10))
	s.Write("note", record.String("mine"))

	reg.Observe(scope, committedOrder("o1", 11))
	assert.Equal(t, []string{"note"}, s.DirtyKeys())
	assert.True(t, record.Equal(record.Int(11), s.Read("total")))
}

func TestRegistry_Purge(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())
	p := reg.Acquire(scope, id("p"), "Order")
	c := reg.Acquire(scope, id("c"), "Line")
	c.SetParent(p)
	p.Commit(nil)

	reg.Purge(c)
	_, ok := reg.Lookup(scope, id("c"))
	assert.False(t, ok)
	assert.Empty(t, p.Children())
	assert.True(t, p.HasChanges())
}

func TestRegistry_RefreshSharesFetch(t *testing.T) {
	reg := shadow.NewRegistry(zap.NewNop())
	s := reg.Observe(scope, committedOrder("o1", 10))
	s.Write("total", record.Int(20))
	s.Write("note", record.String("mine"))

	var fetches int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (*record.Record, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		fresh := committedOrder("o1", 20)
		fresh.ChangeTag = "tag-2"
		return fresh, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = reg.Refresh(context.Background(), s, fetch)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	assert.Equal(t, []string{"note"}, s.DirtyKeys())
	assert.Equal(t, "tag-2", s.Committed().ChangeTag)

	err := reg.Refresh(context.Background(), s, func(context.Context) (*record.Record, error) {
		return nil, errors.New("offline")
	})
	assert.Error(t, err)
}
