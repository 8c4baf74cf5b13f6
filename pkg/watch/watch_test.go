package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func object(name, namespace, rv string, lbls map[string]string) *meta.Object {
	return &meta.Object{
		TypeMeta: meta.TypeMeta{APIVersion: "example.com/v1", Kind: "Widget"},
		Metadata: meta.ObjectMeta{Name: name, Namespace: namespace, ResourceVersion: rv, Labels: lbls},
	}
}

type closeCountingSource struct {
	*Broadcaster
	closes int
	err    error
}

func (s *closeCountingSource) Close() error {
	s.closes++
	_ = s.Broadcaster.Close()
	return s.err
}

func TestBroadcasterOrderAndFilter(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	var got []string
	cancel := b.Subscribe(TypeFilter(Bookmark), func(e Event) {
		got = append(got, string(e.Type)+":"+e.ResourceVersion())
	})

	b.Publish(NewEvent(Created, object("a", "ns", "1", nil)))
	b.Publish(NewBookmark("2"))
	b.Publish(NewEvent(Updated, object("a", "ns", "3", nil)))
	cancel()
	b.Publish(NewEvent(Deleted, object("a", "ns", "4", nil)))

	assert.Equal(t, []string{"CREATED:1", "UPDATED:3"}, got)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcasterCancelFromHandler(t *testing.T) {
	b := NewBroadcaster()

	calls := 0
	var cancel func()
	cancel = b.Subscribe(nil, func(Event) {
		calls++
		cancel()
	})
	b.Publish(NewBookmark("1"))
	b.Publish(NewBookmark("2"))
	assert.Equal(t, 1, calls)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	noop := b.Subscribe(nil, func(Event) { calls++ })
	b.Publish(NewBookmark("3"))
	noop()
	assert.Equal(t, 1, calls)
}

func TestFilters(t *testing.T) {
	a := NewEvent(Updated, object("a", "ns1", "1", map[string]string{"tier": "web"}))
	other := NewEvent(Updated, object("b", "ns2", "1", nil))
	bookmark := NewBookmark("2")
	failure := NewError(problem.New(problem.NotFound, "gone"))

	id := IdentityFilter(meta.Identity{Name: "a", Namespace: "ns1"})
	assert.True(t, id(a))
	assert.False(t, id(other))
	assert.True(t, id(bookmark))
	assert.True(t, id(failure))
	assert.False(t, id(NewEvent(Updated, nil)))
	assert.False(t, id(NewEvent(Deleted, nil)))

	ns := NamespaceFilter("ns2")
	assert.False(t, ns(a))
	assert.True(t, ns(other))
	assert.True(t, NamespaceFilter("")(a))

	sel := SelectorFilter(labels.MustParseList("tier=web"))
	assert.True(t, sel(a))
	assert.False(t, sel(other))
	assert.True(t, sel(bookmark))

	both := And(ns, sel, nil)
	assert.False(t, both(a))
	assert.False(t, both(other))
	assert.True(t, both(bookmark))
}

func TestMonitorLifecycle(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	r1 := object("r", "ns", "1", nil)
	m, err := NewMonitor(b, r1, true)
	require.NoError(t, err)

	var forwarded []EventType
	m.Subscribe(func(e Event) { forwarded = append(forwarded, e.Type) })

	current, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, r1, current)

	r2 := object("r", "ns", "2", nil)
	b.Publish(NewEvent(Updated, r2))
	b.Publish(NewEvent(Updated, object("other", "ns", "2", nil)))
	current, _ = m.Current()
	assert.Same(t, r2, current)

	b.Publish(NewEvent(Deleted, object("r", "ns", "3", nil)))
	b.Publish(NewEvent(Updated, object("r", "ns", "4", nil)))

	current, ok = m.Current()
	assert.False(t, ok)
	assert.Nil(t, current)
	assert.True(t, m.Gone())
	assert.Equal(t, []EventType{Updated, Deleted}, forwarded)

	select {
	case <-m.Done():
	default:
		t.Fatal("monitor should be done after deletion")
	}
	assert.Equal(t, 0, b.Subscribers())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestMonitorBookmarkAndCreated(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	r1 := object("r", "ns", "1", nil)
	m, err := NewMonitor(b, r1, true)
	require.NoError(t, err)
	defer m.Close()

	var forwarded []EventType
	m.Subscribe(func(e Event) { forwarded = append(forwarded, e.Type) })

	b.Publish(NewBookmark("5"))
	b.Publish(NewEvent(Created, object("r", "ns", "6", nil)))

	current, ok := m.Current()
	assert.True(t, ok)
	assert.Same(t, r1, current)
	assert.Equal(t, []EventType{Bookmark, Created}, forwarded)
}

func TestMonitorIgnoresChangesWithoutResource(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	r1 := object("r", "ns", "1", nil)
	m, err := NewMonitor(b, r1, true)
	require.NoError(t, err)
	defer m.Close()

	var forwarded []EventType
	m.Subscribe(func(e Event) { forwarded = append(forwarded, e.Type) })

	b.Publish(NewEvent(Updated, nil))
	b.Publish(NewEvent(Deleted, nil))
	m.handle(NewEvent(Updated, nil))

	current, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, r1, current)
	assert.False(t, m.Gone())
	assert.Empty(t, forwarded)

	select {
	case <-m.Done():
		t.Fatal("monitor should stay open")
	default:
	}
}

func TestMonitorError(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	r1 := object("r", "ns", "1", nil)
	m, err := NewMonitor(b, r1, true)
	require.NoError(t, err)

	var last Event
	m.Subscribe(func(e Event) { last = e })

	b.Publish(NewError(problem.New(problem.NotFound, "compacted")))
	b.Publish(NewEvent(Updated, object("r", "ns", "2", nil)))

	assert.Equal(t, Error, last.Type)
	current, ok := m.Current()
	assert.True(t, ok)
	assert.Same(t, r1, current)
	assert.False(t, m.Gone())
	<-m.Done()
}

func TestMonitorOwnership(t *testing.T) {
	owned := &closeCountingSource{Broadcaster: NewBroadcaster(), err: errors.New("close failed")}
	m, err := NewMonitor(owned, object("r", "", "1", nil), false)
	require.NoError(t, err)

	assert.EqualError(t, m.Close(), "close failed")
	assert.NoError(t, m.Close())
	assert.Equal(t, 1, owned.closes)

	shared := &closeCountingSource{Broadcaster: NewBroadcaster()}
	m, err = NewMonitor(shared, object("r", "", "1", nil), true)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Equal(t, 0, shared.closes)
	assert.Equal(t, 0, shared.Subscribers())

	_, err = NewMonitor(shared, nil, true)
	assert.Error(t, err)
	_, err = NewMonitor(nil, object("r", "", "1", nil), true)
	assert.Error(t, err)
}

func TestMonitorConcurrentClose(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	m, err := NewMonitor(b, object("r", "ns", "0", nil), true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.Publish(NewEvent(Updated, object("r", "ns", "x", nil)))
		}
	}()
	go func() {
		defer wg.Done()
		_ = m.Close()
	}()
	wg.Wait()

	<-m.Done()
	assert.Equal(t, 0, b.Subscribers())
}

func TestStream(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := Stream(b, nil, 1)

	go func() {
		b.Publish(NewBookmark("1"))
		b.Publish(NewBookmark("2"))
	}()

	select {
	case e := <-ch:
		assert.Equal(t, "1", e.ResourceVersion())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case e := <-ch:
		assert.Equal(t, "2", e.ResourceVersion())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())
}

func TestStreamCancelReleasesPublisher(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, cancel := Stream(b, nil, 0)

	published := make(chan struct{})
	go func() {
		b.Publish(NewBookmark("1"))
		close(published)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after cancel")
	}
}
