package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/conversion"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

func storedWidget(name, namespace, rv string, lbls map[string]string) *meta.Object {
	return &meta.Object{
		TypeMeta: meta.TypeMeta{APIVersion: "example.com/v2", Kind: "Widget"},
		Metadata: meta.ObjectMeta{Name: name, Namespace: namespace, ResourceVersion: rv, Labels: lbls, UID: "uid-" + name},
		Spec:     json.RawMessage(`{"size":1}`),
	}
}

func receive(t *testing.T, events <-chan watch.Event) watch.Event {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "event stream closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return watch.Event{}
	}
}

func TestWatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	events, stop, err := env.service.Watch(context.Background(), widgetParams("v1", ""), labels.MustParseList("tier=web"), "4")
	require.NoError(t, err)

	source := env.opener.last(t)
	assert.Equal(t, types.NewResourceKey("example.com", "widgets", "default"), source.key)
	assert.Equal(t, int64(4), source.from)
	assert.True(t, source.started.Load())

	source.Publish(watch.NewEvent(watch.Created, storedWidget("a", "default", "5", map[string]string{"tier": "db"})))
	source.Publish(watch.NewEvent(watch.Created, storedWidget("b", "default", "6", map[string]string{"tier": "web"})))
	source.Publish(watch.NewBookmark("7"))
	source.Publish(watch.NewEvent(watch.Deleted, &meta.Object{Metadata: meta.ObjectMeta{Name: "b", Namespace: "default", ResourceVersion: "8"}}))

	created := receive(t, events)
	assert.Equal(t, watch.Created, created.Type)
	assert.Equal(t, "b", created.Resource.Metadata.Name)
	assert.Equal(t, "example.com/v1", created.Resource.APIVersion)
	assert.Equal(t, "uid-b", created.Resource.Metadata.UID)
	assert.Equal(t, "6", created.ResourceVersion())

	bookmark := receive(t, events)
	assert.Equal(t, watch.Bookmark, bookmark.Type)
	assert.Equal(t, "7", bookmark.ResourceVersion())

	stop()
	stop()
	assert.True(t, source.closed.Load())
	_, open := <-events
	assert.False(t, open)

	series, err := testutil.GatherAndCount(env.metrics.Registry(), "themelio_watch_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, series)
}

func TestWatchWithoutSelectors(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	events, stop, err := env.service.Watch(context.Background(), Params{Group: "example.com", Version: "v2", Plural: "widgets"}, nil, "")
	require.NoError(t, err)
	defer stop()

	source := env.opener.last(t)
	assert.Equal(t, types.NewResourceKey("example.com", "widgets", ""), source.key)
	assert.Equal(t, int64(0), source.from)

	source.Publish(watch.NewEvent(watch.Updated, storedWidget("a", "default", "2", nil)))
	source.Publish(watch.NewEvent(watch.Deleted, &meta.Object{Metadata: meta.ObjectMeta{Name: "a", Namespace: "default", ResourceVersion: "3"}}))

	updated := receive(t, events)
	assert.Equal(t, watch.Updated, updated.Type)
	assert.Equal(t, "example.com/v2", updated.Resource.APIVersion)

	deleted := receive(t, events)
	assert.Equal(t, watch.Deleted, deleted.Type)
	assert.Equal(t, "3", deleted.ResourceVersion())
}

func TestWatchRejections(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, _, err := env.service.Watch(context.Background(), widgetParams("v1", ""), nil, "abc")
	requireProblem(t, err, problem.InvalidRequest)

	_, _, err = env.service.Watch(context.Background(), widgetParams("v9", ""), nil, "")
	requireProblem(t, err, problem.VersionNotFound)
}

func TestWatchConversionFailure(t *testing.T) {
	transport := conversion.TransportFunc(func(context.Context, string, *conversion.Review) (*conversion.Review, error) {
		return nil, errors.New("connection refused")
	})
	env := newTestEnv(t, nil, transport)

	events, stop, err := env.service.Watch(context.Background(), Params{Group: "example.com", Version: "v1", Plural: "gadgets"}, nil, "")
	require.NoError(t, err)
	defer stop()

	env.opener.last(t).Publish(watch.NewEvent(watch.Created, &meta.Object{
		TypeMeta: meta.TypeMeta{APIVersion: "example.com/v2", Kind: "Gadget"},
		Metadata: meta.ObjectMeta{Name: "g1", ResourceVersion: "2"},
	}))

	failed := receive(t, events)
	assert.Equal(t, watch.Error, failed.Type)
	require.NotNil(t, failed.Problem)
	assert.Equal(t, problem.ConversionFailed, failed.Problem.Type)
	assert.Contains(t, failed.Problem.Detail, "connection refused")
}

func TestMonitor(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	created := createWidget(t, env)

	var forwarded []watch.EventType
	monitor, err := env.service.Monitor(context.Background(), widgetParams("v1", "w1"), func(e watch.Event) {
		forwarded = append(forwarded, e.Type)
	})
	require.NoError(t, err)

	source := env.opener.last(t)
	assert.Equal(t, int64(1), source.from)
	assert.True(t, source.started.Load())

	current, ok := monitor.Current()
	require.True(t, ok)
	assert.Equal(t, created.Metadata.UID, current.Metadata.UID)

	updated := storedWidget("w1", "default", "4", map[string]string{"tier": "web"})
	source.Publish(watch.NewEvent(watch.Updated, storedWidget("other", "default", "3", nil)))
	source.Publish(watch.NewEvent(watch.Updated, updated))

	current, ok = monitor.Current()
	require.True(t, ok)
	assert.Equal(t, "example.com/v1", current.APIVersion)
	assert.Equal(t, "4", current.Metadata.ResourceVersion)

	source.Publish(watch.NewEvent(watch.Deleted, storedWidget("w1", "default", "5", nil)))
	assert.True(t, monitor.Gone())
	<-monitor.Done()
	assert.Equal(t, []watch.EventType{watch.Updated, watch.Deleted}, forwarded)

	assert.False(t, source.closed.Load())
	require.NoError(t, monitor.Close())
	assert.True(t, source.closed.Load())
}

func TestMonitorMissingResource(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	_, err := env.service.Monitor(context.Background(), widgetParams("v1", "missing"), nil)
	requireProblem(t, err, problem.NotFound)
	assert.Empty(t, env.opener.sources)
}
