package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"github.com/tsamsiyu/themelio/internal/metrics"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/conversion"
	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

type storedValue struct {
	data     []byte
	revision int64
}

// fakeStore is an in-memory ResourceStore with etcd-like revisions
type fakeStore struct {
	mu       sync.Mutex
	revision int64
	values   map[string]storedValue
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: make(map[string]storedValue)}
}

func (f *fakeStore) Create(_ context.Context, key types.ObjectKey, obj *meta.Object) (*meta.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.values[key.ToKey()]; ok {
		return nil, repository.NewAlreadyExistsError(key.ToKey())
	}
	return f.put(key, obj)
}

func (f *fakeStore) Get(_ context.Context, key types.ObjectKey) (*meta.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.values[key.ToKey()]
	if !ok {
		return nil, repository.NewNotFoundError(key.ToKey())
	}
	return repository.UnmarshalResource(value.data, value.revision)
}

func (f *fakeStore) List(_ context.Context, key types.ResourceKey) ([]*meta.Object, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.values {
		if strings.HasPrefix(k, key.ToKey()) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]*meta.Object, 0, len(keys))
	for _, k := range keys {
		obj, err := repository.UnmarshalResource(f.values[k].data, f.values[k].revision)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, obj)
	}
	return out, f.revision, nil
}

func (f *fakeStore) Update(_ context.Context, key types.ObjectKey, obj *meta.Object, expectedRevision int64) (*meta.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(key, expectedRevision); err != nil {
		return nil, err
	}
	return f.put(key, obj)
}

func (f *fakeStore) Delete(_ context.Context, key types.ObjectKey, expectedRevision int64) (*meta.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(key, expectedRevision); err != nil {
		return nil, err
	}
	prev := f.values[key.ToKey()]
	delete(f.values, key.ToKey())
	f.revision++
	return repository.UnmarshalResource(prev.data, f.revision)
}

func (f *fakeStore) check(key types.ObjectKey, expectedRevision int64) error {
	value, ok := f.values[key.ToKey()]
	if !ok {
		return repository.NewNotFoundError(key.ToKey())
	}
	if expectedRevision != 0 && value.revision != expectedRevision {
		return repository.NewConflictError(key.ToKey(), expectedRevision, value.revision)
	}
	return nil
}

func (f *fakeStore) put(key types.ObjectKey, obj *meta.Object) (*meta.Object, error) {
	data, err := repository.MarshalResource(obj)
	if err != nil {
		return nil, err
	}
	f.revision++
	f.values[key.ToKey()] = storedValue{data: data, revision: f.revision}
	return repository.UnmarshalResource(data, f.revision)
}

// raw returns the stored document of key
func (f *fakeStore) raw(t *testing.T, key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.values[key]
	require.True(t, ok, "no value stored at %s", key)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(value.data, &doc))
	return doc
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values)
}

type fakeSource struct {
	*watch.Broadcaster
	key     types.ResourceKey
	from    int64
	started atomic.Bool
	closed  atomic.Bool
}

func (f *fakeSource) Start(context.Context) {
	f.started.Store(true)
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return f.Broadcaster.Close()
}

type fakeOpener struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (f *fakeOpener) Open(key types.ResourceKey, fromRevision int64) StartableSource {
	f.mu.Lock()
	defer f.mu.Unlock()

	source := &fakeSource{Broadcaster: watch.NewBroadcaster(), key: key, from: fromRevision}
	f.sources = append(f.sources, source)
	return source
}

func (f *fakeOpener) last(t *testing.T) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sources)
	return f.sources[len(f.sources)-1]
}

func sizeSchema() *apiextensionsv1.JSONSchemaProps {
	return &apiextensionsv1.JSONSchemaProps{
		Type: "object",
		Properties: map[string]apiextensionsv1.JSONSchemaProps{
			"size": {Type: "integer"},
		},
	}
}

func statusSchema() map[string]*apiextensionsv1.JSONSchemaProps {
	return map[string]*apiextensionsv1.JSONSchemaProps{
		"status": {
			Type: "object",
			Properties: map[string]apiextensionsv1.JSONSchemaProps{
				"ready": {Type: "boolean"},
			},
		},
	}
}

// widgets are served at v1 and stored at v2 with identical schemas
func widgetDefinition(t *testing.T) *definition.ResourceDefinition {
	def, err := definition.New(naming.Default(), definition.ScopeNamespaced, "example.com",
		definition.Names{Singular: "widget", Plural: "widgets", Kind: "Widget"},
		[]definition.Version{
			{Name: "v1", Schema: sizeSchema(), Served: true, SubResources: statusSchema()},
			{Name: "v2", Schema: sizeSchema(), Served: true, Storage: true, SubResources: statusSchema()},
		},
		&definition.Conversion{Strategy: definition.ConversionNone})
	require.NoError(t, err)
	return def
}

// gadgets are cluster scoped and converted by a webhook
func gadgetDefinition(t *testing.T) *definition.ResourceDefinition {
	def, err := definition.New(naming.Default(), definition.ScopeCluster, "example.com",
		definition.Names{Singular: "gadget", Plural: "gadgets", Kind: "Gadget"},
		[]definition.Version{
			{Name: "v1", Schema: &apiextensionsv1.JSONSchemaProps{Type: "object"}, Served: true},
			{Name: "v2", Schema: &apiextensionsv1.JSONSchemaProps{Type: "object"}, Served: true, Storage: true},
		},
		&definition.Conversion{
			Strategy: definition.ConversionWebhook,
			Webhook:  &definition.WebhookClientConfig{URI: "https://convert.example.com"},
		})
	require.NoError(t, err)
	return def
}

type testEnv struct {
	service ResourceService
	store   *fakeStore
	opener  *fakeOpener
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, reviewer admission.Reviewer, transport conversion.Transport) *testEnv {
	registry := definition.NewRegistry(naming.Default())
	require.NoError(t, registry.Register(widgetDefinition(t)))
	require.NoError(t, registry.Register(gadgetDefinition(t)))

	env := &testEnv{
		store:   newFakeStore(),
		opener:  &fakeOpener{},
		metrics: metrics.New(),
	}
	env.service = NewResourceService(
		zap.NewNop(),
		registry,
		env.store,
		env.opener,
		conversion.NewConverter(zap.NewNop(), transport),
		reviewer,
		env.metrics,
		ResourceServiceConfig{StreamBuffer: 8},
	)
	return env
}

func widgetParams(version, name string) Params {
	return Params{Group: "example.com", Version: version, Plural: "widgets", Namespace: "default", Name: name}
}
