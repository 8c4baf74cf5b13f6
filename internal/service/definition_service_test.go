package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"

	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

type mockDefinitionRepository struct {
	mock.Mock
}

func (m *mockDefinitionRepository) Create(ctx context.Context, def *definition.ResourceDefinition) error {
	return m.Called(ctx, def).Error(0)
}

func (m *mockDefinitionRepository) Replace(ctx context.Context, def *definition.ResourceDefinition) error {
	return m.Called(ctx, def).Error(0)
}

func (m *mockDefinitionRepository) Get(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error) {
	args := m.Called(ctx, group, plural)
	def, _ := args.Get(0).(*definition.ResourceDefinition)
	return def, args.Error(1)
}

func (m *mockDefinitionRepository) Delete(ctx context.Context, group, plural string) error {
	return m.Called(ctx, group, plural).Error(0)
}

func (m *mockDefinitionRepository) List(ctx context.Context) ([]*definition.ResourceDefinition, error) {
	args := m.Called(ctx)
	defs, _ := args.Get(0).([]*definition.ResourceDefinition)
	return defs, args.Error(1)
}

const gizmoDocument = `
scope: Namespaced
group: example.com
names:
  singular: gizmo
  plural: gizmos
  kind: Gizmo
versions:
  - name: v1
    served: true
    storage: true
    schema:
      type: object
      properties:
        color:
          type: string
`

type definitionEnv struct {
	service  DefinitionService
	registry *definition.Registry
	repo     *mockDefinitionRepository
	store    *fakeStore
}

func newDefinitionEnv(t *testing.T) *definitionEnv {
	env := &definitionEnv{
		registry: definition.NewRegistry(naming.Default()),
		repo:     &mockDefinitionRepository{},
		store:    newFakeStore(),
	}
	svc, err := NewDefinitionService(zap.NewNop(), env.registry, env.repo, env.store)
	require.NoError(t, err)
	env.service = svc
	return env
}

func TestDefinitionLoad(t *testing.T) {
	env := newDefinitionEnv(t)

	broken := &definition.ResourceDefinition{
		Scope: definition.ScopeNamespaced,
		Group: "example.com",
		Names: definition.Names{Singular: "broken", Plural: "brokens", Kind: "Broken"},
		Versions: []definition.Version{
			{Name: "v1", Served: true, Storage: true, Schema: &apiextensionsv1.JSONSchemaProps{Type: "nonsense"}},
		},
	}
	env.repo.On("List", mock.Anything).Return([]*definition.ResourceDefinition{widgetDefinition(t), broken}, nil)

	require.NoError(t, env.service.Load(context.Background()))

	_, ok := env.registry.Lookup(definition.SelfGroup, definition.SelfPlural)
	assert.True(t, ok)
	_, ok = env.registry.Lookup("example.com", "widgets")
	assert.True(t, ok)
	_, ok = env.registry.Lookup("example.com", "brokens")
	assert.False(t, ok)
	assert.Len(t, env.service.List(context.Background()), 2)
	env.repo.AssertExpectations(t)
}

func TestDefinitionCreate(t *testing.T) {
	env := newDefinitionEnv(t)
	env.repo.On("Create", mock.Anything, mock.MatchedBy(func(def *definition.ResourceDefinition) bool {
		return def.Key() == "gizmos.example.com"
	})).Return(nil).Once()

	def, err := env.service.Create(context.Background(), []byte(gizmoDocument))
	require.NoError(t, err)
	assert.Equal(t, "Gizmo", def.Names.Kind)

	got, err := env.service.Get(context.Background(), "example.com", "gizmos")
	require.NoError(t, err)
	assert.Equal(t, definition.ScopeNamespaced, got.Scope)

	_, err = env.service.Create(context.Background(), []byte(gizmoDocument))
	requireProblem(t, err, problem.AlreadyExists)
	env.repo.AssertExpectations(t)
}

func TestDefinitionCreateRejections(t *testing.T) {
	tests := []struct {
		name     string
		document string
		want     problem.Type
	}{
		{
			name:     "not yaml",
			document: "scope: [",
			want:     problem.InvalidRequest,
		},
		{
			name:     "unknown scope",
			document: "scope: Global\nnames: {singular: a, plural: as, kind: A}\nversions: [{name: v1, schema: {type: object}}]\n",
			want:     problem.SchemaValidationFailed,
		},
		{
			name:     "no storage version",
			document: "scope: Cluster\ngroup: example.com\nnames: {singular: a, plural: as, kind: A}\nversions: [{name: v1, served: true, schema: {type: object}}]\n",
			want:     problem.InvalidRequest,
		},
		{
			name: "built-in definition",
			document: "scope: Cluster\ngroup: themelio.io\nnames: {singular: resourcedefinition, plural: resourcedefinitions, kind: Other}\n" +
				"versions: [{name: v1, served: true, storage: true, schema: {type: object}}]\n",
			want: problem.InvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDefinitionEnv(t)
			_, err := env.service.Create(context.Background(), []byte(tt.document))
			requireProblem(t, err, tt.want)
			env.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestDefinitionReplace(t *testing.T) {
	env := newDefinitionEnv(t)
	env.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	env.repo.On("Replace", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := env.service.Create(context.Background(), []byte(gizmoDocument))
	require.NoError(t, err)

	updated := gizmoDocument + `  - name: v2
    served: true
    storage: false
    schema:
      type: object
`
	def, err := env.service.Replace(context.Background(), "example.com", "gizmos", []byte(updated))
	require.NoError(t, err)
	assert.Len(t, def.Versions, 2)

	_, err = env.service.Replace(context.Background(), "example.com", "others", []byte(updated))
	requireProblem(t, err, problem.InvalidRequest)

	clustered := "scope: Cluster" + gizmoDocument[len("\nscope: Namespaced"):]
	_, err = env.service.Replace(context.Background(), "example.com", "gizmos", []byte(clustered))
	requireProblem(t, err, problem.InvalidRequest)

	_, err = env.service.Replace(context.Background(), definition.SelfGroup, definition.SelfPlural, []byte(updated))
	requireProblem(t, err, problem.InvalidRequest)

	env.repo.AssertNumberOfCalls(t, "Replace", 1)
}

func TestDefinitionDelete(t *testing.T) {
	env := newDefinitionEnv(t)
	env.repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	env.repo.On("Delete", mock.Anything, "example.com", "gizmos").Return(nil).Once()

	_, err := env.service.Create(context.Background(), []byte(gizmoDocument))
	require.NoError(t, err)

	key := types.NewNamespacedObjectKey("example.com", "gizmos", "default", "g1")
	_, err = env.store.Create(context.Background(), key, &meta.Object{
		TypeMeta: meta.TypeMeta{APIVersion: "example.com/v1", Kind: "Gizmo"},
		Metadata: meta.ObjectMeta{Name: "g1", Namespace: "default"},
		Spec:     json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	err = env.service.Delete(context.Background(), "example.com", "gizmos")
	requireProblem(t, err, problem.InvalidRequest)
	env.repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)

	_, err = env.store.Delete(context.Background(), key, 0)
	require.NoError(t, err)

	require.NoError(t, env.service.Delete(context.Background(), "example.com", "gizmos"))
	_, err = env.service.Get(context.Background(), "example.com", "gizmos")
	requireProblem(t, err, problem.DefinitionNotFound)

	err = env.service.Delete(context.Background(), "example.com", "gizmos")
	requireProblem(t, err, problem.DefinitionNotFound)
	env.repo.AssertExpectations(t)
}
