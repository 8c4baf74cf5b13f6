package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

type mockResourceService struct {
	mock.Mock
}

func (m *mockResourceService) object(args mock.Arguments) (*meta.Object, error) {
	obj, _ := args.Get(0).(*meta.Object)
	return obj, args.Error(1)
}

func (m *mockResourceService) Create(ctx context.Context, params service.Params, data []byte, opts service.WriteOptions) (*meta.Object, error) {
	return m.object(m.Called(ctx, params, data, opts))
}

func (m *mockResourceService) Get(ctx context.Context, params service.Params) (*meta.Object, error) {
	return m.object(m.Called(ctx, params))
}

func (m *mockResourceService) List(ctx context.Context, params service.Params, selectors labels.Selectors) (*meta.List[*meta.Object], error) {
	args := m.Called(ctx, params, selectors)
	list, _ := args.Get(0).(*meta.List[*meta.Object])
	return list, args.Error(1)
}

func (m *mockResourceService) Replace(ctx context.Context, params service.Params, data []byte, opts service.WriteOptions) (*meta.Object, error) {
	return m.object(m.Called(ctx, params, data, opts))
}

func (m *mockResourceService) Patch(ctx context.Context, params service.Params, patch []byte, opts service.WriteOptions) (*meta.Object, error) {
	return m.object(m.Called(ctx, params, patch, opts))
}

func (m *mockResourceService) PatchSubResource(ctx context.Context, params service.Params, subResource string, patch []byte, opts service.WriteOptions) (*meta.Object, error) {
	return m.object(m.Called(ctx, params, subResource, patch, opts))
}

func (m *mockResourceService) Delete(ctx context.Context, params service.Params, resourceVersion string, opts service.WriteOptions) (*meta.Object, error) {
	return m.object(m.Called(ctx, params, resourceVersion, opts))
}

func (m *mockResourceService) Watch(ctx context.Context, params service.Params, selectors labels.Selectors, resourceVersion string) (<-chan watch.Event, func(), error) {
	args := m.Called(ctx, params, selectors, resourceVersion)
	events, _ := args.Get(0).(<-chan watch.Event)
	stop, _ := args.Get(1).(func())
	return events, stop, args.Error(2)
}

func (m *mockResourceService) Monitor(ctx context.Context, params service.Params, handler watch.Handler) (*watch.Monitor, error) {
	args := m.Called(ctx, params, handler)
	monitor, _ := args.Get(0).(*watch.Monitor)
	return monitor, args.Error(1)
}

type mockDefinitionService struct {
	mock.Mock
}

func (m *mockDefinitionService) definition(args mock.Arguments) (*definition.ResourceDefinition, error) {
	def, _ := args.Get(0).(*definition.ResourceDefinition)
	return def, args.Error(1)
}

func (m *mockDefinitionService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockDefinitionService) Create(ctx context.Context, data []byte) (*definition.ResourceDefinition, error) {
	return m.definition(m.Called(ctx, data))
}

func (m *mockDefinitionService) Replace(ctx context.Context, group, plural string, data []byte) (*definition.ResourceDefinition, error) {
	return m.definition(m.Called(ctx, group, plural, data))
}

func (m *mockDefinitionService) Get(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error) {
	return m.definition(m.Called(ctx, group, plural))
}

func (m *mockDefinitionService) List(ctx context.Context) []*definition.ResourceDefinition {
	defs, _ := m.Called(ctx).Get(0).([]*definition.ResourceDefinition)
	return defs
}

func (m *mockDefinitionService) Delete(ctx context.Context, group, plural string) error {
	return m.Called(ctx, group, plural).Error(0)
}
