package client

import (
	"context"

	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

// Client defines the interface for interacting with the Themelio API
type Client interface {
	CreateResource(ctx context.Context, ref definition.Reference, resource *meta.Object, opts WriteOptions) (*meta.Object, error)
	GetResource(ctx context.Context, ref definition.Reference, namespace, name string) (*meta.Object, error)
	ListResources(ctx context.Context, ref definition.Reference, opts ListOptions) (*meta.List[*meta.Object], error)
	// ReplaceResource sends resource as is; its resourceVersion must be the stored one
	ReplaceResource(ctx context.Context, ref definition.Reference, resource *meta.Object, opts WriteOptions) (*meta.Object, error)
	PatchResource(ctx context.Context, ref definition.Reference, namespace, name string, patch []byte, opts WriteOptions) (*meta.Object, error)
	PatchSubResource(ctx context.Context, ref definition.Reference, namespace, name, subResource string, patch []byte, opts WriteOptions) (*meta.Object, error)
	// DeleteResource removes the object. A non-empty resourceVersion makes the delete conditional.
	DeleteResource(ctx context.Context, ref definition.Reference, namespace, name, resourceVersion string, opts WriteOptions) (*meta.Object, error)
	// WatchResources streams collection changes until ctx is cancelled, the server ends the
	// stream or an ERROR event arrives. The channel is closed afterwards.
	WatchResources(ctx context.Context, ref definition.Reference, opts ListOptions) (<-chan watch.Event, error)

	CreateDefinition(ctx context.Context, document []byte) (*definition.ResourceDefinition, error)
	GetDefinition(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error)
	ListDefinitions(ctx context.Context) ([]*definition.ResourceDefinition, error)
	DeleteDefinition(ctx context.Context, group, plural string) error
}
