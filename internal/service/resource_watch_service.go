package service

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

// StartableSource is a watch source that delivers nothing before Start
type StartableSource interface {
	watch.Source
	Start(ctx context.Context)
}

// WatchOpener opens storage watches over a resource collection
type WatchOpener interface {
	Open(key types.ResourceKey, fromRevision int64) StartableSource
}

type WatchOpenerFunc func(key types.ResourceKey, fromRevision int64) StartableSource

func (f WatchOpenerFunc) Open(key types.ResourceKey, fromRevision int64) StartableSource {
	return f(key, fromRevision)
}

// NewWatchOpener opens sources through manager
func NewWatchOpener(manager *repository.WatchManager) WatchOpener {
	return WatchOpenerFunc(func(key types.ResourceKey, fromRevision int64) StartableSource {
		return manager.Open(key, fromRevision)
	})
}

// resourceSource republishes the storage events of one collection at the requested version
type resourceSource struct {
	*watch.Broadcaster

	ctx         context.Context
	service     *resourceService
	def         *definition.ResourceDefinition
	version     string
	upstream    StartableSource
	unsubscribe func()
	closeOnce   sync.Once
}

func (s *resourceService) openSource(
	ctx context.Context,
	def *definition.ResourceDefinition,
	version string,
	key types.ResourceKey,
	fromRevision int64,
	filter watch.Filter,
) *resourceSource {
	source := &resourceSource{
		Broadcaster: watch.NewBroadcaster(),
		ctx:         ctx,
		service:     s,
		def:         def,
		version:     version,
		upstream:    s.watches.Open(key, fromRevision),
	}
	source.unsubscribe = source.upstream.Subscribe(filter, source.handle)
	s.metrics.WatchOpened()

	s.logger.Debug("Resource watch opened",
		zap.Object("resourceKey", key),
		zap.String("version", version),
		zap.Int64("fromRevision", fromRevision))

	return source
}

func (r *resourceSource) start() {
	r.upstream.Start(r.ctx)
}

func (r *resourceSource) handle(e watch.Event) {
	// deletions seen without a previous value carry only metadata and stay as they are
	if e.IsChange() && e.Resource != nil && e.Resource.APIVersion != "" {
		converted, err := r.service.convert(r.ctx, r.def, e.Resource, r.version)
		if err != nil {
			p, ok := ToProblem(err)
			if !ok {
				p = problem.New(problem.ConversionFailed, err.Error())
			}
			r.service.logger.Warn("Failed to convert watch event",
				zap.Object("identity", e.Resource.Identity()),
				zap.String("version", r.version),
				zap.Error(err))
			e = watch.NewError(p)
		} else {
			e = watch.NewEvent(e.Type, converted)
		}
	}

	r.service.metrics.RecordWatchEvent(r.def.Group, r.def.Names.Plural, string(e.Type))
	r.Publish(e)
}

func (r *resourceSource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.unsubscribe()
		err = multierr.Combine(r.upstream.Close(), r.Broadcaster.Close())
		r.service.metrics.WatchClosed()
	})
	return err
}

func (s *resourceService) Watch(ctx context.Context, params Params, selectors labels.Selectors, resourceVersion string) (<-chan watch.Event, func(), error) {
	t, err := s.resolve(params)
	if err != nil {
		return nil, nil, err
	}
	fromRevision, err := repository.ParseRevision(resourceVersion)
	if err != nil {
		return nil, nil, err
	}

	var filter watch.Filter
	if !selectors.Empty() {
		filter = watch.SelectorFilter(selectors)
	}

	key := types.NewResourceKeyFromDefinition(t.def, params.Namespace)
	source := s.openSource(ctx, t.def, params.Version, key, fromRevision, filter)
	events, cancel := watch.Stream(source, nil, s.config.StreamBuffer)
	source.start()

	return events, func() {
		cancel()
		if err := source.Close(); err != nil {
			s.logger.Warn("Failed to close resource watch", zap.Object("resourceKey", key), zap.Error(err))
		}
	}, nil
}

func (s *resourceService) Monitor(ctx context.Context, params Params, handler watch.Handler) (*watch.Monitor, error) {
	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}

	current, err := s.get(ctx, t, key)
	if err != nil {
		return nil, err
	}
	fromRevision, err := repository.ParseRevision(current.Metadata.ResourceVersion)
	if err != nil {
		return nil, err
	}

	source := s.openSource(ctx, t.def, params.Version, key.ResourceKey(), fromRevision, watch.IdentityFilter(key.Identity()))
	monitor, err := watch.NewMonitor(source, current, false, watch.WithLogger(s.logger))
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	if handler != nil {
		monitor.Subscribe(handler)
	}
	source.start()

	return monitor, nil
}
