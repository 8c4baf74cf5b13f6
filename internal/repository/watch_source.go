package repository

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/lib"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

type WatchConfig struct {
	MaxRetries       int
	Backoff          lib.BackoffConfig
	BookmarkInterval time.Duration
}

// WatchSource turns the etcd change feed of one resource collection into watch events. Broken
// watches are reopened with backoff from the last seen revision. When retries run out or the
// revision was compacted, an ERROR event is published and the source stops.
type WatchSource struct {
	*watch.Broadcaster

	key     types.ResourceKey
	client  ClientWrapper
	logger  *zap.Logger
	config  WatchConfig
	backoff *lib.BackoffManager

	lastRevision int64
	retryCount   int

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	onClose func()
}

// NewWatchSource creates a source that reports changes after fromRevision, or from now on when
// fromRevision is zero. Nothing is watched before Start.
func NewWatchSource(
	logger *zap.Logger,
	client ClientWrapper,
	key types.ResourceKey,
	config WatchConfig,
	fromRevision int64,
) *WatchSource {
	if config.Backoff.InitialBackoff <= 0 {
		config.Backoff = lib.DefaultBackoffConfig()
	}
	return &WatchSource{
		Broadcaster:  watch.NewBroadcaster(),
		key:          key,
		client:       client,
		logger:       logger,
		config:       config,
		backoff:      lib.NewBackoffManager(config.Backoff),
		lastRevision: fromRevision,
		done:         make(chan struct{}),
	}
}

// Start opens the etcd watch. Subscribe before starting to observe every event.
func (s *WatchSource) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.closed {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.watchLoop(ctx)
}

// Done is closed once the watch loop has exited
func (s *WatchSource) Done() <-chan struct{} {
	return s.done
}

// Close stops the watch and drops every subscription. It does not wait for the loop to exit,
// so it is safe to call from a handler.
func (s *WatchSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	onClose := s.onClose
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(s.done)
	}
	if onClose != nil {
		onClose()
	}
	return s.Broadcaster.Close()
}

func (s *WatchSource) Key() types.ResourceKey {
	return s.key
}

func (s *WatchSource) watchLoop(ctx context.Context) {
	defer close(s.done)

	for {
		watchErr := s.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		var compacted *CompactedError
		if errors.As(watchErr, &compacted) {
			s.logger.Warn("Watch revision compacted, stopping watcher",
				zap.Object("resourceKey", s.key),
				zap.Error(watchErr))
			s.Publish(watch.NewError(problem.New(problem.ResourceVersionExpired, watchErr.Error())))
			return
		}

		if s.retryCount >= s.config.MaxRetries {
			s.logger.Error("Max retries exceeded, stopping watcher",
				zap.Object("resourceKey", s.key),
				zap.Int("retryCount", s.retryCount),
				zap.Error(watchErr))
			s.Publish(watch.NewError(problem.Newf(problem.WatchInterrupted,
				"watch of %s stopped after %d retries: %v", s.key, s.retryCount, watchErr)))
			return
		}

		s.retryCount++
		backoffDuration := s.backoff.NextBackoff()

		s.logger.Warn("Watch error, retrying",
			zap.Object("resourceKey", s.key),
			zap.Error(watchErr),
			zap.Int("retryCount", s.retryCount),
			zap.Int64("lastRevision", s.lastRevision),
			zap.Int("backoffAttempts", s.backoff.Attempts()),
			zap.Duration("backoff", backoffDuration))

		select {
		case <-time.After(backoffDuration):
		case <-ctx.Done():
			return
		}
	}
}

func (s *WatchSource) watchOnce(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fromRevision int64
	if s.lastRevision > 0 {
		fromRevision = s.lastRevision + 1
	}
	watchChan := s.client.Watch(watchCtx, s.key.ToKey(), fromRevision)

	var bookmarks <-chan time.Time
	if s.config.BookmarkInterval > 0 {
		ticker := time.NewTicker(s.config.BookmarkInterval)
		defer ticker.Stop()
		bookmarks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-bookmarks:
			if err := s.client.RequestProgress(watchCtx); err != nil {
				s.logger.Debug("Progress request failed",
					zap.Object("resourceKey", s.key),
					zap.Error(err))
			}

		case watchResp, ok := <-watchChan:
			if !ok {
				return errors.New("watch channel closed")
			}

			if watchResp.CompactRevision != 0 {
				return NewCompactedError(fromRevision, watchResp.CompactRevision)
			}
			if err := watchResp.Err(); err != nil {
				return errors.Wrap(err, "etcd watch failed")
			}

			if watchResp.IsProgressNotify() {
				if watchResp.Header.Revision > s.lastRevision {
					s.lastRevision = watchResp.Header.Revision
				}
				s.Publish(watch.NewBookmark(FormatRevision(s.lastRevision)))
				continue
			}

			for _, ev := range watchResp.Events {
				s.lastRevision = ev.Kv.ModRevision

				event, err := convertEtcdEvent(ev)
				if err != nil {
					s.logger.Error("Failed to convert etcd event to watch event",
						zap.Object("resourceKey", s.key),
						zap.String("key", string(ev.Kv.Key)),
						zap.Error(err))
					continue
				}

				s.Publish(event)
			}

			if len(watchResp.Events) > 0 {
				s.backoff.Reset()
				s.retryCount = 0
			}
		}
	}
}

func convertEtcdEvent(ev *clientv3.Event) (watch.Event, error) {
	switch ev.Type {
	case clientv3.EventTypePut:
		resource, err := UnmarshalResource(ev.Kv.Value, ev.Kv.ModRevision)
		if err != nil {
			return watch.Event{}, errors.Wrap(err, "failed to unmarshal resource from etcd event")
		}
		if ev.IsCreate() {
			return watch.NewEvent(watch.Created, resource), nil
		}
		return watch.NewEvent(watch.Updated, resource), nil

	case clientv3.EventTypeDelete:
		if ev.PrevKv != nil {
			resource, err := UnmarshalResource(ev.PrevKv.Value, ev.Kv.ModRevision)
			if err != nil {
				return watch.Event{}, errors.Wrap(err, "failed to unmarshal deleted resource from etcd event")
			}
			return watch.NewEvent(watch.Deleted, resource), nil
		}

		objectKey, err := types.ParseObjectKey(string(ev.Kv.Key))
		if err != nil {
			return watch.Event{}, errors.Wrap(err, "failed to parse etcd key")
		}
		return watch.NewEvent(watch.Deleted, &meta.Object{
			Metadata: meta.ObjectMeta{
				Name:            objectKey.Name,
				Namespace:       objectKey.Namespace,
				ResourceVersion: FormatRevision(ev.Kv.ModRevision),
			},
		}), nil
	}

	return watch.Event{}, errors.Errorf("unknown etcd event type: %v", ev.Type)
}
