package repository

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tsamsiyu/themelio/internal/repository/types"
)

// WatchManager hands out watch sources and keeps track of the open ones so they can be closed
// on shutdown.
type WatchManager struct {
	client  ClientWrapper
	logger  *zap.Logger
	config  WatchConfig
	sources map[*WatchSource]struct{}
	mu      sync.Mutex
	closed  bool
}

func NewWatchManager(logger *zap.Logger, client ClientWrapper, config WatchConfig) *WatchManager {
	return &WatchManager{
		client:  client,
		logger:  logger,
		config:  config,
		sources: make(map[*WatchSource]struct{}),
	}
}

// Open returns an unstarted source for key. Closing the source releases it from the manager.
func (m *WatchManager) Open(key types.ResourceKey, fromRevision int64) *WatchSource {
	source := NewWatchSource(m.logger, m.client, key, m.config, fromRevision)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = source.Close()
		return source
	}
	m.sources[source] = struct{}{}
	source.onClose = func() { m.release(source) }
	m.mu.Unlock()

	m.logger.Debug("Watch source opened",
		zap.Object("resourceKey", key),
		zap.Int64("fromRevision", fromRevision))

	return source
}

func (m *WatchManager) release(source *WatchSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, source)
}

// Active returns the number of open sources
func (m *WatchManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Close closes every open source. Sources opened afterwards are closed immediately.
func (m *WatchManager) Close() error {
	m.mu.Lock()
	m.closed = true
	sources := make([]*WatchSource, 0, len(m.sources))
	for source := range m.sources {
		sources = append(sources, source)
	}
	m.mu.Unlock()

	var err error
	for _, source := range sources {
		err = multierr.Append(err, source.Close())
	}
	return err
}
