package watch

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Monitor tracks the latest state of one resource identity from a source and forwards the
// filtered events to its own subscribers. A matching DELETED or an ERROR event is terminal.
type Monitor struct {
	source    Source
	identity  meta.Identity
	leaveOpen bool
	logger    *zap.Logger
	forward   *Broadcaster
	done      chan struct{}

	mu       sync.Mutex
	current  *meta.Object
	gone     bool
	terminal bool
	cancel   func()

	stopOnce  sync.Once
	closeOnce sync.Once
}

type MonitorOption func(*Monitor)

func WithLogger(logger *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor subscribes to source for the identity of initial. With leaveOpen false the monitor
// owns source and closes it on Close.
func NewMonitor(source Source, initial *meta.Object, leaveOpen bool, opts ...MonitorOption) (*Monitor, error) {
	if source == nil {
		return nil, errors.New("monitor requires a watch source")
	}
	if initial == nil {
		return nil, errors.New("monitor requires an initial resource state")
	}

	m := &Monitor{
		source:    source,
		identity:  initial.Identity(),
		leaveOpen: leaveOpen,
		logger:    zap.NewNop(),
		forward:   NewBroadcaster(),
		done:      make(chan struct{}),
		current:   initial,
	}
	for _, opt := range opts {
		opt(m)
	}

	cancel := source.Subscribe(IdentityFilter(m.identity), m.handle)

	m.mu.Lock()
	if m.terminal {
		m.mu.Unlock()
		cancel()
		return m, nil
	}
	m.cancel = cancel
	m.mu.Unlock()

	return m, nil
}

func (m *Monitor) handle(e Event) {
	m.mu.Lock()
	if m.terminal || (e.IsChange() && e.Resource == nil) {
		m.mu.Unlock()
		return
	}
	switch e.Type {
	case Updated:
		m.current = e.Resource
	case Deleted:
		m.current = nil
		m.gone = true
		m.terminal = true
	case Error:
		m.terminal = true
	}
	terminal := m.terminal
	m.mu.Unlock()

	m.forward.Publish(e)

	if terminal {
		m.logger.Debug("Monitor reached terminal state",
			zap.Object("identity", m.identity),
			zap.String("event", string(e.Type)))
		m.stop()
	}
}

func (m *Monitor) stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.terminal = true
		cancel := m.cancel
		m.cancel = nil
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		_ = m.forward.Close()
		close(m.done)
	})
}

func (m *Monitor) Identity() meta.Identity {
	return m.identity
}

// Current returns the latest known state. It returns false once the resource is gone.
func (m *Monitor) Current() (*meta.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, !m.gone
}

// Gone reports whether a DELETED event for the identity was received
func (m *Monitor) Gone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gone
}

// Done is closed once the monitor stops receiving events
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Subscribe registers handler for the filtered event stream, terminal event included
func (m *Monitor) Subscribe(handler Handler) func() {
	return m.forward.Subscribe(nil, handler)
}

// Close cancels the subscription and, unless the monitor was created with leaveOpen, closes the
// source. Closing twice is a no-op.
func (m *Monitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.stop()
		if !m.leaveOpen {
			err = multierr.Append(err, m.source.Close())
		}
	})
	return err
}
