package stream

import (
	"sync"

	"go.uber.org/zap"

	"netfeed/internal/capture"
	"netfeed/internal/models"
)

// Manager owns the one capture session all subscribers share. The session is created
// when the first subscriber joins and stopped when the last one leaves; a later join gets
// a fresh session with an empty detector window.
type Manager struct {
	cfg         capture.Config
	source      capture.Source
	broadcaster *Broadcaster
	loopOpts    []capture.Option
	logger      *zap.Logger

	mu    sync.Mutex
	loop  *capture.Loop
	iface string
}

// NewManager creates a manager. loopOpts are passed to every capture.Loop it creates.
func NewManager(cfg capture.Config, source capture.Source, b *Broadcaster, logger *zap.Logger, loopOpts ...capture.Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:         cfg,
		source:      source,
		broadcaster: b,
		loopOpts:    append([]capture.Option{capture.WithLogger(logger)}, loopOpts...),
		logger:      logger.Named("session"),
	}
}

// Join registers sub and makes sure capture is running. The subscriber's initial filter
// becomes the session-wide filter.
func (m *Manager) Join(sub *Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.broadcaster.Add(sub)

	// A loop that ended on its own is finished; replace it.
	if m.loop != nil && m.loop.State() != capture.StateRunning {
		m.loop = nil
	}

	if m.loop == nil {
		m.loop = capture.NewLoop(m.cfg, m.source, m.broadcaster, m.loopOpts...)
		m.iface = sub.Interface
		m.loop.SetProtocolFilter(sub.Filter())
		m.loop.Start(m.iface)
		go m.watch(m.loop, m.loop.Done())
		return
	}

	if sub.Interface != m.iface {
		m.logger.Warn("Capture already running on another interface, joining it",
			zap.String("subscriber", sub.ID),
			zap.String("requested", sub.Interface),
			zap.String("interface", m.iface))
	}
	m.loop.SetProtocolFilter(sub.Filter())
}

// Leave unregisters a subscriber and stops capture when none remain.
func (m *Manager) Leave(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.broadcaster.Remove(id)
	if m.broadcaster.Len() > 0 || m.loop == nil {
		return
	}

	loop := m.loop
	m.loop = nil
	m.logger.Info("Last subscriber left, stopping capture", zap.String("interface", m.iface))
	loop.Stop()
}

// SetProtocolFilter changes the filter for everyone sharing the session.
func (m *Manager) SetProtocolFilter(p models.Protocol) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loop != nil {
		m.loop.SetProtocolFilter(p)
	}
}

// Loop returns the active capture loop, or nil when no session is running.
func (m *Manager) Loop() *capture.Loop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loop
}

// Interface returns the interface of the active session, "" when none.
func (m *Manager) Interface() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == nil {
		return ""
	}
	return m.iface
}

// Shutdown stops capture and disconnects every subscriber.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	loop := m.loop
	m.loop = nil
	m.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	m.broadcaster.CloseAll()
}

// watch tears the session down when capture fails; subscribers are disconnected so that
// their next connection starts a fresh session.
func (m *Manager) watch(loop *capture.Loop, done <-chan struct{}) {
	<-done
	err := loop.Err()
	if err == nil {
		return
	}

	m.mu.Lock()
	current := m.loop == loop
	if current {
		m.loop = nil
	}
	m.mu.Unlock()

	if !current {
		return
	}
	m.logger.Error("Capture session failed, disconnecting subscribers", zap.Error(err))
	m.broadcaster.CloseAll()
}
