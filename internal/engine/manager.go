// Package engine owns the lifecycle of the single logical connection to the
// trading engine and surfaces it as a small state machine. All transitions
// happen here; other components only observe.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"enginesync/config"
	"enginesync/internal/backend"
	"enginesync/internal/metrics"
	"enginesync/internal/state"
	"enginesync/logger"
	"enginesync/models"
)

// Backend is the slice of the backend client the manager needs: a probe that
// detects a missing engine artifact and the artifact download itself.
type Backend interface {
	ProbeEngine(ctx context.Context, path string) error
	DownloadArtifact(ctx context.Context, url, dst string) error
}

// FrameHandler receives every inbound transport frame in arrival order with
// no transformation.
type FrameHandler func(models.RawFrame)

// Manager owns exactly one transport resource at a time and guarantees its
// release on every exit path, including transport-initiated closes.
type Manager struct {
	cfg     config.EngineConfig
	backend Backend
	dialer  Dialer
	log     *logger.Log

	connState *state.Holder[models.ConnectionState]

	mu              sync.Mutex
	conn            Transport
	sessionID       string
	sessionCancel   context.CancelFunc
	connectCtx      context.Context
	reconnectCancel context.CancelFunc
	manual          bool
	closed          bool
	reconnecting    bool

	subMu     sync.RWMutex
	frameSubs map[uint64]FrameHandler
	nextSubID uint64

	wg          sync.WaitGroup
	reconnectWG sync.WaitGroup
	limiter     *rate.Limiter
}

func NewManager(cfg config.EngineConfig, be Backend, dialer Dialer) *Manager {
	if dialer == nil {
		dialer = &WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadTimeout:      cfg.ReadTimeout,
		}
	}

	interval := cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Manager{
		cfg:       cfg,
		backend:   be,
		dialer:    dialer,
		log:       logger.GetLogger(),
		connState: state.NewHolder(models.StateDisconnected),
		frameSubs: make(map[uint64]FrameHandler),
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	return m.connState.Get()
}

// SessionID returns the identifier of the current connected session, or the
// empty string when not connected.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SubscribeState registers a listener invoked synchronously after every state
// transition. The returned cancel releases the subscription.
func (m *Manager) SubscribeState(fn func(models.ConnectionState)) func() {
	return m.connState.Subscribe(fn)
}

// SubscribeFrames registers a handler for raw inbound frames. Handlers run on
// the dispatch goroutine in transport arrival order.
func (m *Manager) SubscribeFrames(fn FrameHandler) func() {
	if fn == nil {
		return func() {}
	}

	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.frameSubs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.frameSubs, id)
		m.subMu.Unlock()
	}
}

// Connect establishes the engine transport. It is a no-op when already
// connecting or connected. Failures are not returned to the caller; state
// observation is the only feedback channel, with the reason logged here.
func (m *Manager) Connect(ctx context.Context) {
	log := m.log.WithComponent("engine_manager")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	current := m.connState.Get()
	if current == models.StateConnecting || current == models.StateConnected {
		m.mu.Unlock()
		log.WithFields(logger.Fields{"state": current.String()}).Debug("connect ignored, already active")
		return
	}
	m.manual = false
	// Reconnect attempts run on a context derived from the one the caller
	// originally connected with; only a caller-initiated connect replaces it.
	if !m.reconnecting {
		m.connectCtx = ctx
	}
	m.mu.Unlock()

	m.setState(models.StateConnecting)

	if m.cfg.ProbePath != "" {
		if err := m.backend.ProbeEngine(ctx, m.cfg.ProbePath); err != nil {
			if errors.Is(err, backend.ErrEngineMissing) {
				log.WithError(err).Warn("engine artifact not installed")
				m.setState(models.StateUnavailable)
				return
			}
			log.WithError(err).Warn("engine probe failed")
			metrics.EmitFailureMetric(m.log, metrics.FailureMetricHandshake, "", "probe")
			m.setState(models.StateDisconnected)
			m.maybeReconnect()
			return
		}
	}

	log.WithFields(logger.Fields{"url": m.cfg.WebsocketURL}).Debug("dialing engine transport")
	conn, err := m.dialer.Dial(ctx, m.cfg.WebsocketURL)
	if err != nil {
		log.WithError(err).Warn("engine handshake failed")
		metrics.EmitFailureMetric(m.log, metrics.FailureMetricHandshake, "", "dial")
		m.setState(models.StateDisconnected)
		m.maybeReconnect()
		return
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.manual || m.closed {
		// Disconnect raced the handshake; the teardown wins.
		m.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	m.conn = conn
	m.sessionCancel = cancel
	m.sessionID = uuid.NewString()
	session := m.sessionID
	m.mu.Unlock()

	m.setState(models.StateConnected)
	log.WithFields(logger.Fields{"session": session}).Info("engine connected")

	frames := make(chan models.RawFrame, frameBuffer(m.cfg.FrameBuffer))

	m.wg.Add(3)
	go m.readLoop(sessionCtx, conn, frames, session)
	go m.dispatchLoop(sessionCtx, frames)
	go m.heartbeatLoop(sessionCtx, conn)
}

// Disconnect tears down the transport and transitions to Disconnected
// unconditionally. It is idempotent and synchronous: when it returns, no
// session goroutine is still running.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.releaseLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.reconnectWG.Wait()
	m.setState(models.StateDisconnected)
	m.log.WithComponent("engine_manager").Info("engine disconnected")
}

// Close marks the manager as finished and tears everything down. A closed
// manager ignores further Connect calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.Disconnect()
}

// DownloadEngine acquires the missing engine artifact. It never changes the
// connection state; the operator connects again once the download finished.
func (m *Manager) DownloadEngine(ctx context.Context) error {
	log := m.log.WithComponent("engine_manager").WithFields(logger.Fields{
		"artifact": m.cfg.ArtifactURL,
		"dest":     m.cfg.InstallPath,
	})
	log.Info("downloading engine artifact")

	if err := m.backend.DownloadArtifact(ctx, m.cfg.ArtifactURL, m.cfg.InstallPath); err != nil {
		log.WithError(err).Error("engine artifact download failed")
		return err
	}

	log.Info("engine artifact downloaded")
	return nil
}

// releaseLocked cancels the session and closes the transport. Callers hold
// m.mu. Double release is a no-op.
func (m *Manager) releaseLocked() {
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.reconnectCancel != nil {
		m.reconnectCancel()
		m.reconnectCancel = nil
	}
	m.sessionID = ""
}

func (m *Manager) readLoop(ctx context.Context, conn Transport, frames chan<- models.RawFrame, session string) {
	defer m.wg.Done()

	log := m.log.WithComponent("engine_transport").WithFields(logger.Fields{"session": session})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// Manual teardown already released the transport.
				return
			}
			log.WithError(err).Warn("transport closed by remote side")
			metrics.EmitFailureMetric(m.log, metrics.FailureMetricTransport, "", "read")
			m.handleTransportLoss()
			return
		}

		logger.IncrementFrameReceived(len(data))

		frame := models.RawFrame{Data: append([]byte(nil), data...), ReceivedAt: time.Now()}
		select {
		case frames <- frame:
		case <-ctx.Done():
			metrics.EmitFailureMetric(m.log, metrics.FailureMetricFrameDropped, "", "shutdown")
			return
		}
	}
}

func (m *Manager) dispatchLoop(ctx context.Context, frames <-chan models.RawFrame) {
	defer m.wg.Done()

	for {
		select {
		case frame := <-frames:
			m.deliver(frame)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) deliver(frame models.RawFrame) {
	m.subMu.RLock()
	handlers := make([]FrameHandler, 0, len(m.frameSubs))
	for _, fn := range m.frameSubs {
		handlers = append(handlers, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range handlers {
		fn(frame)
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn Transport) {
	defer m.wg.Done()

	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				// The read deadline will terminate the session; the ping
				// failure is only logged.
				m.log.WithComponent("engine_transport").WithError(err).Warn("heartbeat ping failed")
			}
		}
	}
}

// handleTransportLoss releases the transport after a remote close or read
// failure and schedules a reconnect when enabled.
func (m *Manager) handleTransportLoss() {
	m.mu.Lock()
	m.releaseLocked()
	m.mu.Unlock()

	m.setState(models.StateDisconnected)
	m.maybeReconnect()
}

func (m *Manager) maybeReconnect() {
	if !m.cfg.Reconnect {
		return
	}

	m.mu.Lock()
	if m.manual || m.closed || m.reconnecting || m.connectCtx == nil {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	rctx, cancel := context.WithCancel(m.connectCtx)
	m.reconnectCancel = cancel
	m.mu.Unlock()

	m.reconnectWG.Add(1)
	go m.reconnectLoop(rctx)
}

// reconnectLoop retries the connect path on a fixed interval, with attempts
// clamped by the rate limiter so a flapping transport cannot spin.
func (m *Manager) reconnectLoop(ctx context.Context) {
	defer m.reconnectWG.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	log := m.log.WithComponent("engine_manager")

	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		m.mu.Lock()
		stop := m.manual || m.closed
		m.mu.Unlock()
		if stop {
			return
		}

		switch m.State() {
		case models.StateConnected, models.StateConnecting, models.StateUnavailable:
			return
		}

		log.Debug("attempting engine reconnect")
		m.Connect(ctx)

		if m.State() == models.StateConnected {
			return
		}
	}
}

func (m *Manager) setState(to models.ConnectionState) {
	from := m.connState.Get()
	if from == to {
		return
	}
	if !models.LegalTransition(from, to) {
		m.log.WithComponent("engine_manager").WithFields(logger.Fields{
			"from": from.String(),
			"to":   to.String(),
		}).Error("illegal connection state transition suppressed")
		return
	}
	m.connState.Set(to)
}

func frameBuffer(configured int) int {
	if configured <= 0 {
		return 256
	}
	return configured
}
