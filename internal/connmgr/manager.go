package connmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the Manager's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const defaultEventBuffer = 16

// Manager is the entry point for the remote: Open picks a transport and
// connects in the background, Send writes a command if connected, Close tears
// everything down.
//
// mu is never held while a transport is written or closed.
type Manager struct {
	tcp Connector
	bt  Connector
	log *zap.Logger

	mu      sync.Mutex
	session *Session
	gen     uint64
	cancel  context.CancelFunc

	events chan Event
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(m *Manager) { m.events = make(chan Event, n) }
}

// New returns an idle Manager. Either connector may be nil, in which case
// opening that transport fails.
func New(tcp, bt Connector, opts ...Option) *Manager {
	m := &Manager{
		tcp:    tcp,
		bt:     bt,
		events: make(chan Event, defaultEventBuffer),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = loggerOr(m.log)
	return m
}

// Events returns the side channel of lifecycle and failure events. Events are
// dropped when the channel is full.
func (m *Manager) Events() <-chan Event { return m.events }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return StateIdle
	}
	switch sess.State() {
	case SessionConnecting:
		return StateConnecting
	case SessionConnected:
		return StateConnected
	default:
		return StateIdle
	}
}

// Open closes the current session, if any, and starts connecting to cfg on a
// background goroutine. It never blocks on the network.
func (m *Manager) Open(cfg Config) {
	connector := m.tcp
	if cfg.Kind() == KindBluetooth {
		connector = m.bt
	}

	m.mu.Lock()
	prev := m.detachLocked()
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	sess := NewSession(cfg.Kind(), m.log)
	m.session = sess
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	attempt := uuid.NewString()
	m.log.Info("opening connection",
		zap.Stringer("kind", cfg.Kind()),
		zap.String("identifier", cfg.Identifier()),
		zap.String("attempt", attempt))
	m.emit(Event{Type: EventConnecting, Kind: cfg.Kind(), Identifier: cfg.Identifier(), Attempt: attempt})

	go m.run(ctx, cancel, gen, sess, connector, cfg, attempt)
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, gen uint64, sess *Session, connector Connector, cfg Config, attempt string) {
	defer m.wg.Done()
	defer cancel()
	log := m.log.With(
		zap.Stringer("kind", cfg.Kind()),
		zap.String("identifier", cfg.Identifier()),
		zap.String("attempt", attempt))

	var (
		h   Handle
		err error
	)
	if connector == nil {
		err = fmt.Errorf("connmgr: no %s connector: %w", cfg.Kind(), ErrConnection)
	} else {
		h, err = connector.Connect(ctx, cfg.Identifier())
	}

	m.mu.Lock()
	current := m.gen == gen && m.session == sess
	if err != nil {
		if current {
			sess.fail()
			m.session = nil
			m.cancel = nil
		}
		m.mu.Unlock()
		if !current {
			log.Debug("superseded attempt failed", zap.Error(err))
			return
		}
		log.Error("connect failed", zap.Error(err))
		m.emit(Event{Type: EventConnectFailed, Kind: cfg.Kind(), Identifier: cfg.Identifier(), Attempt: attempt, Err: err})
		return
	}
	if !current || !sess.install(h) {
		m.mu.Unlock()
		log.Debug("discarding superseded connection")
		if cerr := h.Close(); cerr != nil {
			log.Debug("close superseded connection", zap.Error(cerr))
		}
		return
	}
	m.cancel = nil
	m.mu.Unlock()

	log.Info("connected")
	m.emit(Event{Type: EventConnected, Kind: cfg.Kind(), Identifier: cfg.Identifier(), Attempt: attempt})
}

// Send writes command to the connected device. When not connected the command
// is dropped. Write failures are logged, published on Events and end the
// session; they are never returned.
func (m *Manager) Send(command string) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil || sess.State() != SessionConnected {
		return
	}

	err := sess.Send(command)
	if err == nil {
		return
	}

	m.mu.Lock()
	current := m.session == sess
	if current {
		m.session = nil
		m.gen++
	}
	m.mu.Unlock()
	if !current {
		// Closed or superseded while the write was in flight.
		m.log.Debug("send interrupted by close", zap.String("command", command), zap.Error(err))
		return
	}

	m.log.Warn("send failed, closing session",
		zap.Stringer("kind", sess.kind),
		zap.String("command", command),
		zap.Error(err))
	sess.Close()
	m.emit(Event{Type: EventSendFailed, Kind: sess.kind, Command: command, Err: err})
}

// Close cancels any connect attempt and closes the session. It is safe to
// call when idle.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.detachLocked()
	m.gen++
	m.mu.Unlock()

	if prev == nil {
		return
	}
	prev.Close()
	m.log.Info("connection closed")
	m.emit(Event{Type: EventClosed})
}

// Shutdown closes the manager and waits for background connect attempts to
// return.
func (m *Manager) Shutdown() {
	m.Close()
	m.wg.Wait()
}

// detachLocked cancels the in-flight attempt and unhooks the session. The
// caller closes the returned session after releasing mu.
func (m *Manager) detachLocked() *Session {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	sess := m.session
	m.session = nil
	return sess
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Debug("event dropped", zap.Stringer("type", ev.Type))
	}
}
