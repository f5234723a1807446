package connmgr

import (
	"bufio"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session owns at most one transport handle.
//
// mu guards state and handle and is never held across I/O. writeMu
// serializes Send; Close does not take it, so closing the handle unblocks a
// write stuck on a peer that stopped reading.
type Session struct {
	writeMu sync.Mutex

	mu     sync.Mutex
	state  SessionState
	handle Handle

	kind Kind
	log  *zap.Logger
}

// NewSession returns a Session in the Connecting state.
func NewSession(kind Kind, logger *zap.Logger) *Session {
	return &Session{
		state: SessionConnecting,
		kind:  kind,
		log:   loggerOr(logger),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// install hands h to the session. It returns false, and leaves h to the
// caller, when the session is no longer connecting.
func (s *Session) install(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionConnecting {
		return false
	}
	s.handle = h
	s.state = SessionConnected
	return true
}

// fail marks a connect attempt as failed.
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionConnecting {
		s.state = SessionFailed
	}
}

// Send writes command and a newline and flushes. Without an active handle it
// does nothing. Writes from concurrent callers never interleave.
func (s *Session) Send(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	s.log.Debug("sending", zap.Stringer("kind", s.kind), zap.String("command", command))
	w := bufio.NewWriter(h)
	if _, err := w.WriteString(command + "\n"); err != nil {
		return fmt.Errorf("connmgr: write %q: %w: %w", command, ErrSend, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("connmgr: flush %q: %w: %w", command, ErrSend, err)
	}
	return nil
}

// Close releases the handle. It is idempotent and never fails; close errors
// are logged.
func (s *Session) Close() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.state = SessionDisconnected
	s.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		s.log.Warn("close transport", zap.Stringer("kind", s.kind), zap.Error(err))
	}
}
