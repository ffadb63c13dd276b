// Package sessions tracks per-connection protocol state: the initialization
// lifecycle, the negotiated protocol version, and the client's advertised
// identity and capabilities. The stdio transport owns exactly one Session
// for the process lifetime; the HTTP transport creates one per client via
// the Manager.
package sessions

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/galactic-tools/warwatch/mcp"
)

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// Session is the unit of isolation between clients. All methods are safe
// for concurrent use; message handling order within a session is the
// transport's responsibility (see Session.Ingest).
type Session struct {
	id        string
	createdAt time.Time

	// ingestMu serializes message handling on this session so requests are
	// processed and answered in arrival order. Transports hold it for the
	// duration of one dispatch.
	ingestMu sync.Mutex

	mu              sync.RWMutex
	state           State
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	clientCaps      mcp.ClientCapabilities
}

// New creates a Session in the uninitialized state with a fresh ID.
func New() *Session {
	return &Session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		state:     StateUninitialized,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ProtocolVersion returns the negotiated protocol version, or "" before
// initialization.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// ClientInfo returns the client identity captured during initialize.
func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// ClientCapabilities returns the capabilities the client advertised.
func (s *Session) ClientCapabilities() mcp.ClientCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCaps
}

// BeginInitialize records the negotiated handshake and moves the session
// from uninitialized to initializing. It fails if the handshake already
// happened or the session is closed.
func (s *Session) BeginInitialize(protocolVersion string, info mcp.ImplementationInfo, caps mcp.ClientCapabilities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("initialize in state %q", s.state)
	}
	s.state = StateInitializing
	s.protocolVersion = protocolVersion
	s.clientInfo = info
	s.clientCaps = caps
	return nil
}

// CompleteInitialize moves the session to ready once the client confirms
// with notifications/initialized.
func (s *Session) CompleteInitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitializing {
		return fmt.Errorf("initialized notification in state %q", s.state)
	}
	s.state = StateReady
	return nil
}

// Close moves the session to closed. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// Ingest runs fn while holding the session's ingest lock, guaranteeing that
// messages on one session are handled sequentially even when the transport
// delivers them on concurrent goroutines.
func (s *Session) Ingest(fn func()) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	fn()
}
