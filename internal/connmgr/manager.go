// Package connmgr implements the Connection Manager: accepting streaming
// connections, assigning each a Streaming Session, routing incoming chunks,
// and evicting idle sessions on a timer. Grounded on the teacher's
// internal/api/server.go Server struct (a mutex-guarded map of connected
// clients over gorilla/websocket), generalized from AIWisper's single local
// desktop client to many concurrent network clients, plus the original
// real-time processor's 30-second background janitor loop.
package connmgr

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askidmobile/voxstream/internal/registry"
	"github.com/askidmobile/voxstream/internal/store"
	"github.com/askidmobile/voxstream/internal/streamsession"
	"github.com/askidmobile/voxstream/internal/transcribe"
	"github.com/askidmobile/voxstream/internal/wire"
)

// DefaultIdleTimeout and DefaultJanitorPeriod match spec.md §4.K's 300s/30s
// defaults; Manager accepts overrides through New for configuration-driven
// deployments.
const (
	DefaultIdleTimeout   = 300 * time.Second
	DefaultJanitorPeriod = 30 * time.Second
)

// Sender delivers an envelope to one connected client's open stream -
// satisfied by a thin adapter over a *websocket.Conn in internal/api.
type Sender func(clientID string, env wire.Envelope) error

// Manager owns the active Registered/Buffering/Processing/Draining sessions,
// keyed by client-id.
type Manager struct {
	backend      transcribe.Backend
	matcher      *registry.Matcher
	sessionStore store.Store
	send         Sender
	defaultCfg   wire.SessionConfig

	idleTimeout   time.Duration
	janitorPeriod time.Duration

	mu       sync.RWMutex
	sessions map[string]*streamsession.Session

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// Options configures a Manager beyond its required collaborators.
type Options struct {
	IdleTimeout   time.Duration
	JanitorPeriod time.Duration
}

// New builds a Manager. backend/matcher/sessionStore/send are the
// collaborators every Streaming Session it creates is wired with; matcher
// may be nil to disable diarization entirely.
func New(backend transcribe.Backend, matcher *registry.Matcher, sessionStore store.Store, send Sender, defaultCfg wire.SessionConfig, opts Options) *Manager {
	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	janitorPeriod := opts.JanitorPeriod
	if janitorPeriod <= 0 {
		janitorPeriod = DefaultJanitorPeriod
	}
	return &Manager{
		backend:       backend,
		matcher:       matcher,
		sessionStore:  sessionStore,
		send:          send,
		defaultCfg:    defaultCfg,
		idleTimeout:   idleTimeout,
		janitorPeriod: janitorPeriod,
		sessions:      make(map[string]*streamsession.Session),
		stopJanitor:   make(chan struct{}),
	}
}

// Accept registers a newly connected client: assigns a fresh unguessable
// client-id and session-id, constructs its Streaming Session with the
// manager's default config, and returns the connection_established envelope
// the caller must deliver before routing any chunks.
func (m *Manager) Accept() (clientID string, established wire.Envelope, err error) {
	clientID = uuid.New().String()
	sessionID := uuid.New().String()

	sess := streamsession.New(sessionID, clientID, m.defaultCfg, streamsession.Dependencies{
		Backend: m.backend,
		Matcher: m.matcher,
		Store:   m.sessionStore,
		Send: func(env wire.Envelope) error {
			return m.send(clientID, env)
		},
	})

	m.mu.Lock()
	m.sessions[clientID] = sess
	m.mu.Unlock()

	established, err = wire.NewConnectionEstablished(sessionID, wire.ConnectionEstablishedData{
		ClientID:  clientID,
		SessionID: sessionID,
		Config:    m.defaultCfg,
	}, time.Now().UnixMilli())
	return clientID, established, err
}

// RouteChunk hands raw PCM bytes to the named client's Streaming Session. A
// chunk for an unknown or already-removed client is dropped with a logged
// warning - the client has likely raced a disconnect.
func (m *Manager) RouteChunk(ctx context.Context, clientID string, data []byte) {
	m.mu.RLock()
	sess, ok := m.sessions[clientID]
	m.mu.RUnlock()
	if !ok {
		log.Printf("[connmgr] chunk for unknown client %s dropped", clientID)
		return
	}
	sess.HandleChunk(ctx, data)
}

// UpdateSessionConfig applies a client-supplied config override to its
// Streaming Session. A config message for an unknown client is ignored.
func (m *Manager) UpdateSessionConfig(clientID string, cfg wire.SessionConfig) bool {
	m.mu.RLock()
	sess, ok := m.sessions[clientID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	sess.UpdateConfig(cfg)
	return true
}

// Disconnect removes a client's session from the active map, requesting the
// session drain and terminate any in-flight task. Safe to call more than
// once for the same client.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	if ok {
		delete(m.sessions, clientID)
	}
	m.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// ActiveConnections reports the number of clients currently registered.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// InFlightTasks reports how many sessions currently have a window-processing
// task in flight (Processing or Draining).
func (m *Manager) InFlightTasks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sess := range m.sessions {
		switch sess.State() {
		case streamsession.StateProcessing, streamsession.StateDraining:
			n++
		}
	}
	return n
}

// StartJanitor launches the eviction loop on a ticker; call Stop to end it.
// Safe to call at most once per Manager.
func (m *Manager) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.janitorPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopJanitor:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Stop ends the janitor loop. Idempotent.
func (m *Manager) Stop() {
	m.janitorOnce.Do(func() {
		close(m.stopJanitor)
	})
}

// sweep evicts every session idle longer than idleTimeout.
func (m *Manager) sweep() {
	m.mu.RLock()
	var stale []string
	for clientID, sess := range m.sessions {
		if sess.IsIdle(m.idleTimeout) {
			stale = append(stale, clientID)
		}
	}
	m.mu.RUnlock()

	for _, clientID := range stale {
		log.Printf("[connmgr] evicting idle client %s", clientID)
		m.Disconnect(clientID)
	}
}
