// Package session tracks per-user API sessions and the broker client
// each one owns. Sessions are opaque random tokens with a 24h lifetime;
// nothing here is persisted.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"chartvision/internal/paper"
	"chartvision/pkg/brokers"
	"chartvision/pkg/brokers/common"
)

const (
	// Lifetime of a session from creation; there is no sliding renewal.
	sessionTTL = 24 * time.Hour
	// SweepInterval is how often expired sessions are reaped.
	SweepInterval = 5 * time.Minute
)

// Modes a session can trade in. Every session starts in paper mode.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Session is one user's state. Copies are handed out; the manager owns
// the canonical record.
type Session struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
	BrokerConnected bool              `json:"broker_connected"`
	BrokerType      common.BrokerType `json:"broker_type,omitempty"`
	TradingMode     string            `json:"trading_mode"`
}

// Manager owns all sessions, their broker clients and their paper
// engines.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clients  map[string]common.Client
	engines  map[string]*paper.Engine

	factory func(common.Credentials) (common.Client, error)
	now     func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		clients:  make(map[string]common.Client),
		engines:  make(map[string]*paper.Engine),
		factory:  brokers.New,
		now:      time.Now,
	}
}

func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("session id entropy: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Create registers a new paper-mode session. An empty userID gets a
// derived placeholder.
func (m *Manager) Create(userID string) *Session {
	sid := newSessionID()
	if userID == "" {
		userID = "user_" + sid[:8]
	}
	now := m.now()
	s := &Session{
		SessionID:   sid,
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(sessionTTL),
		TradingMode: ModePaper,
	}
	m.mu.Lock()
	m.sessions[sid] = s
	m.mu.Unlock()
	log.Printf("Session created: %s…", sid[:12])
	out := *s
	return &out
}

// Get returns a copy of the session, or false if it is unknown or
// expired. Expired sessions are invisible immediately; the sweeper
// reclaims their resources later.
func (m *Manager) Get(sid string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	if !ok || !m.now().Before(s.ExpiresAt) {
		return Session{}, false
	}
	return *s, true
}

// Count reports the number of registered sessions, expired included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetMode switches a session between paper and live trading.
func (m *Manager) SetMode(sid, mode string) error {
	if mode != ModePaper && mode != ModeLive {
		return fmt.Errorf("invalid trading mode: %s", mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		return fmt.Errorf("unknown session")
	}
	s.TradingMode = mode
	return nil
}

// ConnectBroker logs in to a venue and binds the client to the session.
// The session is only marked connected after a successful login; a
// previously bound client is torn down first.
func (m *Manager) ConnectBroker(ctx context.Context, sid string, creds common.Credentials) error {
	if _, ok := m.Get(sid); !ok {
		return fmt.Errorf("invalid session")
	}
	client, err := m.factory(creds)
	if err != nil {
		return err
	}
	if err := client.Login(ctx); err != nil {
		client.Close()
		return err
	}

	m.mu.Lock()
	old := m.clients[sid]
	m.clients[sid] = client
	if s, ok := m.sessions[sid]; ok {
		s.BrokerConnected = true
		s.BrokerType = creds.Broker
	}
	m.mu.Unlock()

	if old != nil {
		teardown(ctx, old)
	}
	return nil
}

// DisconnectBroker unbinds and closes the session's client, if any.
func (m *Manager) DisconnectBroker(ctx context.Context, sid string) bool {
	m.mu.Lock()
	client := m.clients[sid]
	delete(m.clients, sid)
	if s, ok := m.sessions[sid]; ok {
		s.BrokerConnected = false
		s.BrokerType = ""
	}
	m.mu.Unlock()

	if client == nil {
		return false
	}
	teardown(ctx, client)
	return true
}

// teardown logs out server-side where the venue supports it, then
// releases the client.
func teardown(ctx context.Context, client common.Client) {
	if lo, ok := client.(common.Logouter); ok {
		if err := lo.Logout(ctx); err != nil {
			log.Printf("broker logout: %v", err)
		}
	}
	client.Close()
}

// Client returns the broker client bound to the session, or nil.
func (m *Manager) Client(sid string) common.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[sid]
}

// PaperEngine returns the session's simulator, creating it on first
// use.
func (m *Manager) PaperEngine(sid string) *paper.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[sid]
	if !ok {
		e = paper.NewEngine(paper.DefaultCapital)
		m.engines[sid] = e
	}
	return e
}

// ResetPaperEngine replaces the session's simulator with a fresh one.
func (m *Manager) ResetPaperEngine(sid string, capital float64) {
	m.mu.Lock()
	m.engines[sid] = paper.NewEngine(capital)
	m.mu.Unlock()
}

// Delete removes the session entirely, tearing down its broker client
// and simulator.
func (m *Manager) Delete(ctx context.Context, sid string) {
	m.DisconnectBroker(ctx, sid)
	m.mu.Lock()
	delete(m.sessions, sid)
	delete(m.engines, sid)
	m.mu.Unlock()
}

// CleanupExpired reaps sessions past their expiry.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	now := m.now()
	m.mu.RLock()
	var expired []string
	for sid, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, sid)
		}
	}
	m.mu.RUnlock()

	for _, sid := range expired {
		m.Delete(ctx, sid)
	}
	if len(expired) > 0 {
		log.Printf("Cleaned %d expired sessions", len(expired))
	}
	return len(expired)
}

// Sweep runs CleanupExpired on a fixed interval until ctx is done.
// Intended to run on its own goroutine.
func (m *Manager) Sweep(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired(ctx)
		}
	}
}

// Close disconnects every broker client and drops all sessions.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sids := make([]string, 0, len(m.clients))
	for sid := range m.clients {
		sids = append(sids, sid)
	}
	m.mu.Unlock()

	for _, sid := range sids {
		m.DisconnectBroker(ctx, sid)
	}
	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.engines = make(map[string]*paper.Engine)
	m.mu.Unlock()
}
