package session

import (
	"net"
	"sync"

	"github.com/xiaolink/xiaolink/internal/protocol"
	"github.com/xiaolink/xiaolink/internal/xerr"
)

// Manager holds the two concurrent maps spec.md §4.7 names: TCP-peer →
// Session and UDP-peer → TCP-peer. Safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	byTCP     map[string]*Session
	tcpByUDP  map[string]string
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byTCP:    make(map[string]*Session),
		tcpByUDP: make(map[string]string),
	}
}

// Register atomically inserts s, keyed by its control connection's peer
// address and its advertised UDP endpoint. Returns an error if a session
// already exists for that TCP peer (spec.md invariant 1).
func (m *Manager) Register(s *Session) error {
	tcpKey := s.Control.PeerAddr().String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTCP[tcpKey]; exists {
		return xerr.New(xerr.KindProtocolError, "duplicate session for tcp peer "+tcpKey)
	}
	m.byTCP[tcpKey] = s
	if s.UDPAddr != nil {
		m.tcpByUDP[s.UDPAddr.String()] = tcpKey
	}
	return nil
}

// Unregister atomically removes s from both maps.
func (m *Manager) Unregister(s *Session) {
	tcpKey := s.Control.PeerAddr().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTCP, tcpKey)
	if s.UDPAddr != nil {
		delete(m.tcpByUDP, s.UDPAddr.String())
	}
}

// ByTCP looks up a session by its control connection's peer address.
func (m *Manager) ByTCP(addr net.Addr) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byTCP[addr.String()]
	return s, ok
}

// ByUDP looks up a session by its advertised UDP audio endpoint.
func (m *Manager) ByUDP(addr *net.UDPAddr) (*Session, bool) {
	m.mu.RLock()
	tcpKey, ok := m.tcpByUDP[addr.String()]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	s, ok := m.byTCP[tcpKey]
	m.mu.RUnlock()
	return s, ok
}

// All returns a snapshot of every registered session.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.byTCP))
	for _, s := range m.byTCP {
		out = append(out, s)
	}
	return out
}

// Broadcast sends msg to every registered session, collecting (not
// stopping on) per-session send errors.
func (m *Manager) Broadcast(msg protocol.ControlMessage) []error {
	return m.BroadcastExcept(msg, nil)
}

// BroadcastExcept sends msg to every registered session except the one
// whose control peer address equals except (nil broadcasts to all).
func (m *Manager) BroadcastExcept(msg protocol.ControlMessage, except net.Addr) []error {
	sessions := m.All()
	var errs []error
	for _, s := range sessions {
		if except != nil && s.Control.PeerAddr().String() == except.String() {
			continue
		}
		if err := s.Control.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTCP)
}
