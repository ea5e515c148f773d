package player

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/siohaza/multisnake/internal/gamestate"
)

const maxSessionID = 65535

// Departure records a session that left; its snake is removed on the next
// tick.
type Departure struct {
	ID     gamestate.ID
	Name   string
	Kind   Kind
	Conn   ConnID
	Reason error
}

type Manager struct {
	sessions   map[gamestate.ID]*Session
	byConn     map[ConnID]gamestate.ID
	arrivals   []*Session
	departures []Departure
	maxPlayers int
	timeout    time.Duration
	closed     bool
	now        func() time.Time
	mu         sync.RWMutex
}

func NewManager(maxPlayers int, timeout time.Duration) *Manager {
	return &Manager{
		sessions:   make(map[gamestate.ID]*Session),
		byConn:     make(map[ConnID]gamestate.ID),
		maxPlayers: maxPlayers,
		timeout:    timeout,
		now:        time.Now,
	}
}

// SetClock replaces the time source, used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

// Register creates a human session after a successful handshake.
func (m *Manager) Register(nickname string, conn ConnID, address string) (*Session, error) {
	name, err := SanitizeNickname(nickname)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	if m.humanCountLocked() >= m.maxPlayers {
		return nil, ErrCapacityExceeded
	}

	id, ok := m.findFreeIDLocked()
	if !ok {
		return nil, ErrCapacityExceeded
	}

	now := m.now()
	mailbox := &Mailbox{}
	s := &Session{
		ID:                 id,
		Kind:               KindHuman,
		Name:               name,
		Conn:               conn,
		Address:            address,
		Mailbox:            mailbox,
		Source:             mailbox,
		ConnectedAt:        now,
		LastSeen:           now,
		LastRateLimitReset: now,
	}
	m.sessions[id] = s
	m.byConn[conn] = id
	m.arrivals = append(m.arrivals, s)
	return s, nil
}

// AddBot registers a bot. Bots do not count toward max players.
func (m *Manager) AddBot(name string, source IntentSource) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}

	id, ok := m.findFreeIDLocked()
	if !ok {
		return nil, ErrCapacityExceeded
	}

	now := m.now()
	s := &Session{
		ID:          id,
		Kind:        KindBot,
		Name:        name,
		Source:      source,
		ConnectedAt: now,
		LastSeen:    now,
	}
	m.sessions[id] = s
	m.arrivals = append(m.arrivals, s)
	return s, nil
}

func (m *Manager) Get(id gamestate.ID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) GetByConn(conn ConnID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byConn[conn]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// SubmitIntent buffers an intent for the next tick. Stale or duplicate
// sequence numbers are ignored without error.
func (m *Manager) SubmitIntent(id gamestate.ID, seq uint32, intent Intent) error {
	m.mu.RLock()
	closed := m.closed
	s, ok := m.sessions[id]
	now := m.now()
	m.mu.RUnlock()

	if closed {
		return ErrShuttingDown
	}
	if !ok || s.Mailbox == nil {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}

	s.Lock()
	s.LastSeen = now
	s.Unlock()

	s.Mailbox.Submit(seq, intent)
	return nil
}

// Touch refreshes a session's liveness, as a heartbeat does.
func (m *Manager) Touch(id gamestate.ID) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	now := m.now()
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}

	s.Lock()
	s.LastSeen = now
	s.Unlock()
	return nil
}

// Disconnect releases a session. Its snake is removed when the tick loop
// drains departures.
func (m *Manager) Disconnect(id gamestate.ID, reason error) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectLocked(id, reason)
}

func (m *Manager) disconnectLocked(id gamestate.ID, reason error) (*Session, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}

	delete(m.sessions, id)
	if s.Kind == KindHuman {
		delete(m.byConn, s.Conn)
	}
	m.departures = append(m.departures, Departure{
		ID:     id,
		Name:   s.Name,
		Kind:   s.Kind,
		Conn:   s.Conn,
		Reason: reason,
	})
	return s, true
}

// Expire disconnects human sessions silent for longer than the timeout and
// returns them.
func (m *Manager) Expire() []*Session {
	if m.timeout <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []*Session
	for _, id := range m.sortedIDsLocked() {
		s := m.sessions[id]
		if s.Kind != KindHuman {
			continue
		}
		if now.Sub(s.GetLastSeen()) > m.timeout {
			m.disconnectLocked(id, ErrSessionTimeout)
			expired = append(expired, s)
		}
	}
	return expired
}

// DrainArrivals returns sessions registered since the last call that are
// still connected.
func (m *Manager) DrainArrivals() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	arrivals := make([]*Session, 0, len(m.arrivals))
	for _, s := range m.arrivals {
		if m.sessions[s.ID] == s {
			arrivals = append(arrivals, s)
		}
	}
	m.arrivals = nil
	return arrivals
}

func (m *Manager) DrainDepartures() []Departure {
	m.mu.Lock()
	defer m.mu.Unlock()

	departures := m.departures
	m.departures = nil
	return departures
}

// Close stops accepting registrations and intents.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Count returns the number of human sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.humanCountLocked()
}

func (m *Manager) BotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) - m.humanCountLocked()
}

func (m *Manager) MaxPlayers() int {
	return m.maxPlayers
}

// All returns every session in ascending id order.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, id := range m.sortedIDsLocked() {
		sessions = append(sessions, m.sessions[id])
	}
	return sessions
}

func (m *Manager) ForEach(fn func(*Session)) {
	for _, s := range m.All() {
		fn(s)
	}
}

func (m *Manager) FindFreeID() (gamestate.ID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findFreeIDLocked()
}

func (m *Manager) findFreeIDLocked() (gamestate.ID, bool) {
	for id := 1; id <= maxSessionID; id++ {
		if _, exists := m.sessions[gamestate.ID(id)]; !exists {
			return gamestate.ID(id), true
		}
	}
	return 0, false
}

func (m *Manager) humanCountLocked() int {
	count := 0
	for _, s := range m.sessions {
		if s.Kind == KindHuman {
			count++
		}
	}
	return count
}

func (m *Manager) sortedIDsLocked() []gamestate.ID {
	ids := make([]gamestate.ID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
