package bans

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrBanned = errors.New("banned")

type BanType string

const (
	BanTypeIP       BanType = "ip"
	BanTypeNickname BanType = "nickname"
)

type Ban struct {
	Type      BanType   `json:"type"`
	IP        string    `json:"ip,omitempty"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Permanent bool      `json:"permanent"`
}

func (b *Ban) expired(now time.Time) bool {
	return !b.Permanent && now.After(b.ExpiresAt)
}

// Manager keeps IP and nickname bans in memory and mirrors them to a JSON
// file. An empty file path keeps bans in memory only.
type Manager struct {
	ipBans   map[string]*Ban
	nameBans map[string]*Ban
	filePath string
	now      func() time.Time
	mu       sync.RWMutex
}

func NewManager(filePath string) (*Manager, error) {
	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create bans directory: %w", err)
		}
	}

	return &Manager{
		ipBans:   make(map[string]*Ban),
		nameBans: make(map[string]*Ban),
		filePath: filePath,
		now:      time.Now,
	}, nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *Manager) Load() error {
	if m.filePath == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read bans file: %w", err)
	}

	var bans []*Ban
	if err := json.Unmarshal(data, &bans); err != nil {
		return fmt.Errorf("failed to parse bans file: %w", err)
	}

	now := m.now()
	m.ipBans = make(map[string]*Ban)
	m.nameBans = make(map[string]*Ban)
	for _, ban := range bans {
		if ban.expired(now) {
			continue
		}

		if ban.Type == "" {
			ban.Type = BanTypeIP
		}

		switch ban.Type {
		case BanTypeIP:
			if ban.IP != "" {
				m.ipBans[ban.IP] = ban
			}
		case BanTypeNickname:
			if ban.Name != "" {
				m.nameBans[nameKey(ban.Name)] = ban
			}
		}
	}

	return nil
}

func (m *Manager) IsBanned(ip string) (bool, *Ban) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ban, exists := m.ipBans[ip]
	if !exists || ban.expired(m.now()) {
		return false, nil
	}
	return true, ban
}

func (m *Manager) IsBannedByName(name string) (bool, *Ban) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ban, exists := m.nameBans[nameKey(name)]
	if !exists || ban.expired(m.now()) {
		return false, nil
	}
	return true, ban
}

// Check returns an error wrapping ErrBanned when either the address or the
// nickname is banned.
func (m *Manager) Check(ip, name string) error {
	if banned, ban := m.IsBanned(ip); banned {
		return fmt.Errorf("%w: address %s: %s", ErrBanned, ip, ban.Reason)
	}
	if banned, ban := m.IsBannedByName(name); banned {
		return fmt.Errorf("%w: nickname %s: %s", ErrBanned, name, ban.Reason)
	}
	return nil
}

func (m *Manager) newBan(t BanType, ip, name, reason, bannedBy string, duration time.Duration) *Ban {
	now := m.now()
	ban := &Ban{
		Type:      t,
		IP:        ip,
		Name:      name,
		Reason:    reason,
		BannedBy:  bannedBy,
		BannedAt:  now,
		Permanent: duration == 0,
	}
	if duration > 0 {
		ban.ExpiresAt = now.Add(duration)
	}
	return ban
}

// AddBan bans an address. A zero duration is permanent.
func (m *Manager) AddBan(ip, name, reason, bannedBy string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ipBans[ip] = m.newBan(BanTypeIP, ip, name, reason, bannedBy, duration)
	return m.saveUnlocked()
}

func (m *Manager) AddBanByName(name, reason, bannedBy string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nameBans[nameKey(name)] = m.newBan(BanTypeNickname, "", name, reason, bannedBy, duration)
	return m.saveUnlocked()
}

func (m *Manager) RemoveBan(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ipBans, ip)
	return m.saveUnlocked()
}

func (m *Manager) RemoveBanByName(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.nameBans, nameKey(name))
	return m.saveUnlocked()
}

func (m *Manager) saveUnlocked() error {
	if m.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(m.allUnlocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bans: %w", err)
	}

	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write bans file: %w", err)
	}

	return nil
}

func (m *Manager) allUnlocked() []*Ban {
	bans := make([]*Ban, 0, len(m.ipBans)+len(m.nameBans))
	for _, ban := range m.ipBans {
		bans = append(bans, ban)
	}
	for _, ban := range m.nameBans {
		bans = append(bans, ban)
	}
	sort.Slice(bans, func(i, j int) bool {
		if bans[i].Type != bans[j].Type {
			return bans[i].Type < bans[j].Type
		}
		return bans[i].IP+bans[i].Name < bans[j].IP+bans[j].Name
	})
	return bans
}

// GetAll returns the active bans.
func (m *Manager) GetAll() []*Ban {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	bans := make([]*Ban, 0, len(m.ipBans)+len(m.nameBans))
	for _, ban := range m.allUnlocked() {
		if !ban.expired(now) {
			bans = append(bans, ban)
		}
	}
	return bans
}

// Cleanup drops expired bans and rewrites the file.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for ip, ban := range m.ipBans {
		if ban.expired(now) {
			delete(m.ipBans, ip)
		}
	}
	for name, ban := range m.nameBans {
		if ban.expired(now) {
			delete(m.nameBans, name)
		}
	}

	return m.saveUnlocked()
}
