package player

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	MinNicknameLen = 1
	MaxNicknameLen = 10
)

var (
	ErrInvalidNickname  = errors.New("invalid nickname")
	ErrCapacityExceeded = errors.New("server full")
	ErrSessionTimeout   = errors.New("session timed out")
	ErrShuttingDown     = errors.New("server shutting down")
	ErrUnknownSession   = errors.New("unknown session")
	ErrLeft             = errors.New("left the game")
	ErrConnectionLost   = errors.New("connection lost")
	ErrKicked           = errors.New("kicked")
	ErrTooManyMalformed = errors.New("too many malformed frames")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

type Kind uint8

const (
	KindHuman Kind = iota
	KindBot
)

func (k Kind) String() string {
	if k == KindBot {
		return "bot"
	}
	return "human"
}

type ConnID uint32

// Intent is what a player asked for since the last tick.
type Intent struct {
	Direction    grid.Direction
	HasDirection bool
	ToggleFast   bool
	Respawn      bool
}

func (i Intent) Empty() bool {
	return !i.HasDirection && !i.ToggleFast && !i.Respawn
}

// IntentSource yields the intent a session contributes to the coming tick.
// Human sessions read their mailbox, bots compute one from the world.
type IntentSource interface {
	NextIntent(w *gamestate.World, id gamestate.ID) Intent
}

// Mailbox is a single-slot intent buffer. Newer messages overwrite older
// ones of the same kind, stale sequence numbers are dropped.
type Mailbox struct {
	pending Intent
	lastSeq uint32
	hasSeq  bool
	mu      sync.Mutex
}

func (mb *Mailbox) Submit(seq uint32, intent Intent) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.hasSeq && seq <= mb.lastSeq {
		return false
	}
	mb.lastSeq = seq
	mb.hasSeq = true

	if intent.HasDirection {
		mb.pending.Direction = intent.Direction
		mb.pending.HasDirection = true
	}
	if intent.ToggleFast {
		mb.pending.ToggleFast = !mb.pending.ToggleFast
	}
	if intent.Respawn {
		mb.pending.Respawn = true
	}
	return true
}

func (mb *Mailbox) Take() Intent {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	intent := mb.pending
	mb.pending = Intent{}
	return intent
}

func (mb *Mailbox) LastSeq() uint32 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.lastSeq
}

func (mb *Mailbox) NextIntent(_ *gamestate.World, _ gamestate.ID) Intent {
	return mb.Take()
}

type Session struct {
	ID          gamestate.ID
	Kind        Kind
	Name        string
	Conn        ConnID
	Address     string
	Mailbox     *Mailbox
	Source      IntentSource
	ConnectedAt time.Time

	LastSeen            time.Time
	MalformedFrames     int
	PacketCount         int
	LastRateLimitReset  time.Time
	RateLimitViolations int

	// RespawnTick is the tick at which a bot without a snake spawns again.
	RespawnTick uint64
	Deaths      int
	BestScore   int

	mu sync.RWMutex
}

func (s *Session) Lock() {
	s.mu.Lock()
}

func (s *Session) Unlock() {
	s.mu.Unlock()
}

func (s *Session) RLock() {
	s.mu.RLock()
}

func (s *Session) RUnlock() {
	s.mu.RUnlock()
}

func (s *Session) IsBot() bool {
	return s.Kind == KindBot
}

func (s *Session) GetLastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastSeen
}

// RecordMalformed counts a bad frame and reports the new total.
func (s *Session) RecordMalformed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MalformedFrames++
	return s.MalformedFrames
}

// CheckRate counts one inbound packet. It returns false when the packet
// exceeds the burst window, and disconnect when violations reached the limit.
func (s *Session) CheckRate(now time.Time, burst, maxViolations int) (allowed bool, disconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.LastRateLimitReset) >= time.Second {
		s.PacketCount = 0
		s.LastRateLimitReset = now
	}

	s.PacketCount++
	if burst <= 0 || s.PacketCount <= burst {
		return true, false
	}

	s.RateLimitViolations++
	return false, s.RateLimitViolations >= maxViolations
}

func (s *Session) RecordDeath(score int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deaths++
	if score > s.BestScore {
		s.BestScore = score
	}
}

var nicknameFilter = runes.Remove(runes.Predicate(func(r rune) bool {
	return !unicode.IsPrint(r)
}))

// SanitizeNickname drops unprintable runes and surrounding spaces and checks
// the result fits the wire charset and length limits.
func SanitizeNickname(raw string) (string, error) {
	cleaned, _, err := transform.String(nicknameFilter, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNickname, err)
	}
	cleaned = strings.TrimSpace(cleaned)

	if _, err := charmap.CodePage437.NewEncoder().String(cleaned); err != nil {
		return "", fmt.Errorf("%w: unsupported characters", ErrInvalidNickname)
	}

	length := utf8.RuneCountInString(cleaned)
	if length < MinNicknameLen {
		return "", fmt.Errorf("%w: too short", ErrInvalidNickname)
	}
	if length > MaxNicknameLen {
		return "", fmt.Errorf("%w: too long", ErrInvalidNickname)
	}

	return cleaned, nil
}
