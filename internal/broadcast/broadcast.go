package broadcast

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/protocol"
	"github.com/siohaza/multisnake/internal/simulation"
)

// Sender hands frames to the transport. Send must not block; it reports
// false when the frame was dropped.
type Sender interface {
	Send(conn player.ConnID, data []byte, reliable bool) bool
	Disconnect(conn player.ConnID, reason uint32)
}

// Flusher is implemented by senders that buffer outbound frames.
type Flusher interface {
	Flush()
}

type Stats struct {
	Frames  uint64
	Sent    uint64
	Dropped uint64
}

type Broadcaster struct {
	sender   Sender
	sessions *player.Manager
	logger   *slog.Logger

	viewWidth  int
	viewHeight int

	frames  atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

func New(sender Sender, sessions *player.Manager, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		sender:   sender,
		sessions: sessions,
		logger:   logger,
	}
}

// SetView makes each player with a snake receive only the width x height
// window around its head. Zero sends everyone the whole world.
func (b *Broadcaster) SetView(width, height int) {
	if width <= 0 || height <= 0 {
		width, height = 0, 0
	}
	b.viewWidth = width
	b.viewHeight = height
}

// RejectReason maps a session error onto the reason sent to the client.
func RejectReason(err error) protocol.RejectReason {
	switch {
	case err == nil:
		return protocol.RejectReasonUndefined
	case errors.Is(err, bans.ErrBanned):
		return protocol.RejectReasonBanned
	case errors.Is(err, player.ErrInvalidNickname):
		return protocol.RejectReasonInvalidNickname
	case errors.Is(err, player.ErrCapacityExceeded):
		return protocol.RejectReasonCapacityExceeded
	case errors.Is(err, player.ErrShuttingDown):
		return protocol.RejectReasonShutdown
	case errors.Is(err, player.ErrSessionTimeout):
		return protocol.RejectReasonTimeout
	case errors.Is(err, player.ErrKicked):
		return protocol.RejectReasonKicked
	case errors.Is(err, gamestate.ErrNoSpace):
		return protocol.RejectReasonNoSpace
	case errors.Is(err, player.ErrTooManyMalformed),
		errors.Is(err, player.ErrRateLimited),
		errors.Is(err, protocol.ErrMalformed):
		return protocol.RejectReasonProtocolViolation
	default:
		return protocol.RejectReasonUndefined
	}
}

// Dispatch sends one tick's results. The whole-world snapshot is encoded at
// most once and shared; windowed snapshots are encoded per player.
func (b *Broadcaster) Dispatch(frame *simulation.Frame) {
	for _, d := range frame.Departures {
		b.notifyDeparture(d)
	}

	snap := frame.Snapshot
	if snap == nil {
		return
	}

	heads := make(map[gamestate.ID]grid.Position, len(snap.Snakes))
	if b.viewWidth > 0 {
		for _, s := range snap.Snakes {
			if len(s.Body) > 0 {
				heads[s.ID] = s.Head()
			}
		}
	}

	deaths := make(map[gamestate.ID]simulation.Death, len(frame.Deaths))
	for _, d := range frame.Deaths {
		deaths[d.ID] = d
	}

	var full []byte
	for _, s := range b.sessions.All() {
		if s.IsBot() {
			continue
		}

		var data []byte
		if head, ok := heads[s.ID]; ok {
			data = b.encode(snap.Crop(grid.Window{Center: head, Width: b.viewWidth, Height: b.viewHeight}))
		} else {
			if full == nil {
				full = b.encode(snap)
			}
			data = full
		}
		if data == nil {
			continue
		}

		if b.sender.Send(s.Conn, data, false) {
			b.sent.Add(1)
		} else {
			b.dropped.Add(1)
		}

		if death, ok := deaths[s.ID]; ok {
			b.sendDied(s.Conn, death)
		}
	}
}

func (b *Broadcaster) encode(snap *gamestate.Snapshot) []byte {
	data, err := protocol.Marshal(protocol.NewSnapshot(snap))
	if err != nil {
		b.logger.Error("failed to encode snapshot", "tick", snap.Tick, "error", err)
		return nil
	}
	b.frames.Add(1)
	return data
}

func (b *Broadcaster) sendDied(conn player.ConnID, death simulation.Death) {
	packet := &protocol.PacketDied{Cause: uint8(death.Cause)}
	if death.HasKiller {
		packet.KillerID = uint16(death.KillerID)
	}
	data, err := protocol.Marshal(packet)
	if err != nil {
		b.logger.Error("failed to encode died frame", "id", death.ID, "error", err)
		return
	}
	b.sender.Send(conn, data, true)
}

func (b *Broadcaster) notifyDeparture(d player.Departure) {
	if d.Kind != player.KindHuman {
		return
	}
	switch {
	case errors.Is(d.Reason, player.ErrConnectionLost):
		return
	case errors.Is(d.Reason, player.ErrLeft):
		b.sender.Disconnect(d.Conn, 0)
		return
	}

	b.Reject(d.Conn, RejectReason(d.Reason), errorMessage(d.Reason))
}

// Reject sends a reliable reject frame and closes the connection.
func (b *Broadcaster) Reject(conn player.ConnID, reason protocol.RejectReason, message string) {
	data, err := protocol.Marshal(&protocol.PacketReject{Reason: reason, Message: message})
	if err != nil {
		b.logger.Error("failed to encode reject", "reason", reason, "error", err)
	} else {
		b.sender.Send(conn, data, true)
	}
	b.sender.Disconnect(conn, uint32(reason))
}

// RejectAll closes every human session with the given reason, used on
// shutdown.
func (b *Broadcaster) RejectAll(reason protocol.RejectReason, message string) int {
	count := 0
	for _, s := range b.sessions.All() {
		if s.IsBot() {
			continue
		}
		b.Reject(s.Conn, reason, message)
		count++
	}
	return count
}

// Drain flushes buffered frames when the sender supports it.
func (b *Broadcaster) Drain() {
	if f, ok := b.sender.(Flusher); ok {
		f.Flush()
	}
}

func (b *Broadcaster) Stats() Stats {
	return Stats{
		Frames:  b.frames.Load(),
		Sent:    b.sent.Load(),
		Dropped: b.dropped.Load(),
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
