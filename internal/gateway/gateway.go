package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/broadcast"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/protocol"
)

var ErrSessionMismatch = errors.New("frame carries another session id")

type Config struct {
	Width              int
	Height             int
	Wrap               bool
	TicksPerSecond     int
	FoodRate           int
	MaxMalformedFrames int
	RateLimitBurst     int
	MaxViolations      int
}

type pendingConn struct {
	address   string
	malformed int
}

// Gateway turns transport events into session operations. It is called from
// the network goroutine and never touches the world.
type Gateway struct {
	cfg         Config
	transport   broadcast.Sender
	broadcaster *broadcast.Broadcaster
	sessions    *player.Manager
	bans        *bans.Manager
	logger      *slog.Logger

	pending map[player.ConnID]*pendingConn
	mu      sync.Mutex
}

func New(cfg Config, transport broadcast.Sender, sessions *player.Manager, banManager *bans.Manager, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:         cfg,
		transport:   transport,
		broadcaster: broadcast.New(transport, sessions, logger),
		sessions:    sessions,
		bans:        banManager,
		logger:      logger,
		pending:     make(map[player.ConnID]*pendingConn),
	}
}

func (g *Gateway) HandleConnect(conn player.ConnID, address string) {
	g.mu.Lock()
	g.pending[conn] = &pendingConn{address: address}
	g.mu.Unlock()

	g.logger.Debug("connection opened", "conn", conn, "address", address)
}

func (g *Gateway) HandleDisconnect(conn player.ConnID) {
	g.mu.Lock()
	delete(g.pending, conn)
	g.mu.Unlock()

	if s, ok := g.sessions.GetByConn(conn); ok {
		g.sessions.Disconnect(s.ID, player.ErrConnectionLost)
	}
	g.logger.Debug("connection closed", "conn", conn)
}

// HandleFrame processes one inbound frame.
func (g *Gateway) HandleFrame(conn player.ConnID, data []byte) {
	sess, joined := g.sessions.GetByConn(conn)

	if joined {
		allowed, disconnect := sess.CheckRate(g.sessions.Now(), g.cfg.RateLimitBurst, g.cfg.MaxViolations)
		if disconnect {
			g.logger.Warn("rate limit exceeded, disconnecting", "id", sess.ID, "name", sess.Name)
			g.sessions.Disconnect(sess.ID, player.ErrRateLimited)
			return
		}
		if !allowed {
			return
		}
	}

	packet, err := protocol.Decode(data)
	if err != nil {
		g.malformed(conn, sess, err)
		return
	}

	if !joined {
		g.handleUnjoined(conn, packet)
		return
	}

	switch p := packet.(type) {
	case *protocol.PacketStatusRequest:
		g.sendStatus(conn)
	case *protocol.PacketJoin:
		g.logger.Debug("duplicate join ignored", "id", sess.ID)
	case *protocol.PacketDirection:
		if g.checkSession(conn, sess, p.Session, p.Type()) {
			g.submit(sess, p.Seq, player.Intent{Direction: p.Direction, HasDirection: true})
		}
	case *protocol.PacketFastToggle:
		if g.checkSession(conn, sess, p.Session, p.Type()) {
			g.submit(sess, p.Seq, player.Intent{ToggleFast: true})
		}
	case *protocol.PacketRespawn:
		if g.checkSession(conn, sess, p.Session, p.Type()) {
			g.submit(sess, p.Seq, player.Intent{Respawn: true})
		}
	case *protocol.PacketHeartbeat:
		if g.checkSession(conn, sess, p.Session, p.Type()) {
			g.sessions.Touch(sess.ID)
		}
	case *protocol.PacketLeave:
		if g.checkSession(conn, sess, p.Session, p.Type()) {
			g.sessions.Disconnect(sess.ID, player.ErrLeft)
			g.logger.Info("player left", "id", sess.ID, "name", sess.Name)
		}
	default:
		g.malformed(conn, sess, &protocol.Error{Type: packet.Type(), Reason: "server-bound only"})
	}
}

func (g *Gateway) handleUnjoined(conn player.ConnID, packet protocol.Packet) {
	switch p := packet.(type) {
	case *protocol.PacketJoin:
		g.join(conn, p.Nickname)
	case *protocol.PacketStatusRequest:
		g.sendStatus(conn)
	default:
		g.malformed(conn, nil, &protocol.Error{Type: packet.Type(), Reason: "not joined"})
	}
}

func (g *Gateway) join(conn player.ConnID, nickname string) {
	address := g.address(conn)

	name, err := player.SanitizeNickname(nickname)
	if err == nil && g.bans != nil {
		err = g.bans.Check(address, name)
	}

	var sess *player.Session
	if err == nil {
		sess, err = g.sessions.Register(name, conn, address)
	}
	if err != nil {
		g.logger.Info("join rejected", "conn", conn, "address", address, "nickname", nickname, "error", err)
		g.broadcaster.Reject(conn, broadcast.RejectReason(err), err.Error())
		g.forget(conn)
		return
	}

	g.forget(conn)

	accept := &protocol.PacketAccept{
		Session:        uint16(sess.ID),
		Width:          uint16(g.cfg.Width),
		Height:         uint16(g.cfg.Height),
		TicksPerSecond: uint8(g.cfg.TicksPerSecond),
		Wrap:           g.cfg.Wrap,
	}
	if err := g.send(conn, accept, true); err != nil {
		g.logger.Error("failed to send accept", "id", sess.ID, "error", err)
	}
	g.logger.Info("player joined", "id", sess.ID, "name", sess.Name, "address", address)
}

func (g *Gateway) submit(sess *player.Session, seq uint32, intent player.Intent) {
	if err := g.sessions.SubmitIntent(sess.ID, seq, intent); err != nil {
		g.logger.Debug("intent dropped", "id", sess.ID, "error", err)
	}
}

func (g *Gateway) checkSession(conn player.ConnID, sess *player.Session, claimed uint16, t protocol.PacketType) bool {
	if uint16(sess.ID) == claimed {
		return true
	}
	g.malformed(conn, sess, &protocol.Error{
		Type:   t,
		Reason: fmt.Sprintf("%v: %d, connection owns %d", ErrSessionMismatch, claimed, sess.ID),
	})
	return false
}

// malformed counts a bad frame against the connection and drops it once the
// threshold is crossed.
func (g *Gateway) malformed(conn player.ConnID, sess *player.Session, err error) {
	if sess != nil {
		count := sess.RecordMalformed()
		g.logger.Debug("malformed frame", "id", sess.ID, "count", count, "error", err)
		if count > g.cfg.MaxMalformedFrames {
			g.logger.Warn("too many malformed frames, disconnecting", "id", sess.ID, "name", sess.Name)
			g.sessions.Disconnect(sess.ID, player.ErrTooManyMalformed)
		}
		return
	}

	g.mu.Lock()
	pc, ok := g.pending[conn]
	if !ok {
		pc = &pendingConn{}
		g.pending[conn] = pc
	}
	pc.malformed++
	count := pc.malformed
	g.mu.Unlock()

	g.logger.Debug("malformed frame before join", "conn", conn, "count", count, "error", err)
	if count > g.cfg.MaxMalformedFrames {
		g.broadcaster.Reject(conn, protocol.RejectReasonProtocolViolation, player.ErrTooManyMalformed.Error())
		g.forget(conn)
	}
}

// Status describes the server for status requests.
func (g *Gateway) Status() protocol.PacketStatus {
	return protocol.PacketStatus{
		MaxPlayers:     uint16(g.sessions.MaxPlayers()),
		Players:        uint16(g.sessions.Count()),
		Bots:           uint16(g.sessions.BotCount()),
		Width:          uint16(g.cfg.Width),
		Height:         uint16(g.cfg.Height),
		FoodRate:       uint8(g.cfg.FoodRate),
		TicksPerSecond: uint8(g.cfg.TicksPerSecond),
	}
}

func (g *Gateway) sendStatus(conn player.ConnID) {
	status := g.Status()
	if err := g.send(conn, &status, true); err != nil {
		g.logger.Error("failed to send status", "conn", conn, "error", err)
	}
}

func (g *Gateway) send(conn player.ConnID, packet protocol.Packet, reliable bool) error {
	data, err := protocol.Marshal(packet)
	if err != nil {
		return err
	}
	if !g.transport.Send(conn, data, reliable) {
		return fmt.Errorf("failed to queue %s frame", packet.Type())
	}
	return nil
}

func (g *Gateway) address(conn player.ConnID) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pc, ok := g.pending[conn]; ok {
		return pc.address
	}
	return ""
}

func (g *Gateway) forget(conn player.ConnID) {
	g.mu.Lock()
	delete(g.pending, conn)
	g.mu.Unlock()
}

// PendingCount reports connections that have not joined yet.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
