package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codecat/go-enet"

	"github.com/siohaza/multisnake/internal/bot"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/protocol"
)

var (
	ErrConnectTimeout = errors.New("timed out connecting to server")
	ErrDisconnected   = errors.New("server closed the connection")
	ErrNotJoined      = errors.New("not joined")
)

const (
	pollInterval    = 10 * time.Millisecond
	disconnectDelay = 100 * time.Millisecond
)

// RejectedError is returned when the server refuses or ends the session.
type RejectedError struct {
	Reason  protocol.RejectReason
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Message)
}

type Config struct {
	Address           string
	Port              int
	Nickname          string
	Autopilot         bool
	FastMode          bool
	StatusOnly        bool
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
}

type frameSender interface {
	send(data []byte, reliable bool) error
}

type peerSender struct {
	peer enet.Peer
}

func (p peerSender) send(data []byte, reliable bool) error {
	flags := enet.PacketFlagUnsequenced
	if reliable {
		flags = enet.PacketFlagReliable
	}
	packet, err := enet.NewPacket(data, flags)
	if err != nil {
		return fmt.Errorf("failed to create packet: %w", err)
	}
	return p.peer.SendPacket(packet, 0)
}

// Client is a headless player. With Autopilot set it steers its snake with
// the same controller the server uses for bots.
type Client struct {
	cfg    Config
	logger *slog.Logger
	host   enet.Host
	peer   enet.Peer
	out    frameSender

	accept     *protocol.PacketAccept
	status     *protocol.PacketStatus
	latest     *gamestate.Snapshot
	controller *bot.Controller
	seq        uint32

	respawnSent   bool
	lastHeartbeat time.Time
	snapshots     uint64
	deaths        int
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = protocol.DefaultPort
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if !cfg.StatusOnly {
		if _, err := player.SanitizeNickname(cfg.Nickname); err != nil {
			return nil, err
		}
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		controller: bot.NewController(bot.Config{FastMode: cfg.FastMode}),
	}, nil
}

// Run connects, joins and plays until ctx is cancelled or the server ends the
// session.
func (c *Client) Run(ctx context.Context) error {
	host, err := enet.NewHost(nil, 1, 1, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	if err := host.CompressWithRangeCoder(); err != nil {
		host.Destroy()
		return err
	}
	c.host = host
	defer c.host.Destroy()

	address := enet.NewAddress(c.cfg.Address, uint16(c.cfg.Port))
	c.peer, err = c.host.Connect(address, 1, 0)
	if err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", c.cfg.Address, c.cfg.Port, err)
	}
	c.out = peerSender{peer: c.peer}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	connected := false

	for {
		select {
		case <-ctx.Done():
			c.leave()
			return nil
		default:
		}

		if !connected && time.Now().After(deadline) {
			return ErrConnectTimeout
		}

		event := c.host.Service(uint32(pollInterval.Milliseconds()))
		switch event.GetType() {
		case enet.EventConnect:
			connected = true
			c.logger.Info("connected", "address", c.cfg.Address, "port", c.cfg.Port)
			if err := c.hello(); err != nil {
				return err
			}

		case enet.EventDisconnect:
			return ErrDisconnected

		case enet.EventReceive:
			packet := event.GetPacket()
			data := append([]byte(nil), packet.GetData()...)
			packet.Destroy()

			done, err := c.handleFrame(data)
			if err != nil {
				return err
			}
			if done {
				c.peer.Disconnect(0)
				c.host.Service(uint32(disconnectDelay.Milliseconds()))
				return nil
			}
		}

		if c.accept != nil && time.Since(c.lastHeartbeat) >= c.cfg.HeartbeatInterval {
			if err := c.sendPacket(protocol.NewHeartbeat(c.accept.Session, c.nextSeq()), false); err != nil {
				c.logger.Warn("failed to send heartbeat", "error", err)
			}
			c.lastHeartbeat = time.Now()
		}
	}
}

func (c *Client) hello() error {
	if c.cfg.StatusOnly {
		return c.sendPacket(&protocol.PacketStatusRequest{}, true)
	}
	return c.sendPacket(&protocol.PacketJoin{Nickname: c.cfg.Nickname}, true)
}

func (c *Client) leave() {
	if c.peer == nil {
		return
	}
	if c.accept != nil {
		if err := c.sendPacket(&protocol.PacketLeave{Session: c.accept.Session}, true); err != nil {
			c.logger.Debug("failed to send leave", "error", err)
		}
	}
	c.peer.Disconnect(0)
	time.Sleep(disconnectDelay)
	c.host.Service(0)
}

// handleFrame reacts to one server frame. It reports done when the client has
// what it came for.
func (c *Client) handleFrame(data []byte) (bool, error) {
	packet, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame from server", "error", err)
		return false, nil
	}

	switch p := packet.(type) {
	case *protocol.PacketAccept:
		c.accept = p
		c.lastHeartbeat = time.Now()
		c.logger.Info("joined",
			"session", p.Session,
			"width", p.Width,
			"height", p.Height,
			"tps", p.TicksPerSecond,
			"wrap", p.Wrap,
		)

	case *protocol.PacketReject:
		return true, &RejectedError{Reason: p.Reason, Message: p.Message}

	case *protocol.PacketStatus:
		c.status = p
		c.logger.Info("server status",
			"players", p.Players,
			"max_players", p.MaxPlayers,
			"bots", p.Bots,
			"width", p.Width,
			"height", p.Height,
			"food_rate", p.FoodRate,
			"tps", p.TicksPerSecond,
		)
		return c.cfg.StatusOnly, nil

	case *protocol.PacketSnapshot:
		c.snapshots++
		if c.latest != nil && p.Snapshot.Tick <= c.latest.Tick {
			return false, nil
		}
		c.latest = p.Snapshot
		if c.cfg.Autopilot && c.accept != nil {
			c.steer(p.Snapshot)
		}

	case *protocol.PacketDied:
		c.deaths++
		c.respawnSent = false
		c.logger.Info("snake died",
			"cause", gamestate.DeathCause(p.Cause),
			"killer", p.KillerID,
			"deaths", c.deaths,
		)

	default:
		c.logger.Debug("ignoring frame", "type", packet.Type())
	}

	return false, nil
}

func (c *Client) steer(snap *gamestate.Snapshot) {
	id := gamestate.ID(c.accept.Session)
	world := gamestate.FromSnapshot(snap, gamestate.Config{}, snap.Tick)
	intent := c.controller.NextIntent(world, id)

	if intent.Respawn {
		if !c.respawnSent {
			c.respawnSent = true
			c.send(protocol.NewRespawn(c.accept.Session, c.nextSeq()), true)
		}
		return
	}
	c.respawnSent = false

	own, _ := world.Snake(id)
	if intent.HasDirection && intent.Direction != own.Direction {
		c.send(&protocol.PacketDirection{
			Session:   c.accept.Session,
			Seq:       c.nextSeq(),
			Direction: intent.Direction,
		}, false)
	}
	if intent.ToggleFast {
		c.send(protocol.NewFastToggle(c.accept.Session, c.nextSeq()), false)
	}
}

func (c *Client) send(p protocol.Packet, reliable bool) {
	if err := c.sendPacket(p, reliable); err != nil {
		c.logger.Warn("failed to send frame", "type", p.Type(), "error", err)
	}
}

func (c *Client) sendPacket(p protocol.Packet, reliable bool) error {
	if c.out == nil {
		return ErrNotJoined
	}
	data, err := protocol.Marshal(p)
	if err != nil {
		return err
	}
	return c.out.send(data, reliable)
}

func (c *Client) nextSeq() uint32 {
	c.seq++
	return c.seq
}

// Latest returns the newest snapshot received, or nil.
func (c *Client) Latest() *gamestate.Snapshot {
	return c.latest
}

func (c *Client) Session() (uint16, bool) {
	if c.accept == nil {
		return 0, false
	}
	return c.accept.Session, true
}

func (c *Client) Status() *protocol.PacketStatus {
	return c.status
}

func (c *Client) Deaths() int {
	return c.deaths
}
