package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codecat/go-enet"

	"github.com/siohaza/multisnake/internal/player"
)

const (
	DefaultQueueSize = 4096
	eventsPerPoll    = 100
	pollInterval     = 5 * time.Millisecond
	flushTimeout     = time.Second
	lingerPolls      = 20
)

var ErrNotStarted = errors.New("network server not started")

// Handler receives transport events. All calls come from the network
// goroutine.
type Handler interface {
	HandleConnect(conn player.ConnID, address string)
	HandleDisconnect(conn player.ConnID)
	HandleFrame(conn player.ConnID, data []byte)
}

type Event struct {
	Type    EventType
	Conn    player.ConnID
	Address string
	Data    []byte
}

type EventType int

const (
	EventTypeNone EventType = iota
	EventTypeConnect
	EventTypeDisconnect
	EventTypeReceive
)

type outbound struct {
	conn       player.ConnID
	data       []byte
	reliable   bool
	disconnect bool
	reason     uint32
}

// Server owns the ENet host. Only the goroutine running Run touches the host
// and the peer table; other goroutines talk to it through the outbound queue.
type Server struct {
	host     enet.Host
	port     uint16
	maxPeers int
	logger   *slog.Logger

	peers    map[player.ConnID]enet.Peer
	conns    map[enet.Peer]player.ConnID
	nextConn uint32

	outbox  chan outbound
	flushes chan chan struct{}
	dropped atomic.Uint64
	peerCnt atomic.Int64
	running atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func NewServer(port int, maxPeers int, queueSize int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Server{
		port:     uint16(port),
		maxPeers: maxPeers,
		logger:   logger,
		peers:    make(map[player.ConnID]enet.Peer),
		conns:    make(map[enet.Peer]player.ConnID),
		outbox:   make(chan outbound, queueSize),
		flushes:  make(chan chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (s *Server) Start() error {
	address := enet.NewListenAddress(s.port)

	var err error
	s.host, err = enet.NewHost(address, uint64(s.maxPeers), 1, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to create ENet host: %w", err)
	}

	if err := s.host.CompressWithRangeCoder(); err != nil {
		return fmt.Errorf("failed to setup range coder compression: %w", err)
	}

	s.logger.Info("network started", "port", s.port, "max_peers", s.maxPeers)
	return nil
}

// Run services the host until ctx is cancelled, then lingers briefly so queued
// rejects reach their peers, and destroys the host.
func (s *Server) Run(ctx context.Context, handler Handler) error {
	if s.host == nil {
		return ErrNotStarted
	}
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.linger(handler)
		s.host.Destroy()
		s.logger.Info("network stopped")
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ack := <-s.flushes:
			s.drainOutbox()
			close(ack)
		default:
		}

		s.drainOutbox()

		event, err := s.Service(pollInterval)
		if err != nil {
			return err
		}
		for i := 0; i < eventsPerPoll && event.Type != EventTypeNone; i++ {
			s.dispatch(handler, event)
			event, err = s.Service(0)
			if err != nil {
				return err
			}
		}
		if event.Type != EventTypeNone {
			s.dispatch(handler, event)
		}
	}
}

// Done is closed once Run has returned and the host is destroyed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) linger(handler Handler) {
	s.drainOutbox()
	for i := 0; i < lingerPolls && len(s.peers) > 0; i++ {
		event, err := s.Service(pollInterval)
		if err != nil {
			return
		}
		if event.Type == EventTypeDisconnect {
			s.dispatch(handler, event)
		}
		s.drainOutbox()
	}
}

func (s *Server) dispatch(handler Handler, event *Event) {
	switch event.Type {
	case EventTypeConnect:
		handler.HandleConnect(event.Conn, event.Address)
	case EventTypeDisconnect:
		handler.HandleDisconnect(event.Conn)
	case EventTypeReceive:
		handler.HandleFrame(event.Conn, event.Data)
	}
}

// Service polls the host once and translates the result.
func (s *Server) Service(timeout time.Duration) (*Event, error) {
	if s.host == nil {
		return nil, ErrNotStarted
	}

	timeoutMs := uint32(timeout.Milliseconds())
	enetEvent := s.host.Service(timeoutMs)

	if enetEvent == nil || enetEvent.GetType() == enet.EventNone {
		return &Event{Type: EventTypeNone}, nil
	}

	peer := enetEvent.GetPeer()
	event := &Event{}

	switch enetEvent.GetType() {
	case enet.EventConnect:
		s.nextConn++
		conn := player.ConnID(s.nextConn)
		s.peers[conn] = peer
		s.conns[peer] = conn
		s.peerCnt.Add(1)

		event.Type = EventTypeConnect
		event.Conn = conn
		event.Address = hostOnly(peer.GetAddress().String())
		s.logger.Debug("peer connected", "conn", conn, "address", event.Address)

	case enet.EventDisconnect:
		conn, ok := s.conns[peer]
		if !ok {
			return &Event{Type: EventTypeNone}, nil
		}
		delete(s.conns, peer)
		delete(s.peers, conn)
		s.peerCnt.Add(-1)

		event.Type = EventTypeDisconnect
		event.Conn = conn
		s.logger.Debug("peer disconnected", "conn", conn)

	case enet.EventReceive:
		packet := enetEvent.GetPacket()
		conn, ok := s.conns[peer]
		if packet == nil {
			return &Event{Type: EventTypeNone}, nil
		}
		if !ok {
			packet.Destroy()
			return &Event{Type: EventTypeNone}, nil
		}
		data := packet.GetData()
		event.Data = make([]byte, len(data))
		copy(event.Data, data)
		packet.Destroy()

		event.Type = EventTypeReceive
		event.Conn = conn
	}

	return event, nil
}

// Send queues a frame without blocking. It reports false when the queue is
// full and the frame was dropped.
func (s *Server) Send(conn player.ConnID, data []byte, reliable bool) bool {
	select {
	case s.outbox <- outbound{conn: conn, data: data, reliable: reliable}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Disconnect queues a graceful disconnect carrying reason.
func (s *Server) Disconnect(conn player.ConnID, reason uint32) {
	select {
	case s.outbox <- outbound{conn: conn, disconnect: true, reason: reason}:
	default:
		s.dropped.Add(1)
		s.logger.Warn("outbound queue full, disconnect dropped", "conn", conn)
	}
}

// Flush waits until the network goroutine has handed every queued frame to
// ENet. It returns early when Run is not active.
func (s *Server) Flush() {
	if !s.running.Load() {
		return
	}
	ack := make(chan struct{})
	select {
	case s.flushes <- ack:
	case <-time.After(flushTimeout):
		s.logger.Warn("flush timed out")
		return
	}
	select {
	case <-ack:
	case <-time.After(flushTimeout):
		s.logger.Warn("flush timed out")
	}
}

func (s *Server) drainOutbox() {
	for {
		select {
		case msg := <-s.outbox:
			s.deliver(msg)
		default:
			return
		}
	}
}

func (s *Server) deliver(msg outbound) {
	peer, ok := s.peers[msg.conn]
	if !ok {
		return
	}
	if msg.disconnect {
		s.DisconnectPeerWithReason(peer, false, msg.reason)
		return
	}
	if err := s.SendPacket(peer, msg.data, msg.reliable); err != nil {
		s.logger.Debug("send failed", "conn", msg.conn, "error", err)
	}
}

func (s *Server) SendPacket(peer enet.Peer, data []byte, reliable bool) error {
	if peer == nil {
		return fmt.Errorf("peer is nil")
	}

	flags := enet.PacketFlagUnsequenced
	if reliable {
		flags = enet.PacketFlagReliable
	}

	packet, err := enet.NewPacket(data, flags)
	if err != nil {
		return fmt.Errorf("failed to create packet: %w", err)
	}

	if err := peer.SendPacket(packet, 0); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	return nil
}

func (s *Server) DisconnectPeerWithReason(peer enet.Peer, immediate bool, reason uint32) {
	if peer == nil {
		return
	}

	if immediate {
		peer.DisconnectNow(reason)
	} else {
		peer.Disconnect(reason)
	}
}

// Stop destroys the host when Run was never started.
func (s *Server) Stop() {
	s.once.Do(func() {
		if s.host != nil && !s.running.Load() {
			select {
			case <-s.done:
			default:
				s.host.Destroy()
				s.logger.Info("network stopped")
			}
		}
	})
}

func (s *Server) GetPeerCount() int {
	return int(s.peerCnt.Load())
}

func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

func hostOnly(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}
