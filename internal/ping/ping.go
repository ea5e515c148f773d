package ping

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// InfoSource reports the current server state for STATUS queries.
type InfoSource interface {
	ServerInfo() ServerInfo
}

type InfoFunc func() ServerInfo

func (f InfoFunc) ServerInfo() ServerInfo {
	return f()
}

type ServerInfo struct {
	Name           string `json:"name"`
	PlayersCurrent int    `json:"players_current"`
	PlayersMax     int    `json:"players_max"`
	Bots           int    `json:"bots"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	TicksPerSecond int    `json:"ticks_per_second"`
	FoodRate       int    `json:"food_rate"`
	GameMode       string `json:"game_mode"`
	GameVersion    string `json:"game_version"`
}

type Handler struct {
	conn          *net.UDPConn
	source        InfoSource
	logger        *slog.Logger
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	listenAddress string
}

func NewHandler(address string, source InfoSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		source:        source,
		logger:        logger,
		stopChan:      make(chan struct{}),
		listenAddress: address,
	}
}

func (h *Handler) Start() error {
	addr, err := net.ResolveUDPAddr("udp", h.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	h.conn = conn
	h.logger.Info("ping handler started", "address", conn.LocalAddr().String())

	h.wg.Add(1)
	go h.handlePackets()

	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (h *Handler) Addr() net.Addr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		if h.conn != nil {
			h.conn.Close()
		}
		h.wg.Wait()
		h.logger.Info("ping handler stopped")
	})
}

func (h *Handler) handlePackets() {
	defer h.wg.Done()
	buffer := make([]byte, 1024)

	for {
		n, addr, err := h.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-h.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Error("failed to read UDP packet", "error", err)
			continue
		}

		if n > 0 {
			h.handlePacket(buffer[:n], addr)
		}
	}
}

func (h *Handler) handlePacket(data []byte, addr *net.UDPAddr) {
	switch string(data) {
	case "HELLO":
		h.handlePing(addr)
	case "STATUS":
		h.handleStatus(addr)
	}
}

func (h *Handler) handlePing(addr *net.UDPAddr) {
	if _, err := h.conn.WriteToUDP([]byte("HI"), addr); err != nil {
		h.logger.Error("failed to send ping response", "error", err, "addr", addr)
		return
	}
	h.logger.Debug("sent ping response", "addr", addr)
}

func (h *Handler) handleStatus(addr *net.UDPAddr) {
	jsonData, err := json.Marshal(h.source.ServerInfo())
	if err != nil {
		h.logger.Error("failed to marshal server info", "error", err)
		return
	}

	if _, err := h.conn.WriteToUDP(jsonData, addr); err != nil {
		h.logger.Error("failed to send status response", "error", err, "addr", addr)
		return
	}
	h.logger.Debug("sent status response", "addr", addr)
}
