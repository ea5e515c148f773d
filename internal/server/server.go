package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/bot"
	"github.com/siohaza/multisnake/internal/broadcast"
	"github.com/siohaza/multisnake/internal/callbacks"
	"github.com/siohaza/multisnake/internal/gamemode"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/gateway"
	"github.com/siohaza/multisnake/internal/network"
	"github.com/siohaza/multisnake/internal/ping"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/protocol"
	"github.com/siohaza/multisnake/internal/scheduler"
	"github.com/siohaza/multisnake/internal/simulation"
	"github.com/siohaza/multisnake/pkg/config"
	"github.com/siohaza/multisnake/pkg/lua"
)

const (
	Version = "0.1.0"

	// pendingPeerSlack leaves room for connections that are still joining or
	// only asking for status.
	pendingPeerSlack = 32
	maxENetPeers     = 4095
	statsInterval    = 30 * time.Second
	stopTimeout      = 5 * time.Second
)

type Server struct {
	config      *config.Config
	logger      *slog.Logger
	seed        uint64
	world       *gamestate.World
	sessions    *player.Manager
	banManager  *bans.Manager
	gameMode    gamemode.GameMode
	callbacks   *callbacks.CallbackChain
	simulation  *simulation.Simulation
	broadcaster *broadcast.Broadcaster
	gateway     *gateway.Gateway
	network     *network.Server
	scheduler   *scheduler.Scheduler
	pingHandler *ping.Handler
	startTime   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	seed := cfg.Server.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	world := gamestate.New(gamestate.Config{
		Width:           cfg.World.Width,
		Height:          cfg.World.Height,
		Wrap:            cfg.World.Wrap,
		FoodRate:        cfg.World.FoodRate,
		FoodValue:       cfg.World.FoodValue,
		InitialLength:   cfg.World.InitialLength,
		DropFoodOnDeath: cfg.World.DropFoodOnDeath,
	}, seed)

	sessions := player.NewManager(cfg.Server.MaxPlayers, cfg.SessionTimeout())

	banManager, err := bans.NewManager(cfg.Bans.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create ban manager: %w", err)
	}
	if err := banManager.Load(); err != nil {
		logger.Warn("failed to load bans", "error", err)
	}

	peers := cfg.Server.MaxPlayers + pendingPeerSlack
	if peers > maxENetPeers {
		peers = maxENetPeers
	}
	net, err := network.NewServer(cfg.Server.Port, peers, cfg.Server.OutboundQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create network server: %w", err)
	}

	chain := callbacks.NewCallbackChain()
	sim := simulation.New(simulation.Config{
		MaxFoodPerTick: cfg.World.MaxFoodPerTick,
		FoodValue:      cfg.World.FoodValue,
		RespawnDelay:   uint64(cfg.Bots.RespawnDelay),
	}, world, sessions, chain, logger)

	broadcaster := broadcast.New(net, sessions, logger)
	broadcaster.SetView(cfg.Protocol.ViewWidth, cfg.Protocol.ViewHeight)

	gw := gateway.New(gateway.Config{
		Width:              cfg.World.Width,
		Height:             cfg.World.Height,
		Wrap:               cfg.World.Wrap,
		TicksPerSecond:     cfg.World.TicksPerSecond,
		FoodRate:           cfg.World.FoodRate,
		MaxMalformedFrames: cfg.Protocol.MaxMalformedFrames,
		RateLimitBurst:     cfg.RateLimitBurst(),
		MaxViolations:      cfg.RateLimit.MaxViolations,
	}, net, sessions, banManager, logger)

	sched, err := scheduler.New(cfg.World.TicksPerSecond, sim, broadcaster, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tick scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:      cfg,
		logger:      logger,
		seed:        seed,
		world:       world,
		sessions:    sessions,
		banManager:  banManager,
		callbacks:   chain,
		simulation:  sim,
		broadcaster: broadcaster,
		gateway:     gw,
		network:     net,
		scheduler:   sched,
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.Server.EnableStatus {
		listenAddr := fmt.Sprintf(":%d", cfg.StatusPortOrDefault())
		srv.pingHandler = ping.NewHandler(listenAddr, ping.InfoFunc(srv.ServerInfo), logger)
	}

	return srv, nil
}

// Start loads the rules, seeds the board, adds bots and starts the network
// and tick goroutines.
func (s *Server) Start() error {
	api := lua.NewGameAPI(s.world, s.sessions, s.logger)
	api.SetBanManager(s.banManager)

	gm, err := gamemode.Load(s.config.Scripting.Gamemode, api, s.logger)
	if err != nil {
		return fmt.Errorf("failed to load gamemode: %w", err)
	}
	s.gameMode = gm
	s.callbacks.Register(gm)
	s.logger.Info("loaded game mode", "mode", gm.Name(), "script", s.config.Scripting.Gamemode)

	food := s.simulation.Prefill()
	s.logger.Info("world created",
		"width", s.config.World.Width,
		"height", s.config.World.Height,
		"wrap", s.config.World.Wrap,
		"food", food,
		"seed", s.seed,
	)

	if err := s.addBots(); err != nil {
		return err
	}

	if err := s.network.Start(); err != nil {
		return fmt.Errorf("failed to start network: %w", err)
	}

	if s.pingHandler != nil {
		if err := s.pingHandler.Start(); err != nil {
			s.logger.Warn("failed to start ping handler", "error", err)
			s.pingHandler = nil
		}
	}

	s.startTime = time.Now()
	s.started = true

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.network.Run(s.ctx, s.gateway); err != nil {
			s.logger.Error("network loop failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.scheduler.Run(s.ctx); err != nil {
			s.logger.Error("tick loop failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.reportStats()
	}()

	s.logger.Info("server started", "name", s.config.Server.Name, "tps", s.config.World.TicksPerSecond)
	return nil
}

func (s *Server) addBots() error {
	if s.config.Bots.Count == 0 {
		return nil
	}
	controller := bot.NewController(bot.Config{FastMode: s.config.Bots.FastMode})
	for i := 1; i <= s.config.Bots.Count; i++ {
		name := fmt.Sprintf("%s%d", s.config.Bots.NamePrefix, i)
		if _, err := s.sessions.AddBot(name, controller); err != nil {
			return fmt.Errorf("failed to add bot %s: %w", name, err)
		}
	}
	s.logger.Info("bots added", "count", s.config.Bots.Count, "fast_mode", s.config.Bots.FastMode)
	return nil
}

// Stop shuts down in order: no new sessions or intents, finish the in-flight
// tick and drain its broadcasts, tell every client the server is going away,
// then close the transport.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping server")

		s.sessions.Close()
		s.scheduler.Stop()

		if n := s.broadcaster.RejectAll(protocol.RejectReasonShutdown, player.ErrShuttingDown.Error()); n > 0 {
			s.logger.Info("notified players of shutdown", "players", n)
		}
		s.broadcaster.Drain()

		s.cancel()
		if s.started {
			select {
			case <-s.network.Done():
			case <-time.After(stopTimeout):
				s.logger.Warn("network did not stop in time")
			}
		} else {
			s.network.Stop()
		}
		s.wg.Wait()

		if s.pingHandler != nil {
			s.pingHandler.Stop()
		}

		if closer, ok := s.gameMode.(interface{ Close() }); ok {
			closer.Close()
		}

		if err := s.banManager.Cleanup(); err != nil {
			s.logger.Warn("failed to clean up bans", "error", err)
		}

		stats := s.broadcaster.Stats()
		s.logger.Info("server stopped",
			"uptime", s.GetUptime().Round(time.Second),
			"ticks", s.scheduler.Ticks(),
			"snapshots_sent", stats.Sent,
			"snapshots_dropped", stats.Dropped,
		)
	})
}

func (s *Server) RegisterCallbacks(cb callbacks.Callbacks) {
	s.callbacks.Register(cb)
}

func (s *Server) GetServerName() string {
	return s.config.Server.Name
}

func (s *Server) GetUptime() time.Duration {
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// ServerInfo answers UDP status queries.
func (s *Server) ServerInfo() ping.ServerInfo {
	mode := ""
	if s.gameMode != nil {
		mode = s.gameMode.Name()
	}
	return ping.ServerInfo{
		Name:           s.config.Server.Name,
		PlayersCurrent: s.sessions.Count(),
		PlayersMax:     s.sessions.MaxPlayers(),
		Bots:           s.sessions.BotCount(),
		Width:          s.config.World.Width,
		Height:         s.config.World.Height,
		TicksPerSecond: s.config.World.TicksPerSecond,
		FoodRate:       s.config.World.FoodRate,
		GameMode:       mode,
		GameVersion:    Version,
	}
}

// Latest returns the most recent published snapshot.
func (s *Server) Latest() *gamestate.Snapshot {
	return s.simulation.Latest()
}

func (s *Server) reportStats() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			snap := s.simulation.Latest()
			stats := s.broadcaster.Stats()
			s.logger.Info("server stats",
				"tick", snap.Tick,
				"players", s.sessions.Count(),
				"bots", s.sessions.BotCount(),
				"live_snakes", snap.LiveCount(),
				"food", len(snap.Food),
				"slow_ticks", s.scheduler.SlowTicks(),
				"last_tick", s.scheduler.LastTickDuration(),
				"snapshots_dropped", stats.Dropped,
				"queue_dropped", s.network.Dropped(),
				"peers", s.network.GetPeerCount(),
				"pending", s.gateway.PendingCount(),
			)
		}
	}
}
