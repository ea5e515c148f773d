package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/siohaza/multisnake/internal/client"
	"github.com/siohaza/multisnake/internal/protocol"
	"github.com/siohaza/multisnake/internal/server"
	"github.com/siohaza/multisnake/pkg/config"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	width      int
	height     int
	tps        int
	foodRate   int
	maxPlayers int
	botCount   int
	port       int

	nickname   string
	autopilot  bool
	fastMode   bool
	statusOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "multisnake",
	Short: "Multisnake - real-time multiplayer snake server",
	Long: `Multisnake runs an authoritative multiplayer snake world over ENet,
with server-side bots and optional Lua rules scripts.`,
	Version: server.Version,
	Run:     runServer,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Multisnake server",
	Long:  "Start the Multisnake server with the specified configuration",
	Run:   runServer,
}

var connectCmd = &cobra.Command{
	Use:   "connect <host[:port]>",
	Short: "Connect to a server as a headless player",
	Args:  cobra.ExactArgs(1),
	Run:   runClient,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Multisnake v%s\n", server.Version)
		fmt.Println("Built with Go")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.toml", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{rootCmd, startCmd} {
		cmd.Flags().IntVar(&width, "width", 0, "world width in cells (overrides config)")
		cmd.Flags().IntVar(&height, "height", 0, "world height in cells (overrides config)")
		cmd.Flags().IntVar(&tps, "tps", 0, "ticks per second (overrides config)")
		cmd.Flags().IntVar(&foodRate, "food-rate", 0, "one food per this many cells (overrides config)")
		cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "maximum human players (overrides config)")
		cmd.Flags().IntVar(&botCount, "bots", 0, "number of bots (overrides config)")
		cmd.Flags().IntVarP(&port, "port", "p", 0, "ENet port (overrides config)")
	}

	connectCmd.Flags().StringVarP(&nickname, "name", "n", "player", "nickname to join with")
	connectCmd.Flags().BoolVar(&autopilot, "autopilot", true, "steer with the built-in bot controller")
	connectCmd.Flags().BoolVar(&fastMode, "fast", false, "let the autopilot use fast mode")
	connectCmd.Flags().BoolVar(&statusOnly, "status", false, "query server status and exit")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(versionCmd)
}

func parseLevel() slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("width") {
		cfg.World.Width = width
	}
	if flags.Changed("height") {
		cfg.World.Height = height
	}
	if flags.Changed("tps") {
		cfg.World.TicksPerSecond = tps
	}
	if flags.Changed("food-rate") {
		cfg.World.FoodRate = foodRate
	}
	if flags.Changed("max-players") {
		cfg.Server.MaxPlayers = maxPlayers
	}
	if flags.Changed("bots") {
		cfg.Bots.Count = botCount
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}

	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logWriter io.Writer = os.Stdout
	var logFile *os.File

	if cfg.Server.LogToFile {
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
			os.Exit(1)
		}

		timestamp := time.Now().Unix()
		logPath := filepath.Join(logDir, fmt.Sprintf("multisnake_%d.log", timestamp))

		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer logFile.Close()

		logWriter = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting multisnake server", "version", server.Version)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		srv.Stop()
		os.Exit(1)
	}

	logger.Info("server running",
		"name", cfg.Server.Name,
		"address", fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		"world", fmt.Sprintf("%dx%d", cfg.World.Width, cfg.World.Height),
		"max_players", cfg.Server.MaxPlayers,
		"bots", cfg.Bots.Count,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutting down server")

	srv.Stop()
	logger.Info("server stopped successfully")
}

func runClient(cmd *cobra.Command, args []string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(),
	}))

	host, portNum, err := splitAddress(args[0])
	if err != nil {
		logger.Error("invalid address", "address", args[0], "error", err)
		os.Exit(1)
	}

	c, err := client.New(client.Config{
		Address:    host,
		Port:       portNum,
		Nickname:   nickname,
		Autopilot:  autopilot,
		FastMode:   fastMode,
		StatusOnly: statusOnly,
	}, logger)
	if err != nil {
		logger.Error("invalid client settings", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil {
		var rejected *client.RejectedError
		if errors.As(err, &rejected) && rejected.Reason == protocol.RejectReasonShutdown {
			logger.Info("server shut down")
			return
		}
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}

	if st := c.Status(); statusOnly && st != nil {
		fmt.Printf("players %d/%d, bots %d, world %dx%d, %d ticks/s, food rate %d\n",
			st.Players, st.MaxPlayers, st.Bots, st.Width, st.Height, st.TicksPerSecond, st.FoodRate)
		return
	}
	logger.Info("disconnected", "deaths", c.Deaths())
}

func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, protocol.DefaultPort, nil
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, p, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
