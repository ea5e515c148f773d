package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/validation"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	World     WorldConfig     `toml:"world"`
	Bots      BotsConfig      `toml:"bots"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Scripting ScriptingConfig `toml:"scripting"`
	Bans      BansConfig      `toml:"bans"`
}

type ServerConfig struct {
	Name       string `toml:"name"`
	Port       int    `toml:"port"`
	MaxPlayers int    `toml:"max_players"`
	// SessionTimeout is in seconds.
	SessionTimeout int  `toml:"session_timeout"`
	StatusPort     int  `toml:"status_port"`
	EnableStatus   bool `toml:"enable_status"`
	OutboundQueue  int  `toml:"outbound_queue"`
	// Seed drives every random choice; 0 picks one at startup.
	Seed uint64 `toml:"seed"`

	// logging configuration
	LogToFile bool `toml:"log_to_file"`
}

type WorldConfig struct {
	Width           int  `toml:"width"`
	Height          int  `toml:"height"`
	Wrap            bool `toml:"wrap"`
	TicksPerSecond  int  `toml:"ticks_per_second"`
	FoodRate        int  `toml:"food_rate"`
	FoodValue       int  `toml:"food_value"`
	MaxFoodPerTick  int  `toml:"max_food_per_tick"`
	InitialLength   int  `toml:"initial_length"`
	DropFoodOnDeath bool `toml:"drop_food_on_death"`
}

type BotsConfig struct {
	Count      int    `toml:"count"`
	FastMode   bool   `toml:"fast_mode"`
	NamePrefix string `toml:"name_prefix"`
	// RespawnDelay is in ticks.
	RespawnDelay int `toml:"respawn_delay"`
}

type ProtocolConfig struct {
	MaxMalformedFrames int `toml:"max_malformed_frames"`
	// ViewWidth and ViewHeight size the window each player receives around
	// its head. Zero sends the whole world.
	ViewWidth  int `toml:"view_width"`
	ViewHeight int `toml:"view_height"`
}

type RateLimitConfig struct {
	Enabled       bool `toml:"enabled"`
	BurstSize     int  `toml:"burst_size"`
	MaxViolations int  `toml:"max_violations"`
}

type ScriptingConfig struct {
	Gamemode string `toml:"gamemode"`
}

type BansConfig struct {
	File string `toml:"file"`
}

// ConfigurationError reports an invalid setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:           "multisnake",
			Port:           50403,
			MaxPlayers:     50,
			SessionTimeout: 60,
			EnableStatus:   true,
			OutboundQueue:  4096,
		},
		World: WorldConfig{
			Width:           200,
			Height:          200,
			Wrap:            true,
			TicksPerSecond:  10,
			FoodRate:        10,
			FoodValue:       1,
			MaxFoodPerTick:  0,
			InitialLength:   3,
			DropFoodOnDeath: true,
		},
		Bots: BotsConfig{
			NamePrefix:   "bot",
			RespawnDelay: 30,
		},
		Protocol: ProtocolConfig{
			MaxMalformedFrames: 10,
			ViewWidth:          49,
			ViewHeight:         29,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			BurstSize:     60,
			MaxViolations: 5,
		},
		Bans: BansConfig{
			File: "data/bans.json",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	var config Config

	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &ConfigurationError{Field: undecoded[0].String(), Value: path, Reason: "unknown key"}
	}

	config.applyDefaults(md)
	return &config, nil
}

// applyDefaults fills every key the file did not set. Explicit zero values,
// such as wrap = false or count = 0, are kept.
func (c *Config) applyDefaults(md toml.MetaData) {
	d := Default()
	set := func(keys ...string) bool { return md.IsDefined(keys...) }

	if !set("server", "name") {
		c.Server.Name = d.Server.Name
	}
	if !set("server", "port") {
		c.Server.Port = d.Server.Port
	}
	if !set("server", "max_players") {
		c.Server.MaxPlayers = d.Server.MaxPlayers
	}
	if !set("server", "session_timeout") {
		c.Server.SessionTimeout = d.Server.SessionTimeout
	}
	if !set("server", "enable_status") {
		c.Server.EnableStatus = d.Server.EnableStatus
	}
	if !set("server", "outbound_queue") {
		c.Server.OutboundQueue = d.Server.OutboundQueue
	}

	if !set("world", "width") {
		c.World.Width = d.World.Width
	}
	if !set("world", "height") {
		c.World.Height = d.World.Height
	}
	if !set("world", "wrap") {
		c.World.Wrap = d.World.Wrap
	}
	if !set("world", "ticks_per_second") {
		c.World.TicksPerSecond = d.World.TicksPerSecond
	}
	if !set("world", "food_rate") {
		c.World.FoodRate = d.World.FoodRate
	}
	if !set("world", "food_value") {
		c.World.FoodValue = d.World.FoodValue
	}
	if !set("world", "initial_length") {
		c.World.InitialLength = d.World.InitialLength
	}
	if !set("world", "drop_food_on_death") {
		c.World.DropFoodOnDeath = d.World.DropFoodOnDeath
	}

	if !set("bots", "name_prefix") {
		c.Bots.NamePrefix = d.Bots.NamePrefix
	}
	if !set("bots", "respawn_delay") {
		c.Bots.RespawnDelay = d.Bots.RespawnDelay
	}

	if !set("protocol", "max_malformed_frames") {
		c.Protocol.MaxMalformedFrames = d.Protocol.MaxMalformedFrames
	}
	if !set("protocol", "view_width") {
		c.Protocol.ViewWidth = d.Protocol.ViewWidth
	}
	if !set("protocol", "view_height") {
		c.Protocol.ViewHeight = d.Protocol.ViewHeight
	}

	if !set("rate_limit", "enabled") {
		c.RateLimit.Enabled = d.RateLimit.Enabled
	}
	if !set("rate_limit", "burst_size") {
		c.RateLimit.BurstSize = d.RateLimit.BurstSize
	}
	if !set("rate_limit", "max_violations") {
		c.RateLimit.MaxViolations = d.RateLimit.MaxViolations
	}

	if !set("bans", "file") {
		c.Bans.File = d.Bans.File
	}
}

func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return &ConfigurationError{Field: "server.name", Value: c.Server.Name, Reason: "cannot be empty"}
	}

	if !validation.IsValidPort(c.Server.Port) {
		return &ConfigurationError{Field: "server.port", Value: c.Server.Port, Reason: "must be between 1 and 65535"}
	}

	if c.Server.EnableStatus && !validation.IsValidPort(c.StatusPortOrDefault()) {
		return &ConfigurationError{Field: "server.status_port", Value: c.StatusPortOrDefault(), Reason: "must be between 1 and 65535"}
	}

	if !validation.IsValidMaxPlayers(c.Server.MaxPlayers) {
		return &ConfigurationError{Field: "server.max_players", Value: c.Server.MaxPlayers, Reason: "must be between 0 and 65535"}
	}

	if c.Server.SessionTimeout <= 0 {
		return &ConfigurationError{Field: "server.session_timeout", Value: c.Server.SessionTimeout, Reason: "must be positive"}
	}

	if c.Server.OutboundQueue <= 0 {
		return &ConfigurationError{Field: "server.outbound_queue", Value: c.Server.OutboundQueue, Reason: "must be positive"}
	}

	if !validation.IsValidWorldSize(c.World.Width, c.World.Height) {
		return &ConfigurationError{
			Field:  "world.width x world.height",
			Value:  fmt.Sprintf("%dx%d", c.World.Width, c.World.Height),
			Reason: fmt.Sprintf("each side must be between %d and %d", validation.MinWorldSize, validation.MaxWorldSize),
		}
	}

	if !validation.IsValidTicksPerSecond(c.World.TicksPerSecond) {
		return &ConfigurationError{Field: "world.ticks_per_second", Value: c.World.TicksPerSecond, Reason: "must be between 1 and 255"}
	}

	if !validation.IsValidFoodRate(c.World.FoodRate) {
		return &ConfigurationError{Field: "world.food_rate", Value: c.World.FoodRate, Reason: "must be between 2 and 255"}
	}

	if !validation.IsValidFoodValue(c.World.FoodValue) {
		return &ConfigurationError{Field: "world.food_value", Value: c.World.FoodValue, Reason: fmt.Sprintf("must be between 1 and %d", validation.MaxFoodValue)}
	}

	if c.World.MaxFoodPerTick < 0 {
		return &ConfigurationError{Field: "world.max_food_per_tick", Value: c.World.MaxFoodPerTick, Reason: "cannot be negative"}
	}

	if c.World.InitialLength < 1 || c.World.InitialLength > c.World.Width || c.World.InitialLength > c.World.Height {
		return &ConfigurationError{Field: "world.initial_length", Value: c.World.InitialLength, Reason: "must be at least 1 and fit the world"}
	}

	if c.Bots.Count < 0 || c.Bots.Count > validation.MaxPlayers {
		return &ConfigurationError{Field: "bots.count", Value: c.Bots.Count, Reason: "must be between 0 and 65535"}
	}

	if c.Bots.Count+c.Server.MaxPlayers > validation.MaxPlayers {
		return &ConfigurationError{Field: "bots.count", Value: c.Bots.Count, Reason: "bots and players exceed the session id space"}
	}

	if c.Bots.Count > 0 {
		// the last bot has the longest name
		name := fmt.Sprintf("%s%d", c.Bots.NamePrefix, c.Bots.Count)
		if clean, err := player.SanitizeNickname(name); err != nil || clean != name {
			return &ConfigurationError{Field: "bots.name_prefix", Value: c.Bots.NamePrefix, Reason: fmt.Sprintf("bot name %q is not a valid nickname", name)}
		}
	}

	if c.Bots.RespawnDelay < 0 {
		return &ConfigurationError{Field: "bots.respawn_delay", Value: c.Bots.RespawnDelay, Reason: "cannot be negative"}
	}

	if c.Protocol.MaxMalformedFrames < 0 {
		return &ConfigurationError{Field: "protocol.max_malformed_frames", Value: c.Protocol.MaxMalformedFrames, Reason: "cannot be negative"}
	}

	if c.Protocol.ViewWidth < 0 || c.Protocol.ViewHeight < 0 || c.Protocol.ViewWidth > validation.MaxWorldSize ||
		c.Protocol.ViewHeight > validation.MaxWorldSize || (c.Protocol.ViewWidth == 0) != (c.Protocol.ViewHeight == 0) {
		return &ConfigurationError{
			Field:  "protocol.view_width x protocol.view_height",
			Value:  fmt.Sprintf("%dx%d", c.Protocol.ViewWidth, c.Protocol.ViewHeight),
			Reason: "both must be positive, or both zero for the whole world",
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.BurstSize <= 0 || c.RateLimit.MaxViolations <= 0) {
		return &ConfigurationError{Field: "rate_limit", Value: c.RateLimit.BurstSize, Reason: "burst_size and max_violations must be positive when enabled"}
	}

	return nil
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Server.SessionTimeout) * time.Second
}

// StatusPortOrDefault is the UDP status port, one above the game port unless
// set.
func (c *Config) StatusPortOrDefault() int {
	if c.Server.StatusPort != 0 {
		return c.Server.StatusPort
	}
	return c.Server.Port + 1
}

// RateLimitBurst is the effective per-second burst; zero disables limiting.
func (c *Config) RateLimitBurst() int {
	if !c.RateLimit.Enabled {
		return 0
	}
	return c.RateLimit.BurstSize
}
