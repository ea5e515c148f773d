package simulation

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/siohaza/multisnake/internal/callbacks"
	"github.com/siohaza/multisnake/internal/food"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/physics"
	"github.com/siohaza/multisnake/internal/player"
)

type Config struct {
	MaxFoodPerTick int
	FoodValue      int
	// RespawnDelay is the number of ticks a bot waits before respawning.
	RespawnDelay uint64
}

// Death describes a snake that died during a tick.
type Death struct {
	ID        gamestate.ID
	Name      string
	Cause     gamestate.DeathCause
	KillerID  gamestate.ID
	HasKiller bool
	Score     int
	Length    int
}

// Frame is the result of one tick.
type Frame struct {
	Snapshot   *gamestate.Snapshot
	Deaths     []Death
	Departures []player.Departure
	Spawned    []gamestate.ID
}

// Simulation runs the per-tick pipeline over a world it owns exclusively.
// Step must only be called from one goroutine.
type Simulation struct {
	world     *gamestate.World
	spawner   *food.Spawner
	sessions  *player.Manager
	callbacks *callbacks.CallbackChain
	logger    *slog.Logger

	respawnDelay uint64
	latest       atomic.Pointer[gamestate.Snapshot]
}

func New(cfg Config, world *gamestate.World, sessions *player.Manager, chain *callbacks.CallbackChain, logger *slog.Logger) *Simulation {
	if chain == nil {
		chain = callbacks.NewCallbackChain()
	}
	if logger == nil {
		logger = slog.Default()
	}
	value := cfg.FoodValue
	if value <= 0 {
		value = world.Config.FoodValue
	}

	sim := &Simulation{
		world:        world,
		spawner:      food.NewSpawner(cfg.MaxFoodPerTick, value),
		sessions:     sessions,
		callbacks:    chain,
		logger:       logger,
		respawnDelay: cfg.RespawnDelay,
	}
	sim.latest.Store(world.Snapshot())
	return sim
}

func (sim *Simulation) World() *gamestate.World {
	return sim.world
}

// Latest returns the most recent published snapshot. Safe from any goroutine.
func (sim *Simulation) Latest() *gamestate.Snapshot {
	return sim.latest.Load()
}

// Prefill tops the board up with food before the first tick.
func (sim *Simulation) Prefill() int {
	total := 0
	for {
		added := len(sim.spawner.Fill(sim.world))
		if added == 0 {
			break
		}
		total += added
	}
	sim.latest.Store(sim.world.Snapshot())
	return total
}

// Step advances the world by one tick: expire and admit sessions, apply
// buffered intents, resolve movement, refill food, publish the snapshot and
// purge the dead.
func (sim *Simulation) Step() *Frame {
	w := sim.world
	tick := w.AdvanceTick()
	frame := &Frame{}

	sim.callbacks.OnTick(tick)

	for _, s := range sim.sessions.Expire() {
		sim.logger.Info("session timed out", "id", s.ID, "name", s.Name)
	}

	// Departures go first so a reused id never inherits the old snake.
	frame.Departures = sim.sessions.DrainDepartures()
	for _, d := range frame.Departures {
		if _, ok := w.RemoveSnake(d.ID); ok {
			sim.logger.Debug("removed snake of departed session", "id", d.ID)
		}
		sim.callbacks.OnDisconnect(d)
		sim.logger.Info("session left", "id", d.ID, "name", d.Name, "kind", d.Kind, "reason", d.Reason)
	}

	for _, s := range sim.sessions.DrainArrivals() {
		sim.callbacks.OnConnect(s)
		if sim.spawn(s) {
			frame.Spawned = append(frame.Spawned, s.ID)
			continue
		}
		if !s.IsBot() {
			sim.sessions.Disconnect(s.ID, gamestate.ErrNoSpace)
		}
	}

	for _, s := range sim.sessions.All() {
		if sim.ingest(s) {
			frame.Spawned = append(frame.Spawned, s.ID)
		}
	}

	outcome := physics.Resolve(w)
	for _, meal := range outcome.Meals {
		if snake, ok := w.Snake(meal.ID); ok {
			sim.callbacks.OnFoodEaten(snake, meal.Value)
		}
	}

	sim.spawner.Fill(w)

	frame.Snapshot = w.Snapshot()

	for _, dead := range w.Purge() {
		frame.Deaths = append(frame.Deaths, Death{
			ID:        dead.ID,
			Name:      dead.Name,
			Cause:     dead.Cause,
			KillerID:  dead.KillerID,
			HasKiller: dead.HasKiller,
			Score:     dead.Score,
			Length:    dead.Length(),
		})
		if s, ok := sim.sessions.Get(dead.ID); ok {
			s.RecordDeath(dead.Score)
			if s.IsBot() {
				s.Lock()
				s.RespawnTick = tick + sim.respawnDelay
				s.Unlock()
			}
		}
		sim.callbacks.OnSnakeDeath(dead, dead.KillerID, dead.Cause)
		sim.logger.Debug("snake died", "id", dead.ID, "cause", dead.Cause, "killer", dead.KillerID, "score", dead.Score)
	}

	sim.latest.Store(frame.Snapshot)
	return frame
}

// ingest applies a session's buffered intent to its snake. It reports whether
// the session respawned.
func (sim *Simulation) ingest(s *player.Session) bool {
	if s.Source == nil {
		return false
	}
	intent := s.Source.NextIntent(sim.world, s.ID)
	if intent.Empty() {
		return false
	}

	snake, ok := sim.world.Snake(s.ID)
	if !ok {
		if !intent.Respawn {
			return false
		}
		if s.IsBot() {
			s.RLock()
			due := s.RespawnTick
			s.RUnlock()
			if sim.world.Tick() < due {
				return false
			}
		}
		if !sim.callbacks.OnRespawnRequest(s) {
			return false
		}
		return sim.spawn(s)
	}
	if !snake.Alive {
		return false
	}

	if intent.HasDirection {
		snake.Steer(intent.Direction)
	}
	if intent.ToggleFast {
		snake.ToggleFast()
	}
	return false
}

func (sim *Simulation) spawn(s *player.Session) bool {
	snake, err := sim.world.SpawnSnake(s.ID, s.Name, s.IsBot())
	if err != nil {
		if errors.Is(err, gamestate.ErrNoSpace) {
			sim.logger.Warn("no room to spawn snake", "id", s.ID, "name", s.Name)
		} else {
			sim.logger.Error("failed to spawn snake", "id", s.ID, "error", err)
		}
		return false
	}
	sim.callbacks.OnSnakeSpawn(snake)
	return true
}
