package bot

import (
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/player"
)

const (
	threatRadius  = 3
	toggleChances = 5
)

type Config struct {
	FastMode bool
}

// Controller steers bot snakes. It draws all randomness from the world's
// seeded source, so a bot's choices depend only on the world and the seed.
type Controller struct {
	cfg Config

	occupied   map[grid.Position]gamestate.ID
	cacheTick  uint64
	cacheVer   uint64
	cacheValid bool
}

func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

func (c *Controller) NextIntent(w *gamestate.World, id gamestate.ID) player.Intent {
	s, ok := w.Snake(id)
	if !ok || !s.Alive {
		return player.Intent{Respawn: true}
	}

	intent := player.Intent{
		Direction:    c.Decide(w, s),
		HasDirection: true,
	}
	if c.cfg.FastMode {
		intent.ToggleFast = c.wantsToggle(w, s)
	}
	return intent
}

// Decide picks the next direction for a live snake.
func (c *Controller) Decide(w *gamestate.World, s *gamestate.Snake) grid.Direction {
	occupied := c.occupancy(w)
	rng := w.RNG()

	candidates := []grid.Direction{s.Direction, s.Direction.TurnLeft(), s.Direction.TurnRight()}
	safe := make([]grid.Direction, 0, len(candidates))
	for _, d := range candidates {
		if c.isSafe(w, s, occupied, d) {
			safe = append(safe, d)
		}
	}
	if len(safe) == 0 {
		return s.Direction
	}

	target, found := bestFood(w, s.Head())
	if !found {
		if safe[0] == s.Direction {
			return s.Direction
		}
		return safe[rng.Intn(len(safe))]
	}

	best := make([]grid.Direction, 0, len(safe))
	bestDistance := -1
	for _, d := range safe {
		next, _ := w.Grid.Advance(s.Head(), d)
		distance := w.Grid.Distance(next, target)
		switch {
		case bestDistance < 0 || distance < bestDistance:
			bestDistance = distance
			best = append(best[:0], d)
		case distance == bestDistance:
			best = append(best, d)
		}
	}
	if len(best) == 1 {
		return best[0]
	}
	return best[rng.Intn(len(best))]
}

func (c *Controller) isSafe(w *gamestate.World, s *gamestate.Snake, occupied map[grid.Position]gamestate.ID, d grid.Direction) bool {
	next, ok := w.Grid.Advance(s.Head(), d)
	if !ok {
		return false
	}
	owner, taken := occupied[next]
	if !taken {
		return true
	}
	// Our own tail moves away unless we are still growing.
	return owner == s.ID && next == s.Tail() && s.Growth == 0 && s.Length() > 1
}

func (c *Controller) wantsToggle(w *gamestate.World, s *gamestate.Snake) bool {
	threatened := false
	for _, other := range w.LiveSnakes() {
		if other.ID == s.ID {
			continue
		}
		if w.Grid.Chebyshev(other.Head(), s.Head()) <= threatRadius {
			threatened = true
			break
		}
	}

	want := threatened && s.Score > 0
	if want == s.Fast {
		return false
	}
	return w.RNG().Intn(toggleChances) == 0
}

func (c *Controller) occupancy(w *gamestate.World) map[grid.Position]gamestate.ID {
	if c.cacheValid && c.cacheTick == w.Tick() && c.cacheVer == w.Version() {
		return c.occupied
	}
	c.occupied = w.Occupancy()
	c.cacheTick = w.Tick()
	c.cacheVer = w.Version()
	c.cacheValid = true
	return c.occupied
}

// bestFood picks the food with the highest value^2/distance^2. Ties go to the
// closer item, then to the first cell in row-major order.
func bestFood(w *gamestate.World, from grid.Position) (grid.Position, bool) {
	var (
		best      gamestate.Food
		bestDist  int
		haveFound bool
	)
	for _, f := range w.Food {
		d := max(w.Grid.Distance(from, f.Position), 1)
		if !haveFound {
			best, bestDist, haveFound = f, d, true
			continue
		}
		// compare v^2/d^2 without dividing
		lhs := int64(f.Value) * int64(f.Value) * int64(bestDist) * int64(bestDist)
		rhs := int64(best.Value) * int64(best.Value) * int64(d) * int64(d)
		better := lhs > rhs ||
			(lhs == rhs && d < bestDist) ||
			(lhs == rhs && d == bestDist && f.Position.Less(best.Position))
		if better {
			best, bestDist = f, d
		}
	}
	return best.Position, haveFound
}
