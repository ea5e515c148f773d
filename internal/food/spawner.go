package food

import (
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
)

const sampleAttempts = 32

type Spawner struct {
	maxPerTick int
	value      int
}

// NewSpawner creates a spawner. maxPerTick of zero fills the whole deficit in
// one tick.
func NewSpawner(maxPerTick, value int) *Spawner {
	if value < 1 {
		value = 1
	}
	return &Spawner{maxPerTick: maxPerTick, value: value}
}

// Fill tops the world up toward its food target and returns the positions of
// new food. It only ever adds.
func (sp *Spawner) Fill(w *gamestate.World) []grid.Position {
	deficit := w.FoodTarget() - w.FoodCount()
	if deficit <= 0 {
		return nil
	}
	if sp.maxPerTick > 0 && deficit > sp.maxPerTick {
		deficit = sp.maxPerTick
	}

	occupied := w.Occupancy()
	spawned := make([]grid.Position, 0, deficit)
	for i := 0; i < deficit; i++ {
		p, ok := sp.pickCell(w, occupied)
		if !ok {
			break
		}
		w.AddFood(p, sp.value, occupied)
		spawned = append(spawned, p)
	}
	return spawned
}

func (sp *Spawner) pickCell(w *gamestate.World, occupied map[grid.Position]gamestate.ID) (grid.Position, bool) {
	rng := w.RNG()
	area := w.Grid.Area()

	for attempt := 0; attempt < sampleAttempts; attempt++ {
		p := w.Grid.At(rng.Intn(area))
		if isFree(w, occupied, p) {
			return p, true
		}
	}

	free := make([]grid.Position, 0)
	for i := 0; i < area; i++ {
		p := w.Grid.At(i)
		if isFree(w, occupied, p) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return grid.Position{}, false
	}
	return free[rng.Intn(len(free))], true
}

func isFree(w *gamestate.World, occupied map[grid.Position]gamestate.ID, p grid.Position) bool {
	if _, taken := occupied[p]; taken {
		return false
	}
	_, food := w.FoodAt(p)
	return !food
}
