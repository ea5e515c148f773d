package gamestate

import (
	"errors"
	"sort"

	"github.com/siohaza/multisnake/internal/grid"

	"golang.org/x/exp/rand"
)

var ErrNoSpace = errors.New("no free space to spawn a snake")

const spawnAttempts = 64

type Config struct {
	Width           int
	Height          int
	Wrap            bool
	FoodRate        int
	FoodValue       int
	InitialLength   int
	DropFoodOnDeath bool
}

type Food struct {
	Position grid.Position
	Value    int
}

// World is the authoritative game state. It is owned by the tick loop and is
// not safe for concurrent use; other goroutines read snapshots instead.
type World struct {
	Grid    grid.Grid
	Config  Config
	Snakes  map[ID]*Snake
	Food    map[grid.Position]Food
	tick    uint64
	version uint64
	rng     *rand.Rand
}

func New(cfg Config, seed uint64) *World {
	if cfg.InitialLength < 1 {
		cfg.InitialLength = 3
	}
	if cfg.FoodValue < 1 {
		cfg.FoodValue = 1
	}

	return &World{
		Grid:   grid.New(cfg.Width, cfg.Height, cfg.Wrap),
		Config: cfg,
		Snakes: make(map[ID]*Snake),
		Food:   make(map[grid.Position]Food),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (w *World) Tick() uint64 {
	return w.tick
}

func (w *World) AdvanceTick() uint64 {
	w.tick++
	return w.tick
}

// Version changes whenever a snake or food item is added or removed.
func (w *World) Version() uint64 {
	return w.version
}

func (w *World) Touch() {
	w.version++
}

func (w *World) RNG() *rand.Rand {
	return w.rng
}

func (w *World) Snake(id ID) (*Snake, bool) {
	s, ok := w.Snakes[id]
	return s, ok
}

// SnakeIDs returns every snake id in ascending order.
func (w *World) SnakeIDs() []ID {
	ids := make([]ID, 0, len(w.Snakes))
	for id := range w.Snakes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// LiveSnakes returns the living snakes in ascending id order.
func (w *World) LiveSnakes() []*Snake {
	snakes := make([]*Snake, 0, len(w.Snakes))
	for _, id := range w.SnakeIDs() {
		if s := w.Snakes[id]; s.Alive {
			snakes = append(snakes, s)
		}
	}
	return snakes
}

func (w *World) LiveCount() int {
	count := 0
	for _, s := range w.Snakes {
		if s.Alive {
			count++
		}
	}
	return count
}

func (w *World) RemoveSnake(id ID) (*Snake, bool) {
	s, ok := w.Snakes[id]
	if !ok {
		return nil, false
	}
	delete(w.Snakes, id)
	w.Touch()
	return s, true
}

// Occupancy maps every snake cell to its owner. Dead snakes that have not
// been purged yet still block their cells.
func (w *World) Occupancy() map[grid.Position]ID {
	cells := make(map[grid.Position]ID)
	for _, id := range w.SnakeIDs() {
		for _, cell := range w.Snakes[id].Body {
			cells[cell] = id
		}
	}
	return cells
}

func (w *World) FoodAt(p grid.Position) (Food, bool) {
	f, ok := w.Food[p]
	return f, ok
}

func (w *World) FoodCount() int {
	return len(w.Food)
}

// FoodTarget is the food population the spawner converges to.
func (w *World) FoodTarget() int {
	if w.Config.FoodRate <= 0 {
		return 0
	}
	return w.Grid.Area() / w.Config.FoodRate
}

// CanDrop reports whether extra food from corpses or fast mode may still be
// placed without overshooting the target by more than one.
func (w *World) CanDrop() bool {
	return w.FoodCount() < w.FoodTarget()+1
}

// AddFood places food on a free cell.
func (w *World) AddFood(p grid.Position, value int, occupied map[grid.Position]ID) bool {
	if !w.Grid.Contains(p) {
		return false
	}
	if _, taken := w.Food[p]; taken {
		return false
	}
	if occupied != nil {
		if _, taken := occupied[p]; taken {
			return false
		}
	}
	w.Food[p] = Food{Position: p, Value: value}
	w.Touch()
	return true
}

func (w *World) RemoveFood(p grid.Position) (Food, bool) {
	f, ok := w.Food[p]
	if !ok {
		return Food{}, false
	}
	delete(w.Food, p)
	w.Touch()
	return f, true
}

// SortedFood returns food in row-major order.
func (w *World) SortedFood() []Food {
	food := make([]Food, 0, len(w.Food))
	for _, f := range w.Food {
		food = append(food, f)
	}
	sort.Slice(food, func(i, j int) bool { return food[i].Position.Less(food[j].Position) })
	return food
}

// SpawnSnake places a fresh snake of the configured initial length in a
// straight line on free cells, facing away from its body.
func (w *World) SpawnSnake(id ID, name string, bot bool) (*Snake, error) {
	if old, ok := w.Snakes[id]; ok && old.Alive {
		return old, nil
	}

	occupied := w.Occupancy()

	for attempt := 0; attempt < spawnAttempts; attempt++ {
		head := w.Grid.At(w.rng.Intn(w.Grid.Area()))
		dir := grid.Directions[w.rng.Intn(len(grid.Directions))]
		if body, ok := w.placeBody(head, dir, occupied); ok {
			return w.addSnake(id, name, bot, body, dir), nil
		}
	}

	start := w.rng.Intn(w.Grid.Area())
	for i := 0; i < w.Grid.Area(); i++ {
		head := w.Grid.At((start + i) % w.Grid.Area())
		for _, dir := range grid.Directions {
			if body, ok := w.placeBody(head, dir, occupied); ok {
				return w.addSnake(id, name, bot, body, dir), nil
			}
		}
	}

	return nil, ErrNoSpace
}

func (w *World) placeBody(head grid.Position, dir grid.Direction, occupied map[grid.Position]ID) ([]grid.Position, bool) {
	free := func(p grid.Position) bool {
		if _, taken := occupied[p]; taken {
			return false
		}
		_, food := w.Food[p]
		return !food
	}

	ahead, ok := w.Grid.Advance(head, dir)
	if !ok || !free(ahead) {
		return nil, false
	}

	body := make([]grid.Position, 0, w.Config.InitialLength)
	cell := head
	for i := 0; i < w.Config.InitialLength; i++ {
		if !free(cell) {
			return nil, false
		}
		for _, existing := range body {
			if existing == cell {
				return nil, false
			}
		}
		body = append(body, cell)
		if i == w.Config.InitialLength-1 {
			break
		}
		next, ok := w.Grid.Advance(cell, dir.Opposite())
		if !ok {
			return nil, false
		}
		cell = next
	}
	if body[len(body)-1] == ahead {
		return nil, false
	}
	return body, true
}

func (w *World) addSnake(id ID, name string, bot bool, body []grid.Position, dir grid.Direction) *Snake {
	s := &Snake{
		ID:        id,
		Name:      name,
		Body:      body,
		Direction: dir,
		Pending:   dir,
		Alive:     true,
		Bot:       bot,
		SpawnTick: w.tick,
	}
	w.Snakes[id] = s
	w.Touch()
	return s
}

// KillSnake marks a snake dead; it stays in the world until Purge.
func (w *World) KillSnake(id ID, cause DeathCause) bool {
	s, ok := w.Snakes[id]
	if !ok || !s.Alive {
		return false
	}
	s.Kill(cause)
	return true
}

// Purge removes dead snakes and returns them in ascending id order. With
// DropFoodOnDeath up to score-many of each corpse's cells turn into food.
func (w *World) Purge() []*Snake {
	var dead []*Snake
	for _, id := range w.SnakeIDs() {
		if s := w.Snakes[id]; !s.Alive {
			dead = append(dead, s)
			delete(w.Snakes, id)
		}
	}
	if len(dead) == 0 {
		return nil
	}
	w.Touch()

	if w.Config.DropFoodOnDeath {
		occupied := w.Occupancy()
		for _, s := range dead {
			dropped := 0
			for _, cell := range s.Body {
				if dropped >= s.Score || !w.CanDrop() {
					break
				}
				if w.AddFood(cell, 1, occupied) {
					dropped++
				}
			}
		}
	}

	return dead
}
