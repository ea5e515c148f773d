package bot

import (
	"testing"

	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
)

func newWorld(wrap bool, seed uint64) *gamestate.World {
	return gamestate.New(gamestate.Config{
		Width:         20,
		Height:        20,
		Wrap:          wrap,
		FoodRate:      10,
		InitialLength: 3,
	}, seed)
}

func place(w *gamestate.World, id gamestate.ID, dir grid.Direction, cells ...grid.Position) *gamestate.Snake {
	s := &gamestate.Snake{ID: id, Body: cells, Direction: dir, Pending: dir, Alive: true, Bot: true}
	w.Snakes[id] = s
	return s
}

func pos(x, y int) grid.Position {
	return grid.Position{X: x, Y: y}
}

func TestDecideAvoidsWall(t *testing.T) {
	w := newWorld(false, 1)
	s := place(w, 1, grid.DirectionRight, pos(19, 5), pos(18, 5), pos(17, 5))

	d := NewController(Config{}).Decide(w, s)
	if d != grid.DirectionUp && d != grid.DirectionDown {
		t.Fatalf("direction = %s, want a turn away from the wall", d)
	}
}

func TestDecideAvoidsSnakeAhead(t *testing.T) {
	w := newWorld(true, 1)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	place(w, 2, grid.DirectionDown, pos(6, 6), pos(6, 5), pos(6, 4))

	d := NewController(Config{}).Decide(w, s)
	if d == grid.DirectionRight {
		t.Fatalf("bot drove into another snake")
	}
}

func TestDecideSeeksFood(t *testing.T) {
	w := newWorld(true, 1)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	w.AddFood(pos(5, 1), 1, nil)

	if d := NewController(Config{}).Decide(w, s); d != grid.DirectionUp {
		t.Fatalf("direction = %s, want up toward the food", d)
	}
}

func TestDecideNeverReverses(t *testing.T) {
	w := newWorld(true, 3)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	w.AddFood(pos(0, 5), 1, nil)

	c := NewController(Config{})
	for i := 0; i < 20; i++ {
		if d := c.Decide(w, s); d.IsOpposite(s.Direction) {
			t.Fatalf("bot chose a reversal")
		}
	}
}

func TestDecideBoxedInKeepsDirection(t *testing.T) {
	w := newWorld(true, 1)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	place(w, 2, grid.DirectionUp, pos(6, 4), pos(6, 5), pos(6, 6), pos(5, 6), pos(4, 6))
	place(w, 3, grid.DirectionLeft, pos(5, 4), pos(4, 4), pos(3, 4))

	if d := NewController(Config{}).Decide(w, s); d != grid.DirectionRight {
		t.Fatalf("direction = %s, want the current one when boxed in", d)
	}
}

func TestDecideOwnTailIsFree(t *testing.T) {
	w := newWorld(false, 1)
	// Heading up into a corner with the only exit being the cell the tail leaves.
	s := place(w, 1, grid.DirectionUp, pos(0, 0), pos(0, 1), pos(1, 1), pos(1, 0))

	if d := NewController(Config{}).Decide(w, s); d != grid.DirectionRight {
		t.Fatalf("direction = %s, want right into the vacating tail", d)
	}
}

func TestControllerDeterministic(t *testing.T) {
	run := func() []grid.Direction {
		w := newWorld(true, 99)
		s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
		c := NewController(Config{FastMode: true})
		var out []grid.Direction
		for i := 0; i < 10; i++ {
			intent := c.NextIntent(w, s.ID)
			out = append(out, intent.Direction)
			w.AdvanceTick()
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("decision %d differs: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestNextIntentRequestsRespawnWithoutSnake(t *testing.T) {
	w := newWorld(true, 1)
	intent := NewController(Config{}).NextIntent(w, 7)
	if !intent.Respawn {
		t.Fatalf("a bot without a snake should ask to respawn")
	}
}

func TestDecidePrefersValuableFood(t *testing.T) {
	w := newWorld(true, 1)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	w.AddFood(pos(5, 3), 1, nil)
	w.AddFood(pos(5, 11), 9, nil)

	if d := NewController(Config{}).Decide(w, s); d != grid.DirectionDown {
		t.Fatalf("direction = %s, want down toward the value 9 food", d)
	}
}

func TestDecideTakesCloserFoodOfEqualValue(t *testing.T) {
	w := newWorld(true, 1)
	s := place(w, 1, grid.DirectionRight, pos(5, 5), pos(4, 5), pos(3, 5))
	w.AddFood(pos(5, 3), 2, nil)
	w.AddFood(pos(5, 11), 2, nil)

	if d := NewController(Config{}).Decide(w, s); d != grid.DirectionUp {
		t.Fatalf("direction = %s, want up toward the nearer food", d)
	}
}
