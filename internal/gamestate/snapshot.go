package gamestate

import (
	"github.com/siohaza/multisnake/internal/grid"
)

type SnakeState struct {
	ID        ID
	Name      string
	Body      []grid.Position
	Direction grid.Direction
	Fast      bool
	Alive     bool
	Bot       bool
	Score     int
	Kills     int
	Cause     DeathCause
	KillerID  ID
	HasKiller bool
}

func (s SnakeState) Head() grid.Position {
	return s.Body[0]
}

// Snapshot is an immutable copy of the world at the end of a tick. Snakes that
// died during that tick are included with Alive unset.
type Snapshot struct {
	Tick   uint64
	Width  int
	Height int
	Wrap   bool
	Snakes []SnakeState
	Food   []Food
	// View is set on snapshots cropped to one player's window.
	View *grid.Window
}

func (w *World) Snapshot() *Snapshot {
	snap := &Snapshot{
		Tick:   w.tick,
		Width:  w.Grid.Width,
		Height: w.Grid.Height,
		Wrap:   w.Grid.Wrap,
		Snakes: make([]SnakeState, 0, len(w.Snakes)),
		Food:   w.SortedFood(),
	}

	for _, id := range w.SnakeIDs() {
		s := w.Snakes[id]
		snap.Snakes = append(snap.Snakes, SnakeState{
			ID:        s.ID,
			Name:      s.Name,
			Body:      append([]grid.Position(nil), s.Body...),
			Direction: s.Direction,
			Fast:      s.Fast,
			Alive:     s.Alive,
			Bot:       s.Bot,
			Score:     s.Score,
			Kills:     s.Kills,
			Cause:     s.Cause,
			KillerID:  s.KillerID,
			HasKiller: s.HasKiller,
		})
	}

	return snap
}

// Crop returns a copy holding only the cells inside win. Every snake keeps its
// entry so names and scores stay visible; a snake with no cell in view has an
// empty body.
func (s *Snapshot) Crop(win grid.Window) *Snapshot {
	g := grid.New(s.Width, s.Height, s.Wrap)
	view := win
	out := &Snapshot{
		Tick:   s.Tick,
		Width:  s.Width,
		Height: s.Height,
		Wrap:   s.Wrap,
		Snakes: make([]SnakeState, len(s.Snakes)),
		View:   &view,
	}

	for i, snake := range s.Snakes {
		body := make([]grid.Position, 0, len(snake.Body))
		for _, c := range snake.Body {
			if g.InWindow(win, c) {
				body = append(body, c)
			}
		}
		snake.Body = body
		out.Snakes[i] = snake
	}

	for _, f := range s.Food {
		if g.InWindow(win, f.Position) {
			out.Food = append(out.Food, f)
		}
	}
	return out
}

func (s *Snapshot) Snake(id ID) (SnakeState, bool) {
	for _, snake := range s.Snakes {
		if snake.ID == id {
			return snake, true
		}
	}
	return SnakeState{}, false
}

func (s *Snapshot) LiveCount() int {
	count := 0
	for _, snake := range s.Snakes {
		if snake.Alive {
			count++
		}
	}
	return count
}

// FromSnapshot rebuilds a world from a received snapshot. Dead snakes are
// dropped. Clients use it to run the bot controller locally.
func FromSnapshot(snap *Snapshot, cfg Config, seed uint64) *World {
	cfg.Width = snap.Width
	cfg.Height = snap.Height
	cfg.Wrap = snap.Wrap

	w := New(cfg, seed)
	w.tick = snap.Tick

	for _, state := range snap.Snakes {
		if !state.Alive || len(state.Body) == 0 {
			continue
		}
		w.Snakes[state.ID] = &Snake{
			ID:        state.ID,
			Name:      state.Name,
			Body:      append([]grid.Position(nil), state.Body...),
			Direction: state.Direction,
			Pending:   state.Direction,
			Fast:      state.Fast,
			Alive:     true,
			Bot:       state.Bot,
			Score:     state.Score,
			Kills:     state.Kills,
		}
	}
	for _, f := range snap.Food {
		w.Food[f.Position] = f
	}

	return w
}
