package physics

import (
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
)

type Death struct {
	ID        gamestate.ID
	Cause     gamestate.DeathCause
	KillerID  gamestate.ID
	HasKiller bool
}

type Meal struct {
	ID       gamestate.ID
	Position grid.Position
	Value    int
}

type Outcome struct {
	Deaths []Death
	Meals  []Meal
	Drops  []grid.Position
}

type move struct {
	snake *gamestate.Snake
	head  grid.Position
}

// Resolve advances every live snake by one tick. Snakes are processed in
// ascending id order so the result only depends on the world contents.
func Resolve(w *gamestate.World) Outcome {
	var out Outcome

	live := w.LiveSnakes()
	for _, s := range live {
		applyDirection(s)
	}

	step(w, live, &out)

	fast := make([]*gamestate.Snake, 0)
	for _, s := range live {
		if s.Alive && s.Fast {
			fast = append(fast, s)
		}
	}
	if len(fast) > 0 {
		step(w, fast, &out)
	}

	payFastMode(w, fast, &out)

	return out
}

func applyDirection(s *gamestate.Snake) {
	if s.Pending.IsOpposite(s.Direction) {
		s.Pending = s.Direction
		return
	}
	s.Direction = s.Pending
}

func step(w *gamestate.World, movers []*gamestate.Snake, out *Outcome) {
	moves := make([]move, 0, len(movers))

	for _, s := range movers {
		if !s.Alive {
			continue
		}

		next, ok := w.Grid.Advance(s.Head(), s.Direction)
		if !ok {
			s.Kill(gamestate.CauseWall)
			out.Deaths = append(out.Deaths, Death{ID: s.ID, Cause: gamestate.CauseWall})
			continue
		}

		_, eats := w.FoodAt(next)
		body := make([]grid.Position, 0, len(s.Body)+1)
		body = append(body, next)
		if eats || s.Growth > 0 {
			body = append(body, s.Body...)
			if !eats {
				s.Growth--
			}
		} else {
			body = append(body, s.Body[:len(s.Body)-1]...)
		}
		s.Body = body

		moves = append(moves, move{snake: s, head: next})
	}

	if len(moves) == 0 {
		return
	}

	owners := make(map[grid.Position][]gamestate.ID)
	for _, id := range w.SnakeIDs() {
		s, _ := w.Snake(id)
		for _, cell := range s.Body {
			owners[cell] = append(owners[cell], id)
		}
	}

	movedHeads := make(map[gamestate.ID]grid.Position, len(moves))
	for _, m := range moves {
		movedHeads[m.snake.ID] = m.head
	}

	deaths := make([]Death, 0)
	for _, m := range moves {
		if containsCell(m.snake.Body[1:], m.head) {
			deaths = append(deaths, Death{ID: m.snake.ID, Cause: gamestate.CauseSelf})
			continue
		}

		var hit *Death
		for _, owner := range owners[m.head] {
			if owner == m.snake.ID {
				continue
			}
			if head, moved := movedHeads[owner]; moved && head == m.head {
				hit = &Death{ID: m.snake.ID, Cause: gamestate.CauseHeadOn, KillerID: owner, HasKiller: true}
			} else {
				hit = &Death{ID: m.snake.ID, Cause: gamestate.CauseSnake, KillerID: owner, HasKiller: true}
			}
			break
		}
		if hit != nil {
			deaths = append(deaths, *hit)
		}
	}

	for _, d := range deaths {
		victim, _ := w.Snake(d.ID)
		victim.KillBy(d.Cause, d.KillerID)
		if killer, ok := w.Snake(d.KillerID); ok && d.HasKiller {
			killer.Kills++
		}
		out.Deaths = append(out.Deaths, d)
	}

	for _, m := range moves {
		if !m.snake.Alive {
			continue
		}
		f, ok := w.RemoveFood(m.head)
		if !ok {
			continue
		}
		m.snake.Score += f.Value
		m.snake.Growth += f.Value - 1
		out.Meals = append(out.Meals, Meal{ID: m.snake.ID, Position: m.head, Value: f.Value})
	}
}

// payFastMode charges one point per tick of fast movement. The tail shrinks
// back toward the initial length and is left behind as food.
func payFastMode(w *gamestate.World, fast []*gamestate.Snake, out *Outcome) {
	if len(fast) == 0 {
		return
	}

	occupied := w.Occupancy()
	for _, s := range fast {
		if !s.Alive || !s.Fast {
			continue
		}

		s.Score--
		if s.Length() > w.Config.InitialLength {
			tail := s.Tail()
			s.Body = s.Body[:len(s.Body)-1]
			if occupied[tail] == s.ID {
				delete(occupied, tail)
			}
			if w.CanDrop() && w.AddFood(tail, 1, occupied) {
				out.Drops = append(out.Drops, tail)
			}
		}

		if s.Score <= 0 {
			s.Score = 0
			s.Fast = false
		}
	}
}

func containsCell(cells []grid.Position, p grid.Position) bool {
	for _, cell := range cells {
		if cell == p {
			return true
		}
	}
	return false
}
