package gamestate

import (
	"github.com/siohaza/multisnake/internal/grid"
)

type ID uint16

type DeathCause uint8

const (
	CauseNone DeathCause = iota
	CauseSelf
	CauseSnake
	CauseHeadOn
	CauseWall
	CauseScript
)

func (c DeathCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseSelf:
		return "self"
	case CauseSnake:
		return "snake"
	case CauseHeadOn:
		return "head_on"
	case CauseWall:
		return "wall"
	case CauseScript:
		return "script"
	default:
		return "unknown"
	}
}

type Snake struct {
	ID        ID
	Name      string
	Body      []grid.Position
	Direction grid.Direction
	Pending   grid.Direction
	Fast      bool
	Alive     bool
	Bot       bool
	Score     int
	Kills     int
	Growth    int
	Cause     DeathCause
	KillerID  ID
	HasKiller bool
	SpawnTick uint64
}

func (s *Snake) Head() grid.Position {
	return s.Body[0]
}

func (s *Snake) Tail() grid.Position {
	return s.Body[len(s.Body)-1]
}

func (s *Snake) Length() int {
	return len(s.Body)
}

func (s *Snake) Contains(p grid.Position) bool {
	for _, cell := range s.Body {
		if cell == p {
			return true
		}
	}
	return false
}

// Steer records the latest requested direction. Reversals are filtered when
// the tick applies it.
func (s *Snake) Steer(d grid.Direction) {
	s.Pending = d
}

// ToggleFast flips fast mode. Switching on needs at least one point of score.
func (s *Snake) ToggleFast() bool {
	if s.Fast {
		s.Fast = false
		return true
	}
	if s.Score < 1 {
		return false
	}
	s.Fast = true
	return true
}

func (s *Snake) Kill(cause DeathCause) {
	if !s.Alive {
		return
	}
	s.Alive = false
	s.Fast = false
	s.Cause = cause
}

func (s *Snake) KillBy(cause DeathCause, killer ID) {
	if !s.Alive {
		return
	}
	s.Kill(cause)
	s.KillerID = killer
	s.HasKiller = true
}
