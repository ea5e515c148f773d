package grid

import "fmt"

const (
	MinSize = 20
	MaxSize = 65535
)

type Direction uint8

const (
	DirectionLeft  Direction = 0
	DirectionUp    Direction = 1
	DirectionRight Direction = 2
	DirectionDown  Direction = 3
)

// Directions lists every direction in wire order.
var Directions = [4]Direction{DirectionLeft, DirectionUp, DirectionRight, DirectionDown}

func ParseDirection(b byte) (Direction, error) {
	if b > uint8(DirectionDown) {
		return 0, fmt.Errorf("invalid direction: %d", b)
	}
	return Direction(b), nil
}

func (d Direction) Opposite() Direction {
	return (d + 2) % 4
}

func (d Direction) IsOpposite(other Direction) bool {
	return d.Opposite() == other
}

func (d Direction) TurnLeft() Direction {
	return (d + 3) % 4
}

func (d Direction) TurnRight() Direction {
	return (d + 1) % 4
}

func (d Direction) Delta() (int, int) {
	switch d {
	case DirectionLeft:
		return -1, 0
	case DirectionUp:
		return 0, -1
	case DirectionRight:
		return 1, 0
	case DirectionDown:
		return 0, 1
	default:
		panic(fmt.Sprintf("grid: invalid direction %d", d))
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionUp:
		return "up"
	case DirectionRight:
		return "right"
	case DirectionDown:
		return "down"
	default:
		return "unknown"
	}
}

type Position struct {
	X int
	Y int
}

// Less orders positions row-major.
func (p Position) Less(o Position) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.X < o.X
}

type Grid struct {
	Width  int
	Height int
	Wrap   bool
}

func New(width, height int, wrap bool) Grid {
	return Grid{Width: width, Height: height, Wrap: wrap}
}

func (g Grid) Area() int {
	return g.Width * g.Height
}

func (g Grid) Contains(p Position) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// Advance moves one cell. Under the wall policy the second result is false
// when the move leaves the grid.
func (g Grid) Advance(p Position, d Direction) (Position, bool) {
	if !g.Contains(p) {
		panic(fmt.Sprintf("grid: position %v outside %dx%d", p, g.Width, g.Height))
	}

	dx, dy := d.Delta()
	next := Position{X: p.X + dx, Y: p.Y + dy}

	if g.Wrap {
		next.X = (next.X + g.Width) % g.Width
		next.Y = (next.Y + g.Height) % g.Height
		return next, true
	}

	if !g.Contains(next) {
		return p, false
	}
	return next, true
}

func (g Grid) Neighbors(p Position) []Position {
	neighbors := make([]Position, 0, 4)
	for _, d := range Directions {
		if next, ok := g.Advance(p, d); ok && next != p {
			neighbors = append(neighbors, next)
		}
	}
	return neighbors
}

// Distance is the Manhattan distance, taking the short way round when the
// grid wraps.
func (g Grid) Distance(a, b Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if g.Wrap {
		dx = min(dx, g.Width-dx)
		dy = min(dy, g.Height-dy)
	}
	return dx + dy
}

// Chebyshev is the king-move distance, wrap-aware.
func (g Grid) Chebyshev(a, b Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if g.Wrap {
		dx = min(dx, g.Width-dx)
		dy = min(dy, g.Height-dy)
	}
	return max(dx, dy)
}

// Index maps a position to its row-major cell number.
func (g Grid) Index(p Position) int {
	return p.Y*g.Width + p.X
}

func (g Grid) At(index int) Position {
	return Position{X: index % g.Width, Y: index / g.Width}
}

// Window is a Width x Height block of cells around Center. Odd sizes put
// Center in the middle; even sizes give the extra cell to the negative side.
type Window struct {
	Center Position
	Width  int
	Height int
}

// InWindow reports whether p is inside win, following the wrap policy.
func (g Grid) InWindow(win Window, p Position) bool {
	return g.inSpan(p.X-win.Center.X, win.Width, g.Width) &&
		g.inSpan(p.Y-win.Center.Y, win.Height, g.Height)
}

func (g Grid) inSpan(d, size, extent int) bool {
	before := size / 2
	after := size - 1 - before
	if !g.Wrap {
		return d >= -before && d <= after
	}
	if size >= extent {
		return true
	}
	d = ((d % extent) + extent) % extent
	return d <= after || d >= extent-before
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
