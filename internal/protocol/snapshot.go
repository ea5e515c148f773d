package protocol

import (
	"fmt"
	"io"

	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/validation"
)

const (
	flagWrap = 0x01
	flagView = 0x02

	snakeFlagAlive = 0x01
	snakeFlagFast  = 0x02
	snakeFlagBot   = 0x04

	// id, flags, dir, score, kills, namelen, ncells
	snakeHeaderSize = 2 + 1 + 1 + 4 + 2 + 1 + 4
	cellSize        = 4
	foodSize        = 5
	snapshotHeader  = 1 + 8 + 2 + 2 + 1 + 2
)

// PacketSnapshot carries the full world state after a tick.
type PacketSnapshot struct {
	Snapshot *gamestate.Snapshot
}

func NewSnapshot(snap *gamestate.Snapshot) *PacketSnapshot {
	return &PacketSnapshot{Snapshot: snap}
}

func (p *PacketSnapshot) Type() PacketType { return PacketTypeSnapshot }

func (p *PacketSnapshot) Write(w io.Writer) error {
	snap := p.Snapshot
	if snap == nil {
		return fmt.Errorf("failed to encode snapshot: nil snapshot")
	}

	ds := validation.NewDataStreamWriter()
	ds.WriteUint8(uint8(PacketTypeSnapshot))
	ds.WriteUint64(snap.Tick)
	ds.WriteUint16(uint16(snap.Width))
	ds.WriteUint16(uint16(snap.Height))
	var flags uint8
	if snap.Wrap {
		flags |= flagWrap
	}
	if snap.View != nil {
		flags |= flagView
	}
	ds.WriteUint8(flags)
	if v := snap.View; v != nil {
		ds.WriteCell(v.Center.X, v.Center.Y)
		ds.WriteUint16(uint16(v.Width))
		ds.WriteUint16(uint16(v.Height))
	}
	ds.WriteUint16(uint16(len(snap.Snakes)))

	for _, s := range snap.Snakes {
		name, err := StringToCP437(s.Name)
		if err != nil {
			return fmt.Errorf("failed to encode name of snake %d: %w", s.ID, err)
		}

		var sf uint8
		if s.Alive {
			sf |= snakeFlagAlive
		}
		if s.Fast {
			sf |= snakeFlagFast
		}
		if s.Bot {
			sf |= snakeFlagBot
		}

		ds.WriteUint16(uint16(s.ID))
		ds.WriteUint8(sf)
		ds.WriteUint8(uint8(s.Direction))
		ds.WriteUint32(uint32(s.Score))
		ds.WriteUint16(uint16(s.Kills))
		ds.WriteShortBytes(name)
		ds.WriteUint32(uint32(len(s.Body)))
		for _, c := range s.Body {
			ds.WriteCell(c.X, c.Y)
		}
	}

	ds.WriteUint32(uint32(len(snap.Food)))
	for _, f := range snap.Food {
		if !validation.IsValidFoodValue(f.Value) {
			return fmt.Errorf("failed to encode food at %v: value %d out of range", f.Position, f.Value)
		}
		ds.WriteCell(f.Position.X, f.Position.Y)
		ds.WriteUint8(uint8(f.Value))
	}

	_, err := w.Write(ds.Bytes())
	return err
}

func (p *PacketSnapshot) Read(data []byte) error {
	if err := validation.ValidatePacketSize(data, snapshotHeader); err != nil {
		return malformed(PacketTypeSnapshot, "%v", err)
	}

	ds := validation.NewDataStream(data[1:])
	snap := &gamestate.Snapshot{
		Tick:   ds.ReadUint64(),
		Width:  int(ds.ReadUint16()),
		Height: int(ds.ReadUint16()),
	}
	flags := ds.ReadUint8()
	snap.Wrap = flags&flagWrap != 0
	if flags&flagView != 0 {
		x, y := ds.ReadCell(snap.Width, snap.Height)
		win := grid.Window{Center: grid.Position{X: x, Y: y}, Width: int(ds.ReadUint16()), Height: int(ds.ReadUint16())}
		if err := ds.Err(); err != nil {
			return malformed(PacketTypeSnapshot, "view: %v", err)
		}
		if win.Width == 0 || win.Height == 0 {
			return malformed(PacketTypeSnapshot, "empty %dx%d view", win.Width, win.Height)
		}
		snap.View = &win
	}
	nsnakes := int(ds.ReadUint16())

	if !ds.CanRead(nsnakes * snakeHeaderSize) {
		return malformed(PacketTypeSnapshot, "%d snakes do not fit in %d bytes", nsnakes, ds.Len())
	}
	snap.Snakes = make([]gamestate.SnakeState, 0, nsnakes)

	for i := 0; i < nsnakes; i++ {
		id := ds.ReadUint16()
		sf := ds.ReadUint8()
		dir := ds.ReadUint8()
		score := ds.ReadUint32()
		kills := ds.ReadUint16()
		rawName := ds.ReadShortBytes()
		ncells := ds.ReadUint32()
		if err := ds.Err(); err != nil {
			return malformed(PacketTypeSnapshot, "snake %d: %v", i, err)
		}

		if !validation.IsValidDirection(dir) {
			return malformed(PacketTypeSnapshot, "snake %d direction %d", id, dir)
		}
		name, err := CP437ToString(rawName)
		if err != nil {
			return malformed(PacketTypeSnapshot, "snake %d name: %v", id, err)
		}
		if uint64(ncells)*cellSize > uint64(ds.Len()) {
			return malformed(PacketTypeSnapshot, "snake %d claims %d cells", id, ncells)
		}

		body := make([]grid.Position, ncells)
		for c := range body {
			x, y := ds.ReadCell(snap.Width, snap.Height)
			body[c] = grid.Position{X: x, Y: y}
		}
		if err := ds.Err(); err != nil {
			return malformed(PacketTypeSnapshot, "snake %d body: %v", id, err)
		}

		snap.Snakes = append(snap.Snakes, gamestate.SnakeState{
			ID:        gamestate.ID(id),
			Name:      name,
			Body:      body,
			Direction: grid.Direction(dir),
			Fast:      sf&snakeFlagFast != 0,
			Alive:     sf&snakeFlagAlive != 0,
			Bot:       sf&snakeFlagBot != 0,
			Score:     int(score),
			Kills:     int(kills),
		})
	}

	nfood := ds.ReadUint32()
	if err := ds.Err(); err != nil {
		return malformed(PacketTypeSnapshot, "food count: %v", err)
	}
	if uint64(nfood)*foodSize != uint64(ds.Len()) {
		return malformed(PacketTypeSnapshot, "%d food items in %d bytes", nfood, ds.Len())
	}

	snap.Food = make([]gamestate.Food, nfood)
	for i := range snap.Food {
		x, y := ds.ReadCell(snap.Width, snap.Height)
		snap.Food[i] = gamestate.Food{Position: grid.Position{X: x, Y: y}, Value: int(ds.ReadUint8())}
	}
	if err := ds.Err(); err != nil {
		return malformed(PacketTypeSnapshot, "food: %v", err)
	}

	p.Snapshot = snap
	return nil
}
