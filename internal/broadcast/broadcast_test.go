package broadcast

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/protocol"
	"github.com/siohaza/multisnake/internal/simulation"
)

type sent struct {
	conn     player.ConnID
	data     []byte
	reliable bool
}

type fakeSender struct {
	mu           sync.Mutex
	frames       []sent
	disconnected map[player.ConnID]uint32
	full         map[player.ConnID]bool
	flushes      int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		disconnected: make(map[player.ConnID]uint32),
		full:         make(map[player.ConnID]bool),
	}
}

func (f *fakeSender) Send(conn player.ConnID, data []byte, reliable bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full[conn] && !reliable {
		return false
	}
	f.frames = append(f.frames, sent{conn: conn, data: data, reliable: reliable})
	return true
}

func (f *fakeSender) Disconnect(conn player.ConnID, reason uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[conn] = reason
}

func (f *fakeSender) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeSender) framesFor(conn player.ConnID) []protocol.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Packet
	for _, s := range f.frames {
		if s.conn != conn {
			continue
		}
		p, err := protocol.Decode(s.data)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot(tick uint64) *gamestate.Snapshot {
	return &gamestate.Snapshot{
		Tick:   tick,
		Width:  20,
		Height: 20,
		Snakes: []gamestate.SnakeState{
			{ID: 1, Name: "one", Body: []grid.Position{{X: 1, Y: 1}}, Alive: true},
		},
		Food: []gamestate.Food{},
	}
}

func TestDispatchSendsSnapshotToHumansOnly(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	var humans []*player.Session
	for i := 0; i < 3; i++ {
		s, err := sessions.Register(fmt.Sprintf("p%d", i), player.ConnID(100+i), "127.0.0.1")
		if err != nil {
			t.Fatal(err)
		}
		humans = append(humans, s)
	}
	if _, err := sessions.AddBot("bot", nil); err != nil {
		t.Fatal(err)
	}

	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())
	b.Dispatch(&simulation.Frame{Snapshot: testSnapshot(7)})

	if len(sender.frames) != len(humans) {
		t.Fatalf("sent %d frames, want %d", len(sender.frames), len(humans))
	}
	for i := 1; i < len(sender.frames); i++ {
		if &sender.frames[i].data[0] != &sender.frames[0].data[0] {
			t.Fatalf("snapshot was encoded more than once")
		}
	}
	for _, h := range humans {
		packets := sender.framesFor(h.Conn)
		if len(packets) != 1 {
			t.Fatalf("session %d got %d frames", h.ID, len(packets))
		}
		snap, ok := packets[0].(*protocol.PacketSnapshot)
		if !ok || snap.Snapshot.Tick != 7 {
			t.Fatalf("session %d got %+v", h.ID, packets[0])
		}
	}
	if stats := b.Stats(); stats.Frames != 1 || stats.Sent != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDispatchCountsDroppedFrames(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	slow, err := sessions.Register("slow", 1, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.Register("fast", 2, "127.0.0.1"); err != nil {
		t.Fatal(err)
	}

	sender := newFakeSender()
	sender.full[slow.Conn] = true
	b := New(sender, sessions, quietLogger())
	b.Dispatch(&simulation.Frame{Snapshot: testSnapshot(1)})

	if stats := b.Stats(); stats.Sent != 1 || stats.Dropped != 1 {
		t.Fatalf("stats = %+v, want one sent and one dropped", stats)
	}
}

func TestDispatchNotifiesDeaths(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	victim, err := sessions.Register("victim", 1, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())
	b.Dispatch(&simulation.Frame{
		Snapshot: testSnapshot(3),
		Deaths: []simulation.Death{
			{ID: victim.ID, Cause: gamestate.CauseSnake, KillerID: 9, HasKiller: true},
		},
	})

	packets := sender.framesFor(victim.Conn)
	if len(packets) != 2 {
		t.Fatalf("got %d frames, want snapshot and died", len(packets))
	}
	died, ok := packets[1].(*protocol.PacketDied)
	if !ok {
		t.Fatalf("second frame is %T", packets[1])
	}
	if died.KillerID != 9 || died.Cause != uint8(gamestate.CauseSnake) {
		t.Fatalf("died = %+v", died)
	}
	if !sender.frames[1].reliable {
		t.Fatalf("died frame must be reliable")
	}
}

func TestDispatchRejectsTimedOutSessions(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())

	b.Dispatch(&simulation.Frame{
		Snapshot: testSnapshot(4),
		Departures: []player.Departure{
			{ID: 1, Kind: player.KindHuman, Conn: 11, Reason: player.ErrSessionTimeout},
			{ID: 2, Kind: player.KindHuman, Conn: 12, Reason: player.ErrConnectionLost},
			{ID: 3, Kind: player.KindHuman, Conn: 13, Reason: player.ErrLeft},
		},
	})

	packets := sender.framesFor(11)
	if len(packets) != 1 {
		t.Fatalf("timed out session got %d frames", len(packets))
	}
	if reject, ok := packets[0].(*protocol.PacketReject); !ok || reject.Reason != protocol.RejectReasonTimeout {
		t.Fatalf("got %+v, want timeout reject", packets[0])
	}
	if reason, ok := sender.disconnected[11]; !ok || reason != uint32(protocol.RejectReasonTimeout) {
		t.Fatalf("timed out connection not closed")
	}
	if _, ok := sender.disconnected[12]; ok {
		t.Fatalf("lost connection should not be closed again")
	}
	if len(sender.framesFor(13)) != 0 {
		t.Fatalf("leaving session should not get a reject")
	}
	if _, ok := sender.disconnected[13]; !ok {
		t.Fatalf("leaving session was not disconnected")
	}
}

func TestRejectAllAndDrain(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := sessions.Register(fmt.Sprintf("p%d", i), player.ConnID(i+1), "127.0.0.1"); err != nil {
			t.Fatal(err)
		}
	}
	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())

	if n := b.RejectAll(protocol.RejectReasonShutdown, "server shutting down"); n != 2 {
		t.Fatalf("rejected %d sessions, want 2", n)
	}
	b.Drain()
	if sender.flushes != 1 {
		t.Fatalf("drain did not flush")
	}
	if len(sender.disconnected) != 2 {
		t.Fatalf("disconnected %d, want 2", len(sender.disconnected))
	}
}

func TestRejectReason(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.RejectReason
	}{
		{nil, protocol.RejectReasonUndefined},
		{fmt.Errorf("%w: addr", bans.ErrBanned), protocol.RejectReasonBanned},
		{fmt.Errorf("%w: too long", player.ErrInvalidNickname), protocol.RejectReasonInvalidNickname},
		{player.ErrCapacityExceeded, protocol.RejectReasonCapacityExceeded},
		{player.ErrShuttingDown, protocol.RejectReasonShutdown},
		{player.ErrSessionTimeout, protocol.RejectReasonTimeout},
		{player.ErrKicked, protocol.RejectReasonKicked},
		{gamestate.ErrNoSpace, protocol.RejectReasonNoSpace},
		{player.ErrTooManyMalformed, protocol.RejectReasonProtocolViolation},
		{errors.New("other"), protocol.RejectReasonUndefined},
	}

	for _, tt := range tests {
		if got := RejectReason(tt.err); got != tt.want {
			t.Errorf("RejectReason(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestDispatchCropsToEachPlayersView(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	player1, err := sessions.Register("player", 1, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	watcher, err := sessions.Register("watcher", 2, "127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}

	snap := &gamestate.Snapshot{
		Tick:   3,
		Width:  100,
		Height: 100,
		Snakes: []gamestate.SnakeState{
			{ID: player1.ID, Name: "player", Alive: true, Score: 5, Body: []grid.Position{{X: 50, Y: 50}, {X: 49, Y: 50}}},
			{ID: 99, Name: "faraway", Alive: true, Body: []grid.Position{{X: 5, Y: 5}, {X: 4, Y: 5}}},
		},
		Food: []gamestate.Food{
			{Position: grid.Position{X: 52, Y: 51}, Value: 1},
			{Position: grid.Position{X: 90, Y: 90}, Value: 1},
		},
	}

	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())
	b.SetView(49, 29)
	b.Dispatch(&simulation.Frame{Snapshot: snap})

	own := sender.framesFor(player1.Conn)[0].(*protocol.PacketSnapshot).Snapshot
	if own.View == nil || own.View.Center != (grid.Position{X: 50, Y: 50}) {
		t.Fatalf("view = %+v, want centred on the head", own.View)
	}
	if len(own.Food) != 1 || own.Food[0].Position != (grid.Position{X: 52, Y: 51}) {
		t.Fatalf("food in view = %+v", own.Food)
	}
	far, _ := own.Snake(99)
	if len(far.Body) != 0 {
		t.Fatalf("snake outside the view sent %d cells", len(far.Body))
	}
	me, _ := own.Snake(player1.ID)
	if me.Score != 5 || len(me.Body) != 2 {
		t.Fatalf("own snake = %+v", me)
	}

	spectator := sender.framesFor(watcher.Conn)[0].(*protocol.PacketSnapshot).Snapshot
	if spectator.View != nil || len(spectator.Food) != 2 {
		t.Fatalf("player without a snake should see the whole world, got %+v", spectator)
	}
	if stats := b.Stats(); stats.Frames != 2 {
		t.Fatalf("frames = %d, want one view and one full encoding", stats.Frames)
	}
}

func TestDispatchSkipsUnencodableSnapshot(t *testing.T) {
	sessions := player.NewManager(8, time.Minute)
	if _, err := sessions.Register("one", 1, "127.0.0.1"); err != nil {
		t.Fatal(err)
	}

	snap := testSnapshot(1)
	snap.Food = []gamestate.Food{{Position: grid.Position{X: 2, Y: 2}, Value: 300}}

	sender := newFakeSender()
	b := New(sender, sessions, quietLogger())
	b.Dispatch(&simulation.Frame{Snapshot: snap})

	if len(sender.frames) != 0 {
		t.Fatalf("sent %d frames carrying a value that does not fit a byte", len(sender.frames))
	}
}
