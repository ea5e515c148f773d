package lua

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/player"
)

type apiFixture struct {
	vm       *VM
	world    *gamestate.World
	sessions *player.Manager
	bans     *bans.Manager
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	world := gamestate.New(gamestate.Config{Width: 30, Height: 20, FoodRate: 10, InitialLength: 3}, 7)
	if _, err := world.SpawnSnake(1, "alpha", false); err != nil {
		t.Fatal(err)
	}

	banManager, err := bans.NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	sessions := player.NewManager(8, time.Minute)

	api := NewGameAPI(world, sessions, slog.New(slog.NewTextHandler(io.Discard, nil)))
	api.SetBanManager(banManager)
	vm := NewVM()
	api.RegisterFunctions(vm)
	api.SetGamemodeVM(vm)

	return &apiFixture{vm: vm, world: world, sessions: sessions, bans: banManager}
}

func (f *apiFixture) eval(t *testing.T, code string) interface{} {
	t.Helper()
	if err := f.vm.LoadString("function probe() " + code + " end"); err != nil {
		t.Fatal(err)
	}
	results, err := f.vm.CallFunctionWithReturn("probe", 1)
	if err != nil {
		t.Fatal(err)
	}
	return results[0]
}

func TestWorldQueries(t *testing.T) {
	f := newAPIFixture(t)

	got := f.eval(t, `local s = get_snake(1) return s.name .. ":" .. s.length .. ":" .. get_world_width() .. "x" .. get_world_height()`)
	if got != "alpha:3:30x20" {
		t.Fatalf("probe = %v", got)
	}
	if got := f.eval(t, `return get_snake(42) == nil`); got != true {
		t.Fatalf("unknown snake should be nil")
	}
	if got := f.eval(t, `local ids = get_snake_ids() return #ids`); got != float64(1) {
		t.Fatalf("snake ids = %v", got)
	}
}

func TestSpawnFood(t *testing.T) {
	f := newAPIFixture(t)
	s, _ := f.world.Snake(1)
	head := s.Head()

	if got := f.eval(t, `return spawn_food(-1, 0)`); got != false {
		t.Fatalf("food placed outside the world")
	}
	f.vm.State().PushInteger(head.X)
	f.vm.State().SetGlobal("hx")
	f.vm.State().PushInteger(head.Y)
	f.vm.State().SetGlobal("hy")
	if got := f.eval(t, `return spawn_food(hx, hy)`); got != false {
		t.Fatalf("food placed on a snake")
	}

	before := f.world.FoodCount()
	for x := 0; x < 30; x++ {
		f.vm.State().PushInteger(x)
		f.vm.State().SetGlobal("fx")
		if f.eval(t, `return spawn_food(fx, 0, 3)`) == true {
			break
		}
	}
	if f.world.FoodCount() != before+1 {
		t.Fatalf("food count = %d, want %d", f.world.FoodCount(), before+1)
	}
	if got := f.eval(t, `return get_food_count()`); got != float64(before+1) {
		t.Fatalf("get_food_count = %v", got)
	}
}

func TestSpawnFoodRejectsOversizedValue(t *testing.T) {
	f := newAPIFixture(t)

	if got := f.eval(t, `return pcall(spawn_food, 0, 0, 300)`); got != false {
		t.Fatalf("spawn_food with value 300 did not raise")
	}
	if got := f.eval(t, `return pcall(spawn_food, 0, 0, 0)`); got != false {
		t.Fatalf("spawn_food with value 0 did not raise")
	}
	if f.world.FoodCount() != 0 {
		t.Fatalf("invalid food was placed")
	}
}

func TestSpawnFoodStopsAtDropLimit(t *testing.T) {
	f := newAPIFixture(t)
	occupied := f.world.Occupancy()
	for i := 0; f.world.CanDrop(); i++ {
		f.world.AddFood(f.world.Grid.At(i), 1, occupied)
	}
	limit := f.world.FoodCount()

	f.vm.State().PushInteger(f.world.Grid.Width - 1)
	f.vm.State().SetGlobal("fx")
	if got := f.eval(t, `return spawn_food(fx, 19)`); got != false {
		t.Fatalf("spawn_food went past the food limit")
	}
	if f.world.FoodCount() != limit {
		t.Fatalf("food count = %d, want %d", f.world.FoodCount(), limit)
	}
}

func TestUnban(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.bans.AddBan("10.0.0.9", "", "flood", "admin", 0); err != nil {
		t.Fatal(err)
	}
	if err := f.bans.AddBanByName("troll", "spam", "admin", 0); err != nil {
		t.Fatal(err)
	}

	if got := f.eval(t, `return unban("10.0.0.9")`); got != true {
		t.Fatalf("unban ip = %v", got)
	}
	if got := f.eval(t, `return unban("Troll")`); got != true {
		t.Fatalf("unban nickname = %v", got)
	}
	if banned, _ := f.bans.IsBanned("10.0.0.9"); banned {
		t.Fatalf("ip still banned")
	}
	if banned, _ := f.bans.IsBannedByName("troll"); banned {
		t.Fatalf("nickname still banned")
	}
	if got := f.eval(t, `local ok, err = unban("nobody") return err`); got != "not banned" {
		t.Fatalf("unban of unknown key = %v", got)
	}
}

func TestKillSnake(t *testing.T) {
	f := newAPIFixture(t)

	if got := f.eval(t, `return kill_snake(1)`); got != true {
		t.Fatalf("kill_snake = %v", got)
	}
	s, _ := f.world.Snake(1)
	if s.Alive || s.Cause != gamestate.CauseScript {
		t.Fatalf("snake alive=%v cause=%s", s.Alive, s.Cause)
	}
	if got := f.eval(t, `return kill_snake(1)`); got != false {
		t.Fatalf("killing a dead snake reported success")
	}
}

func TestBanNicknameKicks(t *testing.T) {
	f := newAPIFixture(t)
	sess, err := f.sessions.Register("Griefer", 5, "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}

	if got := f.eval(t, `return ban_nickname("griefer", "spam", 0)`); got != true {
		t.Fatalf("ban_nickname = %v", got)
	}
	if _, ok := f.sessions.Get(sess.ID); ok {
		t.Fatalf("banned player still connected")
	}
	departures := f.sessions.DrainDepartures()
	if len(departures) != 1 || !errors.Is(departures[0].Reason, player.ErrKicked) {
		t.Fatalf("departures = %+v", departures)
	}
	if got := f.eval(t, `return is_banned("GRIEFER")`); got != true {
		t.Fatalf("is_banned = %v", got)
	}
}

func TestAddTimer(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.vm.LoadString(`fired = "no" function on_timer() fired = "yes" end`); err != nil {
		t.Fatal(err)
	}

	if got := f.eval(t, `return add_timer(2, "on_timer")`); got != float64(1) {
		t.Fatalf("add_timer = %v", got)
	}
	if err := f.vm.UpdateTimers(2); err != nil {
		t.Fatal(err)
	}
	if got, _ := f.vm.GetGlobalString("fired"); got != "yes" {
		t.Fatalf("timer did not fire")
	}
	if got := f.eval(t, `return add_timer(-1, "on_timer")`); got != float64(-1) {
		t.Fatalf("negative interval accepted")
	}
}
