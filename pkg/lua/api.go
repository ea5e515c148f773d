package lua

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/siohaza/multisnake/internal/bans"
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/grid"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/internal/validation"

	"github.com/Shopify/go-lua"
)

// GameAPI exposes the world to rules scripts. Every function runs on the tick
// goroutine, so it reads and mutates the world directly.
type GameAPI struct {
	world      *gamestate.World
	sessions   *player.Manager
	banManager *bans.Manager
	gamemodeVM *VM
	logger     *slog.Logger
}

func NewGameAPI(world *gamestate.World, sessions *player.Manager, logger *slog.Logger) *GameAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameAPI{
		world:    world,
		sessions: sessions,
		logger:   logger,
	}
}

func (api *GameAPI) SetBanManager(bm *bans.Manager) {
	api.banManager = bm
}

func (api *GameAPI) SetGamemodeVM(vm *VM) {
	api.gamemodeVM = vm
}

func (api *GameAPI) RegisterFunctions(vm *VM) {
	state := vm.State()

	state.Register("get_tick", api.getTick)
	state.Register("get_world_width", api.getWorldWidth)
	state.Register("get_world_height", api.getWorldHeight)
	state.Register("get_snake", api.getSnake)
	state.Register("get_snake_ids", api.getSnakeIDs)
	state.Register("get_food_count", api.getFoodCount)
	state.Register("spawn_food", api.spawnFood)
	state.Register("kill_snake", api.killSnake)
	state.Register("ban_nickname", api.banNickname)
	state.Register("is_banned", api.isBanned)
	state.Register("unban", api.unban)
	state.Register("add_timer", api.addTimer)
	state.Register("cancel_timer", api.cancelTimer)
	state.Register("log", api.log)
}

func (api *GameAPI) getTick(state *lua.State) int {
	state.PushInteger(int(api.world.Tick()))
	return 1
}

func (api *GameAPI) getWorldWidth(state *lua.State) int {
	state.PushInteger(api.world.Grid.Width)
	return 1
}

func (api *GameAPI) getWorldHeight(state *lua.State) int {
	state.PushInteger(api.world.Grid.Height)
	return 1
}

func (api *GameAPI) getSnake(state *lua.State) int {
	id, _ := state.ToInteger(1)

	s, _ := api.world.Snake(gamestate.ID(id))
	PushSnake(state, s)
	return 1
}

// PushSnake pushes a table describing s, or nil.
func PushSnake(state *lua.State, s *gamestate.Snake) {
	if s == nil {
		state.PushNil()
		return
	}

	head := s.Head()
	state.NewTable()
	state.PushInteger(int(s.ID))
	state.SetField(-2, "id")
	state.PushString(s.Name)
	state.SetField(-2, "name")
	state.PushBoolean(s.Alive)
	state.SetField(-2, "alive")
	state.PushBoolean(s.Bot)
	state.SetField(-2, "bot")
	state.PushBoolean(s.Fast)
	state.SetField(-2, "fast")
	state.PushInteger(s.Length())
	state.SetField(-2, "length")
	state.PushInteger(s.Score)
	state.SetField(-2, "score")
	state.PushInteger(s.Kills)
	state.SetField(-2, "kills")
	state.PushString(s.Direction.String())
	state.SetField(-2, "direction")
	state.PushInteger(head.X)
	state.SetField(-2, "x")
	state.PushInteger(head.Y)
	state.SetField(-2, "y")
}

func (api *GameAPI) getSnakeIDs(state *lua.State) int {
	state.NewTable()
	for i, id := range api.world.SnakeIDs() {
		state.PushInteger(int(id))
		state.RawSetInt(-2, i+1)
	}
	return 1
}

func (api *GameAPI) getFoodCount(state *lua.State) int {
	state.PushInteger(api.world.FoodCount())
	return 1
}

func (api *GameAPI) spawnFood(state *lua.State) int {
	x, _ := state.ToInteger(1)
	y, _ := state.ToInteger(2)
	value := max(api.world.Config.FoodValue, 1)
	if state.Top() >= 3 && state.IsNumber(3) {
		value, _ = state.ToInteger(3)
	}
	if !validation.IsValidFoodValue(value) {
		lua.ArgumentError(state, 3, fmt.Sprintf("food value must be between 1 and %d", validation.MaxFoodValue))
	}
	if !api.world.CanDrop() {
		state.PushBoolean(false)
		return 1
	}

	ok := api.world.AddFood(grid.Position{X: x, Y: y}, value, api.world.Occupancy())
	state.PushBoolean(ok)
	return 1
}

func (api *GameAPI) killSnake(state *lua.State) int {
	id, _ := state.ToInteger(1)

	killed := api.world.KillSnake(gamestate.ID(id), gamestate.CauseScript)
	state.PushBoolean(killed)
	return 1
}

// banNickname bans a nickname and kicks every human session using it.
func (api *GameAPI) banNickname(state *lua.State) int {
	name, _ := state.ToString(1)
	reason, _ := state.ToString(2)
	durationHours, _ := state.ToNumber(3)

	if api.banManager == nil {
		state.PushBoolean(false)
		state.PushString("ban manager not available")
		return 2
	}

	var duration time.Duration
	if durationHours > 0 {
		duration = time.Duration(durationHours * float64(time.Hour))
	}

	if err := api.banManager.AddBanByName(name, reason, "script", duration); err != nil {
		state.PushBoolean(false)
		state.PushString(err.Error())
		return 2
	}

	if api.sessions != nil {
		for _, s := range api.sessions.All() {
			if !s.IsBot() && strings.EqualFold(s.Name, strings.TrimSpace(name)) {
				api.sessions.Disconnect(s.ID, player.ErrKicked)
				api.logger.Info("kicked banned player", "id", s.ID, "name", s.Name, "reason", reason)
			}
		}
	}

	state.PushBoolean(true)
	state.PushString("")
	return 2
}

func (api *GameAPI) isBanned(state *lua.State) int {
	key, _ := state.ToString(1)

	if api.banManager == nil {
		state.PushBoolean(false)
		return 1
	}

	banned, _ := api.banManager.IsBanned(key)
	if !banned {
		banned, _ = api.banManager.IsBannedByName(key)
	}
	state.PushBoolean(banned)
	return 1
}

// unban lifts an IP ban and a nickname ban matching key.
func (api *GameAPI) unban(state *lua.State) int {
	key, _ := state.ToString(1)

	if api.banManager == nil {
		state.PushBoolean(false)
		state.PushString("ban manager not available")
		return 2
	}

	banned, _ := api.banManager.IsBanned(key)
	named, _ := api.banManager.IsBannedByName(key)
	if !banned && !named {
		state.PushBoolean(false)
		state.PushString("not banned")
		return 2
	}

	if banned {
		if err := api.banManager.RemoveBan(key); err != nil {
			state.PushBoolean(false)
			state.PushString(err.Error())
			return 2
		}
	}
	if named {
		if err := api.banManager.RemoveBanByName(key); err != nil {
			state.PushBoolean(false)
			state.PushString(err.Error())
			return 2
		}
	}

	api.logger.Info("script lifted ban", "key", key)
	state.PushBoolean(true)
	state.PushNil()
	return 2
}

func (api *GameAPI) addTimer(state *lua.State) int {
	ticks, _ := state.ToInteger(1)
	callback, _ := state.ToString(2)
	repeat := false
	if state.Top() >= 3 && state.IsBoolean(3) {
		repeat = state.ToBoolean(3)
	}

	if api.gamemodeVM == nil || ticks < 0 || callback == "" {
		state.PushInteger(-1)
		return 1
	}

	timerID := api.gamemodeVM.RegisterTimer(callback, uint64(ticks), repeat)
	state.PushInteger(timerID)
	return 1
}

func (api *GameAPI) cancelTimer(state *lua.State) int {
	id, _ := state.ToInteger(1)

	if api.gamemodeVM != nil {
		api.gamemodeVM.CancelTimer(id)
	}

	return 0
}

func (api *GameAPI) log(state *lua.State) int {
	message, _ := state.ToString(1)
	api.logger.Info("lua", "message", message)
	return 0
}
