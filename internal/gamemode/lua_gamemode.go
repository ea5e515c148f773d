package gamemode

import (
	"fmt"
	"log/slog"

	golua "github.com/Shopify/go-lua"

	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/player"
	"github.com/siohaza/multisnake/pkg/lua"
)

// LuaGameMode forwards world events to hook functions defined by a script.
// Missing hooks are skipped and hook errors are logged, never propagated.
type LuaGameMode struct {
	vm     *lua.VM
	api    *lua.GameAPI
	name   string
	logger *slog.Logger
}

func NewLuaGameMode(scriptPath string, api *lua.GameAPI, logger *slog.Logger) (*LuaGameMode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vm := lua.NewVM()

	if api != nil {
		api.RegisterFunctions(vm)
		api.SetGamemodeVM(vm)
	}

	if err := vm.LoadFile(scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("failed to load gamemode script: %w", err)
	}

	return newLuaGameMode(vm, api, logger)
}

// NewLuaGameModeFromString is NewLuaGameMode for an inline script.
func NewLuaGameModeFromString(code string, api *lua.GameAPI, logger *slog.Logger) (*LuaGameMode, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vm := lua.NewVM()

	if api != nil {
		api.RegisterFunctions(vm)
		api.SetGamemodeVM(vm)
	}

	if err := vm.LoadString(code); err != nil {
		vm.Close()
		return nil, fmt.Errorf("failed to load gamemode script: %w", err)
	}

	return newLuaGameMode(vm, api, logger)
}

func newLuaGameMode(vm *lua.VM, api *lua.GameAPI, logger *slog.Logger) (*LuaGameMode, error) {
	name, err := vm.GetGlobalString("name")
	if err != nil {
		name = "lua_gamemode"
	}

	gm := &LuaGameMode{
		vm:     vm,
		api:    api,
		name:   name,
		logger: logger,
	}

	if vm.HasFunction("on_init") {
		if err := vm.CallFunction("on_init"); err != nil {
			vm.Close()
			return nil, fmt.Errorf("failed to call on_init: %w", err)
		}
	}

	logger.Info("gamemode loaded", "name", name)
	return gm, nil
}

func (gm *LuaGameMode) Name() string {
	return gm.name
}

func (gm *LuaGameMode) Close() {
	gm.vm.Close()
}

func (gm *LuaGameMode) call(hook string, args ...interface{}) {
	if !gm.vm.HasFunction(hook) {
		return
	}
	if err := gm.vm.CallFunction(hook, args...); err != nil {
		gm.logger.Error("lua gamemode "+hook+" error", "error", err)
	}
}

func (gm *LuaGameMode) callWith(hook string, push func(*golua.State) int) {
	if !gm.vm.HasFunction(hook) {
		return
	}
	if err := gm.vm.CallWith(hook, push); err != nil {
		gm.logger.Error("lua gamemode "+hook+" error", "error", err)
	}
}

// OnTick runs due timers, then on_tick.
func (gm *LuaGameMode) OnTick(tick uint64) {
	if err := gm.vm.UpdateTimers(tick); err != nil {
		gm.logger.Error("lua gamemode timer error", "error", err)
	}
	gm.call("on_tick", tick)
}

func (gm *LuaGameMode) OnConnect(s *player.Session) {
	gm.call("on_connect", int(s.ID), s.Name, s.IsBot())
}

func (gm *LuaGameMode) OnDisconnect(d player.Departure) {
	reason := ""
	if d.Reason != nil {
		reason = d.Reason.Error()
	}
	gm.call("on_disconnect", int(d.ID), reason)
}

func (gm *LuaGameMode) OnSnakeSpawn(s *gamestate.Snake) {
	gm.callWith("on_snake_spawn", func(state *golua.State) int {
		lua.PushSnake(state, s)
		return 1
	})
}

func (gm *LuaGameMode) OnSnakeDeath(s *gamestate.Snake, killer gamestate.ID, cause gamestate.DeathCause) {
	gm.callWith("on_snake_death", func(state *golua.State) int {
		lua.PushSnake(state, s)
		state.PushInteger(int(killer))
		state.PushString(cause.String())
		return 3
	})
}

func (gm *LuaGameMode) OnFoodEaten(s *gamestate.Snake, value int) {
	gm.callWith("on_food_eaten", func(state *golua.State) int {
		lua.PushSnake(state, s)
		state.PushInteger(value)
		return 2
	})
}

// OnRespawnRequest lets on_respawn_request veto a respawn by returning false.
func (gm *LuaGameMode) OnRespawnRequest(s *player.Session) bool {
	if !gm.vm.HasFunction("on_respawn_request") {
		return true
	}
	results, err := gm.vm.CallFunctionWithReturn("on_respawn_request", 1, int(s.ID), s.Name)
	if err != nil {
		gm.logger.Error("lua gamemode on_respawn_request error", "error", err)
		return true
	}
	if allow, ok := results[0].(bool); ok {
		return allow
	}
	return true
}
