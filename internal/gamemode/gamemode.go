package gamemode

import (
	"log/slog"

	"github.com/siohaza/multisnake/internal/callbacks"
	"github.com/siohaza/multisnake/pkg/lua"
)

// GameMode is a rules set driven by world events.
type GameMode interface {
	callbacks.Callbacks
	Name() string
}

// BaseGameMode plays plain snake with no extra rules.
type BaseGameMode struct {
	callbacks.DefaultCallbacks
	name string
}

func NewBaseGameMode(name string) *BaseGameMode {
	return &BaseGameMode{name: name}
}

func (b *BaseGameMode) Name() string {
	return b.name
}

// Load returns the Lua game mode at scriptPath, or the classic rules when no
// script is configured.
func Load(scriptPath string, api *lua.GameAPI, logger *slog.Logger) (GameMode, error) {
	if scriptPath == "" {
		return NewBaseGameMode("classic"), nil
	}
	return NewLuaGameMode(scriptPath, api, logger)
}
