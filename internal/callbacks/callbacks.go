package callbacks

import (
	"github.com/siohaza/multisnake/internal/gamestate"
	"github.com/siohaza/multisnake/internal/player"
)

// Callbacks receives world events. Every method runs on the tick goroutine.
type Callbacks interface {
	OnTick(tick uint64)
	OnConnect(s *player.Session)
	OnDisconnect(d player.Departure)
	OnSnakeSpawn(s *gamestate.Snake)
	OnSnakeDeath(s *gamestate.Snake, killer gamestate.ID, cause gamestate.DeathCause)
	OnFoodEaten(s *gamestate.Snake, value int)
	// OnRespawnRequest may veto a respawn.
	OnRespawnRequest(s *player.Session) bool
}

type DefaultCallbacks struct{}

func (d *DefaultCallbacks) OnTick(tick uint64)                {}
func (d *DefaultCallbacks) OnConnect(s *player.Session)       {}
func (d *DefaultCallbacks) OnDisconnect(dep player.Departure) {}
func (d *DefaultCallbacks) OnSnakeSpawn(s *gamestate.Snake)   {}
func (d *DefaultCallbacks) OnSnakeDeath(s *gamestate.Snake, killer gamestate.ID, cause gamestate.DeathCause) {
}
func (d *DefaultCallbacks) OnFoodEaten(s *gamestate.Snake, value int) {}
func (d *DefaultCallbacks) OnRespawnRequest(s *player.Session) bool  { return true }

type CallbackChain struct {
	callbacks []Callbacks
}

func NewCallbackChain() *CallbackChain {
	return &CallbackChain{
		callbacks: make([]Callbacks, 0),
	}
}

func (c *CallbackChain) Register(cb Callbacks) {
	c.callbacks = append(c.callbacks, cb)
}

func (c *CallbackChain) Len() int {
	return len(c.callbacks)
}

func (c *CallbackChain) OnTick(tick uint64) {
	for _, cb := range c.callbacks {
		cb.OnTick(tick)
	}
}

func (c *CallbackChain) OnConnect(s *player.Session) {
	for _, cb := range c.callbacks {
		cb.OnConnect(s)
	}
}

func (c *CallbackChain) OnDisconnect(d player.Departure) {
	for _, cb := range c.callbacks {
		cb.OnDisconnect(d)
	}
}

func (c *CallbackChain) OnSnakeSpawn(s *gamestate.Snake) {
	for _, cb := range c.callbacks {
		cb.OnSnakeSpawn(s)
	}
}

func (c *CallbackChain) OnSnakeDeath(s *gamestate.Snake, killer gamestate.ID, cause gamestate.DeathCause) {
	for _, cb := range c.callbacks {
		cb.OnSnakeDeath(s, killer, cause)
	}
}

func (c *CallbackChain) OnFoodEaten(s *gamestate.Snake, value int) {
	for _, cb := range c.callbacks {
		cb.OnFoodEaten(s, value)
	}
}

func (c *CallbackChain) OnRespawnRequest(s *player.Session) bool {
	for _, cb := range c.callbacks {
		if !cb.OnRespawnRequest(s) {
			return false
		}
	}
	return true
}
