package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siohaza/multisnake/internal/simulation"
	"github.com/siohaza/multisnake/internal/validation"
)

var ErrNotIdle = errors.New("scheduler already started")

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Stepper interface {
	Step() *simulation.Frame
}

// Dispatcher delivers a finished tick. Dispatch must not block on clients.
type Dispatcher interface {
	Dispatch(frame *simulation.Frame)
	Drain()
}

// Scheduler fires the simulation at a fixed rate. A tick that overruns its
// period is counted and the next one starts at once; missed ticks are not
// replayed.
type Scheduler struct {
	period     time.Duration
	stepper    Stepper
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	state     atomic.Int32
	ticks     atomic.Uint64
	slowTicks atomic.Uint64
	lastTick  atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(ticksPerSecond int, stepper Stepper, dispatcher Dispatcher, logger *slog.Logger) (*Scheduler, error) {
	if !validation.IsValidTicksPerSecond(ticksPerSecond) {
		return nil, fmt.Errorf("invalid ticks per second %d (must be %d-%d)",
			ticksPerSecond, validation.MinTicksPerSecond, validation.MaxTicksPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		period:     time.Second / time.Duration(ticksPerSecond),
		stepper:    stepper,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// SetClock replaces the time source used to measure tick duration.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Scheduler) Period() time.Duration {
	return s.period
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Scheduler) SlowTicks() uint64 {
	return s.slowTicks.Load()
}

// LastTickDuration reports how long the most recent tick took.
func (s *Scheduler) LastTickDuration() time.Duration {
	return time.Duration(s.lastTick.Load())
}

// Run drives ticks until ctx is cancelled or Stop is called. It returns after
// the dispatcher has drained. Run on a scheduler that was already stopped
// returns nil without ticking.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if s.State() == StateStopped {
			return nil
		}
		return ErrNotIdle
	}
	defer close(s.done)

	s.logger.Info("tick loop started", "period", s.period)

	timer := time.NewTimer(s.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.stopChan:
			s.shutdown()
			return nil
		case <-timer.C:
			if s.State() != StateRunning {
				s.shutdown()
				return nil
			}

			elapsed := s.tick()
			if elapsed >= s.period {
				timer.Reset(0)
			} else {
				timer.Reset(s.period - elapsed)
			}
		}
	}
}

func (s *Scheduler) tick() time.Duration {
	start := s.now()

	frame := s.stepper.Step()
	if frame != nil && s.dispatcher != nil {
		s.dispatcher.Dispatch(frame)
	}

	elapsed := s.now().Sub(start)
	count := s.ticks.Add(1)
	s.lastTick.Store(int64(elapsed))

	if elapsed > s.period {
		s.slowTicks.Add(1)
		s.logger.Warn("tick overran its period", "tick", count, "elapsed", elapsed, "period", s.period)
	}
	return elapsed
}

func (s *Scheduler) shutdown() {
	s.state.Store(int32(StateShuttingDown))
	if s.dispatcher != nil {
		s.dispatcher.Drain()
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("tick loop stopped", "ticks", s.ticks.Load(), "slow_ticks", s.slowTicks.Load())
}

// Stop ends the loop after the in-flight tick and waits for the drain.
func (s *Scheduler) Stop() {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return
	}
	s.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown))
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}
