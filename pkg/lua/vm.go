package lua

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"
)

// VM wraps a sandboxed Lua state. Timers count simulation ticks rather than
// wall time so scripted behaviour replays identically.
type VM struct {
	state     *lua.State
	timers    map[int]*Timer
	timerID   int
	tick      uint64
	timerLock sync.Mutex
}

type Timer struct {
	ID       int
	Callback string
	Interval uint64
	Repeat   bool
	NextRun  uint64
	Args     []interface{}
}

func NewVM() *VM {
	state := lua.NewState()
	openSafeLibraries(state)
	return &VM{
		state:  state,
		timers: make(map[int]*Timer),
	}
}

func openSafeLibraries(state *lua.State) {
	lua.OpenLibraries(state)

	for _, name := range []string{"io", "os", "debug", "dofile", "loadfile", "require"} {
		state.PushNil()
		state.SetGlobal(name)
	}
}

func (vm *VM) LoadFile(path string) error {
	if err := lua.DoFile(vm.state, path); err != nil {
		return fmt.Errorf("failed to load lua file %s: %w", path, err)
	}
	return nil
}

func (vm *VM) LoadString(code string) error {
	if err := lua.DoString(vm.state, code); err != nil {
		return fmt.Errorf("failed to load lua string: %w", err)
	}
	return nil
}

func (vm *VM) Close() {
	vm.timerLock.Lock()
	vm.timers = make(map[int]*Timer)
	vm.timerLock.Unlock()
}

// RegisterTimer schedules callback to run interval ticks from now. An
// interval of zero fires on the next update.
func (vm *VM) RegisterTimer(callback string, interval uint64, repeat bool, args ...interface{}) int {
	vm.timerLock.Lock()
	defer vm.timerLock.Unlock()

	if repeat && interval == 0 {
		interval = 1
	}

	vm.timerID++
	timer := &Timer{
		ID:       vm.timerID,
		Callback: callback,
		Interval: interval,
		Repeat:   repeat,
		NextRun:  vm.tick + interval,
		Args:     args,
	}

	vm.timers[timer.ID] = timer
	return timer.ID
}

func (vm *VM) CancelTimer(id int) {
	vm.timerLock.Lock()
	defer vm.timerLock.Unlock()

	delete(vm.timers, id)
}

func (vm *VM) TimerCount() int {
	vm.timerLock.Lock()
	defer vm.timerLock.Unlock()
	return len(vm.timers)
}

// UpdateTimers advances the timer clock to tick and runs every due timer in
// id order. A failing callback does not stop the others; the first error is
// returned.
func (vm *VM) UpdateTimers(tick uint64) error {
	vm.timerLock.Lock()
	vm.tick = tick
	var toExecute []*Timer

	for _, timer := range vm.timers {
		if tick >= timer.NextRun {
			toExecute = append(toExecute, timer)
			if timer.Repeat {
				timer.NextRun = tick + timer.Interval
			} else {
				delete(vm.timers, timer.ID)
			}
		}
	}
	vm.timerLock.Unlock()

	sort.Slice(toExecute, func(i, j int) bool { return toExecute[i].ID < toExecute[j].ID })

	var firstErr error
	for _, timer := range toExecute {
		if err := vm.CallFunction(timer.Callback, timer.Args...); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("timer callback %s failed: %w", timer.Callback, err)
		}
	}

	return firstErr
}

func (vm *VM) GetGlobalString(name string) (string, error) {
	vm.state.Global(name)
	if !vm.state.IsString(-1) {
		vm.state.Pop(1)
		return "", fmt.Errorf("global %s is not a string", name)
	}
	value, _ := vm.state.ToString(-1)
	vm.state.Pop(1)
	return value, nil
}

func (vm *VM) CallFunction(name string, args ...interface{}) error {
	_, err := vm.CallFunctionWithReturn(name, 0, args...)
	return err
}

func (vm *VM) CallFunctionWithReturn(name string, numReturns int, args ...interface{}) ([]interface{}, error) {
	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		vm.state.Pop(1)
		return nil, fmt.Errorf("global %s is not a function", name)
	}

	for i, arg := range args {
		if err := vm.push(arg); err != nil {
			vm.state.Pop(i + 1)
			return nil, err
		}
	}

	if err := vm.state.ProtectedCall(len(args), numReturns, 0); err != nil {
		vm.state.Pop(1)
		return nil, fmt.Errorf("[Lua Error] function %s: %w", name, err)
	}

	results := make([]interface{}, numReturns)
	for i := 0; i < numReturns; i++ {
		stackIndex := i - numReturns
		switch {
		case vm.state.IsNil(stackIndex):
			results[i] = nil
		case vm.state.IsBoolean(stackIndex):
			results[i] = vm.state.ToBoolean(stackIndex)
		case vm.state.IsNumber(stackIndex):
			value, _ := vm.state.ToNumber(stackIndex)
			results[i] = value
		case vm.state.IsString(stackIndex):
			value, _ := vm.state.ToString(stackIndex)
			results[i] = value
		}
	}
	vm.state.Pop(numReturns)

	return results, nil
}

// CallWith calls a global function after push has placed its arguments on the
// stack. It is used for hooks that take tables.
func (vm *VM) CallWith(name string, push func(*lua.State) int) error {
	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		vm.state.Pop(1)
		return fmt.Errorf("global %s is not a function", name)
	}
	nargs := push(vm.state)
	if err := vm.state.ProtectedCall(nargs, 0, 0); err != nil {
		vm.state.Pop(1)
		return fmt.Errorf("[Lua Error] function %s: %w", name, err)
	}
	return nil
}

func (vm *VM) push(arg interface{}) error {
	switch v := arg.(type) {
	case nil:
		vm.state.PushNil()
	case string:
		vm.state.PushString(v)
	case int:
		vm.state.PushInteger(v)
	case int64:
		vm.state.PushInteger(int(v))
	case uint64:
		vm.state.PushInteger(int(v))
	case float64:
		vm.state.PushNumber(v)
	case bool:
		vm.state.PushBoolean(v)
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

func (vm *VM) HasFunction(name string) bool {
	vm.state.Global(name)
	isFunc := vm.state.IsFunction(-1)
	vm.state.Pop(1)
	return isFunc
}

func (vm *VM) RegisterFunction(name string, fn lua.Function) {
	vm.state.Register(name, fn)
}

func (vm *VM) State() *lua.State {
	return vm.state
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
