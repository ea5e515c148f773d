package lua

import (
	"testing"
)

func TestSandboxRemovesUnsafeLibraries(t *testing.T) {
	vm := NewVM()
	if err := vm.LoadString(`sandboxed = tostring(io == nil and os == nil and debug == nil and dofile == nil and require == nil)`); err != nil {
		t.Fatal(err)
	}
	got, err := vm.GetGlobalString("sandboxed")
	if err != nil {
		t.Fatal(err)
	}
	if got != "true" {
		t.Fatalf("unsafe libraries still reachable")
	}
}

func counter(t *testing.T, vm *VM) float64 {
	t.Helper()
	results, err := vm.CallFunctionWithReturn("get", 1)
	if err != nil {
		t.Fatal(err)
	}
	n, ok := results[0].(float64)
	if !ok {
		t.Fatalf("get returned %T", results[0])
	}
	return n
}

func TestRepeatingTimerCountsTicks(t *testing.T) {
	vm := NewVM()
	if err := vm.LoadString(`
		count = 0
		function bump() count = count + 1 end
		function get() return count end
	`); err != nil {
		t.Fatal(err)
	}

	vm.RegisterTimer("bump", 2, true)
	for tick := uint64(1); tick <= 6; tick++ {
		if err := vm.UpdateTimers(tick); err != nil {
			t.Fatal(err)
		}
	}

	if got := counter(t, vm); got != 3 {
		t.Fatalf("repeating timer fired %v times over 6 ticks, want 3", got)
	}
}

func TestOneShotTimerIsRemoved(t *testing.T) {
	vm := NewVM()
	if err := vm.LoadString(`function noop() end`); err != nil {
		t.Fatal(err)
	}

	id := vm.RegisterTimer("noop", 0, false)
	if id != 1 || vm.TimerCount() != 1 {
		t.Fatalf("timer not registered")
	}
	if err := vm.UpdateTimers(0); err != nil {
		t.Fatal(err)
	}
	if vm.TimerCount() != 0 {
		t.Fatalf("one-shot timer still scheduled")
	}

	cancelled := vm.RegisterTimer("noop", 5, true)
	vm.CancelTimer(cancelled)
	if vm.TimerCount() != 0 {
		t.Fatalf("cancelled timer still scheduled")
	}
}

func TestFailingTimerDoesNotBlockOthers(t *testing.T) {
	vm := NewVM()
	if err := vm.LoadString(`
		count = 0
		function broken() error("boom") end
		function bump() count = count + 1 end
		function get() return count end
	`); err != nil {
		t.Fatal(err)
	}

	vm.RegisterTimer("broken", 1, false)
	vm.RegisterTimer("bump", 1, false)
	if err := vm.UpdateTimers(1); err == nil {
		t.Fatalf("expected the broken timer's error")
	}
	if got := counter(t, vm); got != 1 {
		t.Fatalf("second timer did not run")
	}
}

func TestCallFunctionErrors(t *testing.T) {
	vm := NewVM()
	if err := vm.CallFunction("missing"); err == nil {
		t.Fatalf("calling an undefined function succeeded")
	}
	if err := vm.LoadString(`function f(x) end`); err != nil {
		t.Fatal(err)
	}
	if err := vm.CallFunction("f", struct{}{}); err == nil {
		t.Fatalf("unsupported argument accepted")
	}
	if err := vm.CallFunction("f", 1); err != nil {
		t.Fatalf("stack left unbalanced by the failed call: %v", err)
	}
}
