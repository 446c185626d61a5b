package vm_test

import (
	"testing"

	"ember/internal/vm"
)

func expectPanicCode(t *testing.T, code vm.PanicCode, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		verr, ok := r.(*vm.VMError)
		if !ok {
			t.Fatalf("expected *VMError panic, got %v", r)
		}
		if verr.Code != code {
			t.Errorf("expected code %s, got %s", code, verr.Code)
		}
	}()
	fn()
}

func TestStackPushPopPeek(t *testing.T) {
	m := vm.New()

	m.Push(vm.MakeNumber(1))
	m.Push(vm.MakeNumber(2))
	m.Push(vm.MakeNumber(3))

	if got := m.StackDepth(); got != 3 {
		t.Errorf("expected depth 3, got %d", got)
	}
	if v := m.Peek(0); v.Num != 3 {
		t.Errorf("expected top 3, got %v", v.Num)
	}
	if v := m.Peek(2); v.Num != 1 {
		t.Errorf("expected bottom 1, got %v", v.Num)
	}
	if v := m.Pop(); v.Num != 3 {
		t.Errorf("expected pop 3, got %v", v.Num)
	}
	if got := m.StackDepth(); got != 2 {
		t.Errorf("expected depth 2 after pop, got %d", got)
	}
}

func TestStackOverflowPanics(t *testing.T) {
	m := vm.New()
	expectPanicCode(t, vm.PanicStackOverflow, func() {
		for {
			m.Push(vm.MakeNil())
		}
	})
}

func TestStackUnderflowPanics(t *testing.T) {
	m := vm.New()
	expectPanicCode(t, vm.PanicStackUnderflow, func() {
		m.Pop()
	})
}

func TestFrameOverflowCarriesBacktrace(t *testing.T) {
	m := vm.New()

	fn, err := m.NewFunction(&vm.Function{Name: "spin", Arity: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cl, err := m.NewClosure(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeClosure(cl))

	defer func() {
		r := recover()
		verr, ok := r.(*vm.VMError)
		if !ok {
			t.Fatalf("expected *VMError panic, got %v", r)
		}
		if verr.Code != vm.PanicFrameOverflow {
			t.Errorf("expected code %s, got %s", vm.PanicFrameOverflow, verr.Code)
		}
		if len(verr.Backtrace) != vm.FramesMax {
			t.Fatalf("expected %d backtrace entries, got %d", vm.FramesMax, len(verr.Backtrace))
		}
		if verr.Backtrace[0] != "spin" {
			t.Errorf("expected innermost frame spin, got %q", verr.Backtrace[0])
		}
	}()
	for {
		m.PushFrame(cl, 0)
	}
}

func TestFrameUnderflowPanics(t *testing.T) {
	m := vm.New()
	expectPanicCode(t, vm.PanicFrameUnderflow, func() {
		m.PopFrame()
	})
}

func TestGlobals(t *testing.T) {
	m := vm.New()

	if _, ok := m.GetGlobal("missing"); ok {
		t.Errorf("expected miss for undefined global")
	}
	if m.SetGlobal("missing", vm.MakeNumber(1)) {
		t.Errorf("expected set of undefined global to report false")
	}

	m.DefineGlobal("answer", vm.MakeNumber(42))
	v, ok := m.GetGlobal("answer")
	if !ok || v.Num != 42 {
		t.Errorf("expected answer=42, got %v (%v)", v.Num, ok)
	}

	if !m.SetGlobal("answer", vm.MakeNumber(43)) {
		t.Errorf("expected set of defined global to report true")
	}
	if v, _ := m.GetGlobal("answer"); v.Num != 43 {
		t.Errorf("expected answer=43, got %v", v.Num)
	}

	// Redefinition overwrites in place.
	m.DefineGlobal("answer", vm.MakeNumber(44))
	if v, _ := m.GetGlobal("answer"); v.Num != 44 {
		t.Errorf("expected answer=44, got %v", v.Num)
	}
}

func TestCaptureUpvalueShared(t *testing.T) {
	m := vm.New()
	m.Push(vm.MakeNumber(10))
	m.Push(vm.MakeNumber(20))

	first, err := m.CaptureUpvalue(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.CaptureUpvalue(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected both captures of slot 1 to share one upvalue")
	}

	other, err := m.CaptureUpvalue(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == first {
		t.Errorf("expected distinct slots to capture distinct upvalues")
	}
	if got := m.OpenUpvalueCount(); got != 2 {
		t.Errorf("expected 2 open upvalues, got %d", got)
	}
}

func TestCloseUpvaluesSnapshotsStack(t *testing.T) {
	m := vm.New()
	m.Push(vm.MakeNumber(1))
	m.Push(vm.MakeNumber(2))

	low, err := m.CaptureUpvalue(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := m.CaptureUpvalue(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fn, err := m.NewFunction(&vm.Function{Name: "f", UpvalueCount: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cl, err := m.NewClosure(fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.DefineGlobal("f", vm.MakeClosure(cl))
	m.AddUpvalue(cl, low)
	m.AddUpvalue(cl, high)

	// Closing from slot 1 closes only the higher upvalue.
	m.CloseUpvalues(1)
	if got := m.OpenUpvalueCount(); got != 1 {
		t.Errorf("expected 1 open upvalue after partial close, got %d", got)
	}

	m.Pop()
	m.Pop()
	m.CloseUpvalues(0)
	if got := m.OpenUpvalueCount(); got != 0 {
		t.Errorf("expected 0 open upvalues, got %d", got)
	}

	// Closed upvalues survive collection through the closure they belong to.
	m.GC().Collect()
	if got := m.GC().Stats().LiveObjects; got < 4 {
		t.Errorf("expected closure graph to survive collection, got %d live objects", got)
	}
}

func TestOpenUpvaluesAreRoots(t *testing.T) {
	m := vm.New()

	obj, err := m.NewObject()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetProperty(obj, "tag", vm.MakeNumber(7)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeObject(obj))

	up, err := m.CaptureUpvalue(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.CloseUpvalues(0)
	m.Pop()

	// The closed upvalue is now the only path to the object; root it
	// through a global so the path stays scannable.
	m.DefineGlobal("cell", vm.MakeObject(up))
	m.GC().Collect()

	if v, ok := m.GetProperty(obj, "tag"); !ok || v.Num != 7 {
		t.Errorf("expected upvalue-held object to survive, got %v (%v)", v.Num, ok)
	}
}

func TestCloseReleasesVMState(t *testing.T) {
	m := vm.New()
	for i := 0; i < 10; i++ {
		h, err := m.NewObject()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.Push(vm.MakeObject(h))
	}
	m.DefineGlobal("g", m.InternValue("kept"))

	m.Close()

	s := m.GC().Stats()
	if s.LiveObjects != 0 {
		t.Errorf("expected empty heap after close, got %d objects", s.LiveObjects)
	}
	if s.LiveStrings != 0 {
		t.Errorf("expected empty interner after close, got %d strings", s.LiveStrings)
	}
	if s.CurrentAllocated != 0 {
		t.Errorf("expected zero tracked bytes after close, got %d", s.CurrentAllocated)
	}
}
