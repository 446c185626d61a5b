package vm_test

import (
	"testing"

	"ember/internal/vm"
)

func newVM(t *testing.T) *vm.VM {
	t.Helper()
	return vm.New()
}

func mustNewObject(t *testing.T, m *vm.VM) vm.Handle {
	t.Helper()
	h, err := m.NewObject()
	if err != nil {
		t.Fatalf("unexpected allocation error: %v", err)
	}
	return h
}

func mustSet(t *testing.T, m *vm.VM, h vm.Handle, key string, v vm.Value) {
	t.Helper()
	if err := m.SetProperty(h, key, v); err != nil {
		t.Fatalf("unexpected error setting %q: %v", key, err)
	}
}

func TestPrototypeDelegation(t *testing.T) {
	m := newVM(t)

	b := mustNewObject(t, m)
	mustSet(t, m, b, "y", m.InternValue("hi"))

	a := mustNewObject(t, m)
	m.SetPrototype(a, b)
	mustSet(t, m, a, "x", vm.MakeNumber(42))

	v, ok := m.GetProperty(a, "x")
	if !ok || v.Num != 42 {
		t.Errorf("expected own property x=42, got %v (%v)", v.Num, ok)
	}

	v, ok = m.GetProperty(a, "y")
	if !ok || v.Str.Contents() != "hi" {
		t.Errorf("expected delegated property y=hi, got %v (%v)", v, ok)
	}

	if _, ok := m.GetProperty(a, "z"); ok {
		t.Errorf("expected miss for unbound key")
	}

	if !m.HasProperty(a, "y") {
		t.Errorf("expected HasProperty to see the delegated binding")
	}
	if m.HasOwnProperty(a, "y") {
		t.Errorf("expected HasOwnProperty to ignore the chain")
	}
	if !m.HasOwnProperty(b, "y") {
		t.Errorf("expected the defining object to own its binding")
	}
}

func TestSetNeverDelegates(t *testing.T) {
	m := newVM(t)

	proto := mustNewObject(t, m)
	mustSet(t, m, proto, "shared", vm.MakeNumber(1))

	child := mustNewObject(t, m)
	m.SetPrototype(child, proto)

	// Writing through the child shadows; the prototype stays untouched.
	mustSet(t, m, child, "shared", vm.MakeNumber(2))

	v, _ := m.GetProperty(child, "shared")
	if v.Num != 2 {
		t.Errorf("expected shadowing write to win, got %v", v.Num)
	}
	v, _ = m.GetProperty(proto, "shared")
	if v.Num != 1 {
		t.Errorf("expected prototype binding to stay 1, got %v", v.Num)
	}
}

func TestDeleteIsOwnOnly(t *testing.T) {
	m := newVM(t)

	proto := mustNewObject(t, m)
	mustSet(t, m, proto, "k", vm.MakeNumber(1))
	child := mustNewObject(t, m)
	m.SetPrototype(child, proto)

	if m.DeleteProperty(child, "k") {
		t.Errorf("expected delete on the child to miss an inherited binding")
	}
	if v, ok := m.GetProperty(child, "k"); !ok || v.Num != 1 {
		t.Errorf("expected inherited binding to survive, got %v (%v)", v.Num, ok)
	}

	mustSet(t, m, child, "k", vm.MakeNumber(2))
	if !m.DeleteProperty(child, "k") {
		t.Errorf("expected delete of the shadowing binding to succeed")
	}
	// The inherited binding shows through again.
	if v, ok := m.GetProperty(child, "k"); !ok || v.Num != 1 {
		t.Errorf("expected inherited binding to show through, got %v (%v)", v.Num, ok)
	}
}

func TestPrototypeCycleEndsLookup(t *testing.T) {
	m := newVM(t)

	a := mustNewObject(t, m)
	b := mustNewObject(t, m)
	m.SetPrototype(a, b)
	m.SetPrototype(b, a)

	before := m.GC().Stats().ProtoCycles
	if _, ok := m.GetProperty(a, "missing"); ok {
		t.Errorf("expected miss on a cyclic chain")
	}
	if got := m.GC().Stats().ProtoCycles; got != before+1 {
		t.Errorf("expected cycle counter to advance to %d, got %d", before+1, got)
	}

	// Self-cycle terminates too.
	c := mustNewObject(t, m)
	m.SetPrototype(c, c)
	if _, ok := m.GetProperty(c, "missing"); ok {
		t.Errorf("expected miss on a self-referential chain")
	}

	// Keys that resolve before the walk closes the loop still resolve.
	mustSet(t, m, a, "found", vm.MakeNumber(9))
	if v, ok := m.GetProperty(a, "found"); !ok || v.Num != 9 {
		t.Errorf("expected own key on a cyclic object to resolve, got %v (%v)", v.Num, ok)
	}
}

func TestNilHandleAndEmptyKeyAreNoOps(t *testing.T) {
	m := newVM(t)
	h := mustNewObject(t, m)

	if _, ok := m.GetProperty(vm.NilHandle, "k"); ok {
		t.Errorf("expected miss on nil handle")
	}
	if _, ok := m.GetProperty(h, ""); ok {
		t.Errorf("expected miss on empty key")
	}
	if err := m.SetProperty(vm.NilHandle, "k", vm.MakeNumber(1)); err != nil {
		t.Errorf("expected nil-handle set to be a silent no-op, got %v", err)
	}
	if err := m.SetProperty(h, "", vm.MakeNumber(1)); err != nil {
		t.Errorf("expected empty-key set to be a silent no-op, got %v", err)
	}
	if m.DeleteProperty(vm.NilHandle, "k") || m.DeleteProperty(h, "") {
		t.Errorf("expected degenerate deletes to report a miss")
	}
	if m.HasProperty(vm.NilHandle, "k") || m.HasOwnProperty(h, "") {
		t.Errorf("expected degenerate has checks to report false")
	}
}

func TestSetPropertiesBatch(t *testing.T) {
	m := newVM(t)
	h := mustNewObject(t, m)

	keys := []string{"a", "b", "c"}
	values := []vm.Value{vm.MakeNumber(1), vm.MakeNumber(2), vm.MakeNumber(3)}
	if err := m.SetPropertiesBatch(h, keys, values); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, key := range keys {
		v, ok := m.GetProperty(h, key)
		if !ok || v.Num != float64(i+1) {
			t.Errorf("expected %s=%d, got %v (%v)", key, i+1, v.Num, ok)
		}
	}
}

func TestIteratePropertiesSkipsChain(t *testing.T) {
	m := newVM(t)
	proto := mustNewObject(t, m)
	mustSet(t, m, proto, "inherited", vm.MakeNumber(1))
	h := mustNewObject(t, m)
	m.SetPrototype(h, proto)
	mustSet(t, m, h, "own", vm.MakeNumber(2))

	seen := map[string]bool{}
	m.IterateProperties(h, func(key string, _ vm.Value) {
		seen[key] = true
	})

	if !seen["own"] || seen["inherited"] {
		t.Errorf("expected iteration over own bindings only, got %v", seen)
	}
}

func TestDefaultPrototypeIsShared(t *testing.T) {
	m := newVM(t)
	a := mustNewObject(t, m)
	b := mustNewObject(t, m)

	if m.Prototype(a) != m.Prototype(b) {
		t.Errorf("expected fresh objects to share the builtin object prototype")
	}
	if m.Prototype(a) != m.BuiltinPrototypes().Object {
		t.Errorf("expected the builtin object prototype as default")
	}

	// A binding on the shared prototype is visible everywhere.
	mustSet(t, m, m.BuiltinPrototypes().Object, "toString", vm.MakeNumber(1))
	if !m.HasProperty(a, "toString") || !m.HasProperty(b, "toString") {
		t.Errorf("expected builtin prototype bindings to be visible on all objects")
	}
}

func TestKindMismatchPanics(t *testing.T) {
	m := newVM(t)
	st, err := m.DefineStruct("Point", []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inst, err := m.NewStructInstance(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defer func() {
		r := recover()
		verr, ok := r.(*vm.VMError)
		if !ok {
			t.Fatalf("expected *VMError panic, got %v", r)
		}
		if verr.Code != vm.PanicKindMismatch {
			t.Errorf("expected code %s, got %s", vm.PanicKindMismatch, verr.Code)
		}
	}()
	_ = m.SetProperty(inst, "x", vm.MakeNumber(1))
}
