package vm_test

import (
	"testing"

	"ember/internal/vm"
)

func definePoint(t *testing.T, m *vm.VM) *vm.StructType {
	t.Helper()
	st, err := m.DefineStruct("Point", []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return st
}

func TestDefineStructIdempotent(t *testing.T) {
	m := newVM(t)
	first := definePoint(t, m)
	second := definePoint(t, m)
	if first != second {
		t.Errorf("expected redefining a struct name to return the existing type")
	}

	got, ok := m.StructTypeByName("Point")
	if !ok || got != first {
		t.Errorf("expected lookup by name to find the registered type")
	}
	if _, ok := m.StructTypeByName("Missing"); ok {
		t.Errorf("expected lookup of an unknown name to miss")
	}
}

func TestStructFieldAccess(t *testing.T) {
	m := newVM(t)
	st := definePoint(t, m)
	p, err := m.NewStructInstance(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fields start nil.
	v, ok := m.StructField(p, "x")
	if !ok || !v.IsNil() {
		t.Errorf("expected nil-initialized field, got %v (%v)", v, ok)
	}

	if err := m.SetStructField(p, "x", vm.MakeNumber(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStructFieldAt(p, 1, vm.MakeNumber(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, _ := m.StructField(p, "x"); v.Num != 3 {
		t.Errorf("expected x=3, got %v", v.Num)
	}
	if v, _ := m.StructFieldAt(p, 1); v.Num != 4 {
		t.Errorf("expected y=4, got %v", v.Num)
	}

	// Unknown names and out-of-range indexes are misses, not failures.
	if _, ok := m.StructField(p, "z"); ok {
		t.Errorf("expected miss for unknown field name")
	}
	if err := m.SetStructField(p, "z", vm.MakeNumber(9)); err != nil {
		t.Errorf("expected unknown-field set to be a no-op, got %v", err)
	}
	if _, ok := m.StructFieldAt(p, 5); ok {
		t.Errorf("expected miss for out-of-range index")
	}
}

func TestCopyStructIsDeep(t *testing.T) {
	m := newVM(t)

	inner, err := m.DefineStruct("Inner", []string{"n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outer, err := m.DefineStruct("Outer", []string{"label", "child"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	child, err := m.NewStructInstance(inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStructField(child, "n", vm.MakeNumber(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	src, err := m.NewStructInstance(outer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(src))
	if err := m.SetStructField(src, "label", m.InternValue("original")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStructField(src, "child", vm.MakeStruct(child)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dst, err := m.CopyStruct(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(dst))

	// Mutating the copy's nested struct leaves the source untouched.
	dstChild, _ := m.StructField(dst, "child")
	if err := m.SetStructField(dstChild.H, "n", vm.MakeNumber(99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srcChild, _ := m.StructField(src, "child")
	if v, _ := m.StructField(srcChild.H, "n"); v.Num != 1 {
		t.Errorf("expected source nested field to stay 1, got %v", v.Num)
	}
	if v, _ := m.StructField(dstChild.H, "n"); v.Num != 99 {
		t.Errorf("expected copy nested field to be 99, got %v", v.Num)
	}
	if srcChild.H == dstChild.H {
		t.Errorf("expected nested structs to be distinct objects")
	}

	// String fields duplicate rather than alias.
	srcLabel, _ := m.StructField(src, "label")
	dstLabel, _ := m.StructField(dst, "label")
	if srcLabel.Str == dstLabel.Str {
		t.Errorf("expected string field to be duplicated on copy")
	}
	if dstLabel.Str.Contents() != "original" {
		t.Errorf("expected copied contents, got %q", dstLabel.Str.Contents())
	}
}

func TestStructAssignmentCopies(t *testing.T) {
	m := newVM(t)

	pt, err := m.DefineStruct("P", []string{"n"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	holder, err := m.DefineStruct("Holder", []string{"p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := m.NewStructInstance(pt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(p))
	if err := m.SetStructField(p, "n", vm.MakeNumber(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h, err := m.NewStructInstance(holder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(h))

	// Storing a struct into a struct field stores a copy.
	if err := m.SetStructField(h, "p", vm.MakeStruct(p)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStructField(p, "n", vm.MakeNumber(6)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := m.StructField(h, "p")
	if v, _ := m.StructField(stored.H, "n"); v.Num != 5 {
		t.Errorf("expected stored copy to keep 5, got %v", v.Num)
	}
}

func TestStructPrototypeShared(t *testing.T) {
	m := newVM(t)
	st := definePoint(t, m)
	if err := m.AddStructMethod(st, "norm", vm.MakeNumber(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := m.StructPrototype("Point")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.StructPrototype("Point")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("expected one shared prototype per struct name")
	}

	if v, ok := m.GetProperty(first, "norm"); !ok || v.Num != 1 {
		t.Errorf("expected method copied onto the prototype, got %v (%v)", v.Num, ok)
	}

	// Registry objects are roots: they survive collection without other
	// references.
	m.GC().Collect()
	if v, ok := m.GetProperty(first, "norm"); !ok || v.Num != 1 {
		t.Errorf("expected prototype to survive collection, got %v (%v)", v.Num, ok)
	}
}

func TestCopyStructUnderStress(t *testing.T) {
	m := newVM(t)
	m.GC().SetStressTest(true)

	st, err := m.DefineStruct("S", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src, err := m.NewStructInstance(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(src))
	if err := m.SetStructField(src, "a", m.InternValue("alpha")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStructField(src, "b", vm.MakeNumber(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every allocation inside the copy collects; temp roots must keep the
	// source and the half-built copy alive throughout.
	dst, err := m.CopyStruct(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.Push(vm.MakeStruct(dst))

	if v, _ := m.StructField(dst, "a"); v.Str == nil || v.Str.Contents() != "alpha" {
		t.Errorf("expected copied string field to survive stress copy")
	}
	if v, _ := m.StructField(dst, "b"); v.Num != 2 {
		t.Errorf("expected copied number field, got %v", v.Num)
	}
}
