package vm

import "fmt"

// StructType is a nominal value-type schema. Types are registered once per
// declaration, live for the VM's lifetime, and are never collected; their
// methods object is marked as a root on every cycle.
type StructType struct {
	Name       string
	FieldNames []string
	Methods    Handle // OKObject holding methods
}

// FieldIndex returns the position of name in the field list, or -1. Field
// lookup by name is a linear scan; by index it is O(1).
func (t *StructType) FieldIndex(name string) int {
	for i, f := range t.FieldNames {
		if f == name {
			return i
		}
	}
	return -1
}

// StructInstance is a struct value: a shared type reference plus an owned
// field array of length FieldNames. Instances copy deeply on assignment.
type StructInstance struct {
	Type   *StructType
	Fields []Value
}

func structInstanceSize(fieldCount int) int64 {
	return sizeStructBase + int64(fieldCount)*sizeValueSlot
}

// DefineStruct registers a struct type with the VM. Redefining a name
// returns the existing type.
func (vm *VM) DefineStruct(name string, fieldNames []string) (*StructType, error) {
	if t, ok := vm.structTypes[name]; ok {
		return t, nil
	}
	methods, err := vm.NewObjectWithPrototype(NilHandle)
	if err != nil {
		return nil, err
	}
	t := &StructType{
		Name:       name,
		FieldNames: append([]string(nil), fieldNames...),
		Methods:    methods,
	}
	vm.structTypes[name] = t
	return t, nil
}

// StructTypeByName returns a registered struct type.
func (vm *VM) StructTypeByName(name string) (*StructType, bool) {
	t, ok := vm.structTypes[name]
	return t, ok
}

// AddStructMethod binds a method on the type's shared methods object.
func (vm *VM) AddStructMethod(t *StructType, name string, method Value) error {
	if t == nil || name == "" {
		return nil
	}
	return vm.SetProperty(t.Methods, name, method)
}

// StructPrototype lazily creates the one shared prototype object for a
// struct type name, so every instance of the type dispatches methods through
// the same object.
func (vm *VM) StructPrototype(name string) (Handle, error) {
	if h, ok := vm.structProtos[name]; ok {
		return h, nil
	}
	h, err := vm.NewObjectWithPrototype(vm.protos.Object)
	if err != nil {
		return NilHandle, err
	}
	vm.structProtos[name] = h
	if t, ok := vm.structTypes[name]; ok {
		copied := copyMethodsError(vm, h, t)
		if copied != nil {
			delete(vm.structProtos, name)
			vm.gc.release(h)
			return NilHandle, copied
		}
	}
	return h, nil
}

func copyMethodsError(vm *VM, proto Handle, t *StructType) error {
	var err error
	vm.IterateProperties(t.Methods, func(key string, v Value) {
		if err == nil {
			err = vm.SetProperty(proto, key, v)
		}
	})
	return err
}

// markStructRegistry colors the registry's long-lived objects as roots.
func (vm *VM) markStructRegistry(c *Collector) {
	for _, t := range vm.structTypes {
		c.markObject(t.Methods)
	}
	for _, h := range vm.structProtos {
		c.markObject(h)
	}
}

// NewStructInstance allocates an instance of t with nil-initialized fields.
func (vm *VM) NewStructInstance(t *StructType) (Handle, error) {
	if t == nil {
		return NilHandle, fmt.Errorf("vm: nil struct type")
	}
	inst := &StructInstance{
		Type:   t,
		Fields: make([]Value, len(t.FieldNames)),
	}
	obj := &Object{Kind: OKStruct, Struct: inst}
	return vm.gc.allocate(obj, structInstanceSize(len(t.FieldNames)), "struct")
}

// CopyStruct deep-copies an instance, preserving value semantics: string
// fields get a fresh owned duplicate and nested struct fields copy
// recursively. A mid-copy allocation failure rolls back everything copied
// so far and reports the failure.
func (vm *VM) CopyStruct(h Handle) (Handle, error) {
	src := vm.gc.get(h)
	if src.Kind != OKStruct {
		vm.eb.throw(PanicKindMismatch, "copy of %s", src.Kind)
	}

	inst := src.Struct
	copied := &StructInstance{
		Type:   inst.Type,
		Fields: make([]Value, len(inst.Fields)),
	}
	obj := &Object{Kind: OKStruct, Struct: copied}
	out, err := vm.gc.allocate(obj, structInstanceSize(len(inst.Fields)), "struct-copy")
	if err != nil {
		return NilHandle, err
	}

	// Protect the source and the half-built copy from a collection
	// triggered by the field allocations below.
	vm.gc.PushTempRoot(MakeStruct(h))
	vm.gc.PushTempRoot(MakeStruct(out))
	defer func() {
		vm.gc.PopTempRoot()
		vm.gc.PopTempRoot()
	}()

	var nested []Handle
	rollback := func() {
		for _, nh := range nested {
			vm.gc.release(nh)
		}
		vm.gc.release(out)
	}

	for i, field := range inst.Fields {
		switch field.Kind {
		case VKString:
			if field.Str == nil {
				copied.Fields[i] = field
				continue
			}
			copied.Fields[i] = MakeString(vm.strings.NewOwned(field.Str.Contents()))
		case VKStruct:
			nh, err := vm.CopyStruct(field.H)
			if err != nil {
				rollback()
				return NilHandle, err
			}
			nested = append(nested, nh)
			copied.Fields[i] = MakeStruct(nh)
		default:
			copied.Fields[i] = field
		}
	}
	return out, nil
}

// StructField reads a field by name. An unknown name is a miss, not a
// failure.
func (vm *VM) StructField(h Handle, name string) (Value, bool) {
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKStruct {
		return Value{}, false
	}
	idx := obj.Struct.Type.FieldIndex(name)
	if idx < 0 {
		return Value{}, false
	}
	return obj.Struct.Fields[idx], true
}

// SetStructField writes a field by name. An unknown name is a no-op.
func (vm *VM) SetStructField(h Handle, name string, v Value) error {
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKStruct {
		return nil
	}
	idx := obj.Struct.Type.FieldIndex(name)
	if idx < 0 {
		return nil
	}
	return vm.setStructFieldAt(h, obj, idx, v)
}

// StructFieldAt reads a field by index.
func (vm *VM) StructFieldAt(h Handle, idx int) (Value, bool) {
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKStruct {
		return Value{}, false
	}
	if idx < 0 || idx >= len(obj.Struct.Fields) {
		return Value{}, false
	}
	return obj.Struct.Fields[idx], true
}

// SetStructFieldAt writes a field by index.
func (vm *VM) SetStructFieldAt(h Handle, idx int, v Value) error {
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKStruct {
		return nil
	}
	if idx < 0 || idx >= len(obj.Struct.Fields) {
		return nil
	}
	return vm.setStructFieldAt(h, obj, idx, v)
}

// setStructFieldAt stores v into the field slot, enforcing value semantics:
// struct-typed values are stored as a deep copy, string values as an owned
// duplicate.
func (vm *VM) setStructFieldAt(h Handle, obj *Object, idx int, v Value) error {
	switch v.Kind {
	case VKStruct:
		// The copy below can collect; keep receiver and source alive.
		vm.gc.PushTempRoot(MakeStruct(h))
		vm.gc.PushTempRoot(v)
		copied, err := vm.CopyStruct(v.H)
		vm.gc.PopTempRoot()
		vm.gc.PopTempRoot()
		if err != nil {
			return err
		}
		v = MakeStruct(copied)
	case VKString:
		if v.Str != nil {
			v = MakeString(vm.strings.NewOwned(v.Str.Contents()))
		}
	}
	obj.Struct.Fields[idx] = v
	vm.gc.writeBarrier(h, v)
	return nil
}
