package vm

import (
	"ember/internal/trace"
)

// ObjectKind identifies what a heap record holds.
type ObjectKind uint8

const (
	// OKObject is a dynamic object (or array, via the IsArray flag).
	OKObject ObjectKind = iota + 1
	// OKStruct is a struct instance with value semantics.
	OKStruct
	// OKFunction is a compiled function.
	OKFunction
	// OKClosure is a function plus captured upvalues.
	OKClosure
	// OKUpvalue is a captured variable cell.
	OKUpvalue
)

// String returns a human-readable name for the object kind.
func (k ObjectKind) String() string {
	switch k {
	case OKObject:
		return "object"
	case OKStruct:
		return "struct"
	case OKFunction:
		return "function"
	case OKClosure:
		return "closure"
	case OKUpvalue:
		return "upvalue"
	default:
		return "unknown"
	}
}

// Approximate retained sizes for heap accounting. Property tables report
// their own retained bytes separately through the account hook.
const (
	sizeObjectBase  = 64
	sizeStructBase  = 48
	sizeValueSlot   = 32
	sizeClosureBase = 48
	sizeHandleSlot  = 8
	sizeFuncBase    = 96
	sizeUpvalue     = 56
)

// Object is one heap record. Exactly one payload group is populated,
// selected by Kind.
type Object struct {
	Kind ObjectKind

	// OKObject
	Props   *PropTable
	Proto   Handle
	IsArray bool

	// OKStruct
	Struct *StructInstance

	// OKFunction
	Fn *Function

	// OKClosure
	Closure *Closure

	// OKUpvalue
	Up *Upvalue
}

// arrayLengthKey is the synthetic property arrays maintain on every write
// that extends them.
const arrayLengthKey = "length"

// NewObject allocates an empty object whose prototype is the shared object
// prototype.
func (vm *VM) NewObject() (Handle, error) {
	return vm.NewObjectWithPrototype(vm.protos.Object)
}

// NewObjectWithPrototype allocates an empty object delegating to proto.
func (vm *VM) NewObjectWithPrototype(proto Handle) (Handle, error) {
	obj := &Object{
		Kind:  OKObject,
		Proto: proto,
	}
	obj.Props = NewPropTable(vm.gc.adjustBytes)
	h, err := vm.gc.allocate(obj, sizeObjectBase+obj.Props.RetainedBytes(), "object")
	if err != nil {
		return NilHandle, err
	}
	return h, nil
}

// newObjectWithCapacity pre-sizes the property table for expected bindings,
// e.g. module export objects populated in one batch.
func (vm *VM) newObjectWithCapacity(expected int) (Handle, error) {
	capacity := propTableInitialCapacity
	for float64(expected) > float64(capacity)*propTableMaxLoadFactor {
		capacity *= 2
	}
	obj := &Object{
		Kind:  OKObject,
		Proto: vm.protos.Object,
	}
	obj.Props = NewPropTableWithCapacity(capacity, vm.gc.adjustBytes)
	return vm.gc.allocate(obj, sizeObjectBase+obj.Props.RetainedBytes(), "object")
}

// Prototype returns the object's prototype handle (NilHandle when absent).
func (vm *VM) Prototype(h Handle) Handle {
	obj := vm.gc.get(h)
	if obj.Kind != OKObject {
		vm.eb.throw(PanicKindMismatch, "prototype of %s", obj.Kind)
	}
	return obj.Proto
}

// SetPrototype relinks the object's prototype. The prototype link is part of
// the reference graph, so the write barrier applies.
func (vm *VM) SetPrototype(h, proto Handle) {
	obj := vm.gc.get(h)
	if obj.Kind != OKObject {
		vm.eb.throw(PanicKindMismatch, "set prototype of %s", obj.Kind)
	}
	obj.Proto = proto
	vm.gc.writeBarrier(h, MakeObject(proto))
}

// GetProperty looks up key on the object, delegating to the prototype chain
// on a miss. A chain cycle ends the walk as not-found: it is counted and
// traced as misuse, never a hang.
func (vm *VM) GetProperty(h Handle, key string) (Value, bool) {
	if h == NilHandle || key == "" {
		return Value{}, false
	}
	cur := h
	slow := h
	for step := 0; cur != NilHandle; step++ {
		obj, ok := vm.gc.lookup(cur)
		if !ok || obj.Kind != OKObject {
			return Value{}, false
		}
		if v, ok := obj.Props.Get(key); ok {
			return v, true
		}
		cur = obj.Proto

		// Tortoise-hare cycle check on the delegation chain.
		if step%2 == 1 {
			slowObj, _ := vm.gc.lookup(slow)
			if slowObj != nil {
				slow = slowObj.Proto
			}
			if cur != NilHandle && cur == slow {
				vm.gc.stats.ProtoCycles++
				trace.Pointf(vm.gc.tracer, trace.ScopeHeap, "proto-cycle", "object#%d key=%q", h, key)
				return Value{}, false
			}
		}
	}
	return Value{}, false
}

// SetProperty binds key on the receiver's own table. Writes never delegate
// to the prototype chain.
func (vm *VM) SetProperty(h Handle, key string, v Value) error {
	if h == NilHandle || key == "" {
		return nil
	}
	obj := vm.gc.get(h)
	if obj.Kind != OKObject {
		vm.eb.throw(PanicKindMismatch, "set property on %s", obj.Kind)
	}
	if _, err := obj.Props.Set(key, v); err != nil {
		return err
	}
	vm.gc.writeBarrier(h, v)
	return nil
}

// SetPropertiesBatch binds many keys at once with a single up-front grow.
func (vm *VM) SetPropertiesBatch(h Handle, keys []string, values []Value) error {
	if h == NilHandle || len(keys) == 0 {
		return nil
	}
	obj := vm.gc.get(h)
	if obj.Kind != OKObject {
		vm.eb.throw(PanicKindMismatch, "batch set on %s", obj.Kind)
	}
	if err := obj.Props.SetBatch(keys, values); err != nil {
		return err
	}
	for _, v := range values {
		vm.gc.writeBarrier(h, v)
	}
	return nil
}

// HasProperty reports whether key resolves anywhere on the delegation chain.
func (vm *VM) HasProperty(h Handle, key string) bool {
	_, ok := vm.GetProperty(h, key)
	return ok
}

// HasOwnProperty reports whether the object itself binds key.
func (vm *VM) HasOwnProperty(h Handle, key string) bool {
	if h == NilHandle || key == "" {
		return false
	}
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKObject {
		return false
	}
	return obj.Props.Has(key)
}

// DeleteProperty removes the object's own binding for key. The prototype
// chain is never consulted.
func (vm *VM) DeleteProperty(h Handle, key string) bool {
	if h == NilHandle || key == "" {
		return false
	}
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKObject {
		return false
	}
	return obj.Props.Delete(key)
}

// IterateProperties calls fn for every own live binding in slot order.
func (vm *VM) IterateProperties(h Handle, fn func(key string, v Value)) {
	if h == NilHandle || fn == nil {
		return
	}
	obj, ok := vm.gc.lookup(h)
	if !ok || obj.Kind != OKObject {
		return
	}
	obj.Props.Iterate(fn)
}
