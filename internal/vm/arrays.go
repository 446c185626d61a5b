package vm

import (
	"strconv"

	"fortio.org/safecast"
)

// Arrays reuse the generic property engine: elements live under decimal
// string keys in the same table, with a synthetic "length" property updated
// by every operation that extends the array.

// NewArray allocates an empty array.
func (vm *VM) NewArray() (Handle, error) {
	return vm.NewArrayWithCapacity(0)
}

// NewArrayWithCapacity allocates an array pre-sized for n elements.
func (vm *VM) NewArrayWithCapacity(n int) (Handle, error) {
	capacity := propTableInitialCapacity
	for float64(n+1) > float64(capacity)*propTableMaxLoadFactor {
		capacity *= 2
	}
	obj := &Object{
		Kind:    OKObject,
		Proto:   vm.protos.Array,
		IsArray: true,
	}
	obj.Props = NewPropTableWithCapacity(capacity, vm.gc.adjustBytes)
	h, err := vm.gc.allocate(obj, sizeObjectBase+obj.Props.RetainedBytes(), "array")
	if err != nil {
		return NilHandle, err
	}
	if err := vm.SetProperty(h, arrayLengthKey, MakeNumber(0)); err != nil {
		vm.gc.release(h)
		return NilHandle, err
	}
	return h, nil
}

// IsArray reports whether the handle refers to an array object.
func (vm *VM) IsArray(h Handle) bool {
	obj, ok := vm.gc.lookup(h)
	return ok && obj.Kind == OKObject && obj.IsArray
}

// ArrayLength returns the array's element count.
func (vm *VM) ArrayLength(h Handle) int {
	obj, ok := vm.gc.lookup(h)
	if !ok || !obj.IsArray {
		return 0
	}
	v, ok := obj.Props.Get(arrayLengthKey)
	if !ok || v.Kind != VKNumber || v.Num < 0 {
		return 0
	}
	n, err := safecast.Conv[int](int64(v.Num))
	if err != nil {
		return 0
	}
	return n
}

// ArrayPush appends v and bumps the length.
func (vm *VM) ArrayPush(h Handle, v Value) error {
	obj := vm.gc.get(h)
	if obj.Kind != OKObject || !obj.IsArray {
		vm.eb.throw(PanicKindMismatch, "push on %s", obj.Kind)
	}
	n := vm.ArrayLength(h)
	if err := vm.SetProperty(h, strconv.Itoa(n), v); err != nil {
		return err
	}
	return vm.SetProperty(h, arrayLengthKey, MakeNumber(float64(n+1)))
}

// ArrayPop removes and returns the last element. Popping an empty array
// yields (nil, false).
func (vm *VM) ArrayPop(h Handle) (Value, bool) {
	obj := vm.gc.get(h)
	if obj.Kind != OKObject || !obj.IsArray {
		vm.eb.throw(PanicKindMismatch, "pop on %s", obj.Kind)
	}
	n := vm.ArrayLength(h)
	if n == 0 {
		return Value{}, false
	}
	key := strconv.Itoa(n - 1)
	v, _ := obj.Props.Get(key)
	obj.Props.Delete(key)
	// Shrinking never fails: the length slot already exists.
	_ = vm.SetProperty(h, arrayLengthKey, MakeNumber(float64(n-1)))
	return v, true
}

// ArrayGet reads the element at index.
func (vm *VM) ArrayGet(h Handle, index int) (Value, bool) {
	if index < 0 {
		return Value{}, false
	}
	obj, ok := vm.gc.lookup(h)
	if !ok || !obj.IsArray {
		return Value{}, false
	}
	return obj.Props.Get(strconv.Itoa(index))
}

// ArraySet writes the element at index, extending the length when the write
// lands at or past the current end.
func (vm *VM) ArraySet(h Handle, index int, v Value) error {
	if index < 0 {
		return nil
	}
	obj := vm.gc.get(h)
	if obj.Kind != OKObject || !obj.IsArray {
		vm.eb.throw(PanicKindMismatch, "index set on %s", obj.Kind)
	}
	if err := vm.SetProperty(h, strconv.Itoa(index), v); err != nil {
		return err
	}
	if n := vm.ArrayLength(h); index >= n {
		return vm.SetProperty(h, arrayLengthKey, MakeNumber(float64(index+1)))
	}
	return nil
}
