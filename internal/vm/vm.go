package vm

import (
	"ember/internal/trace"
)

const (
	// StackMax is the value stack capacity.
	StackMax = 256
	// FramesMax is the call stack capacity.
	FramesMax = 64
)

// Frame is a function activation record. Only the closure link matters to
// the collector; IP and Base exist for the interpreter loop built on top of
// this core.
type Frame struct {
	Closure Handle
	IP      int
	Base    int // first value-stack slot belonging to the frame
}

// Prototypes are the shared built-in prototype objects. They are created at
// VM construction and marked as roots on every cycle.
type Prototypes struct {
	Object   Handle
	Array    Handle
	String   Handle
	Function Handle
	Number   Handle
}

// Options configures a VM.
type Options struct {
	Tuning Tuning
	Tracer trace.Tracer
}

// VM owns one runtime instance: the value stack, call frames, globals, open
// upvalues, the string interner, and the collector. Everything the collector
// treats as a root lives here. Strictly single-threaded.
type VM struct {
	gc      *Collector
	strings *Interner

	stack    [StackMax]Value
	stackTop int

	frames []Frame

	globalNames  map[string]int
	globalValues []Value

	openUpvalues []Handle // OKUpvalue handles, sorted by slot descending

	structTypes  map[string]*StructType
	structProtos map[string]Handle

	protos Prototypes

	eb *errorBuilder
}

// New constructs a VM with default tuning and no tracing.
func New() *VM {
	return NewWithOptions(Options{Tuning: DefaultTuning()})
}

// NewWithOptions constructs a VM.
func NewWithOptions(opts Options) *VM {
	vm := &VM{
		strings:      NewInterner(),
		frames:       make([]Frame, 0, FramesMax),
		globalNames:  make(map[string]int),
		structTypes:  make(map[string]*StructType),
		structProtos: make(map[string]Handle),
	}
	vm.eb = &errorBuilder{vm: vm}
	vm.gc = newCollector(vm, opts.Tuning, opts.Tracer)
	vm.initPrototypes()
	return vm
}

// initPrototypes builds the built-in prototype chain: the object prototype
// is the chain terminator, everything else delegates to it.
func (vm *VM) initPrototypes() {
	// The first allocations cannot fail: the heap is empty and no cap is
	// small enough to reject the prototype objects.
	vm.protos.Object = vm.mustNewProto(NilHandle)
	vm.protos.Array = vm.mustNewProto(vm.protos.Object)
	vm.protos.String = vm.mustNewProto(vm.protos.Object)
	vm.protos.Function = vm.mustNewProto(vm.protos.Object)
	vm.protos.Number = vm.mustNewProto(vm.protos.Object)
}

func (vm *VM) mustNewProto(parent Handle) Handle {
	h, err := vm.NewObjectWithPrototype(parent)
	if err != nil {
		panic(err)
	}
	return h
}

// GC returns the VM's collector.
func (vm *VM) GC() *Collector {
	return vm.gc
}

// Strings returns the VM's interner.
func (vm *VM) Strings() *Interner {
	return vm.strings
}

// BuiltinPrototypes returns the shared built-in prototype handles.
func (vm *VM) BuiltinPrototypes() Prototypes {
	return vm.protos
}

// Intern returns the canonical entry for s.
func (vm *VM) Intern(s string) *StringEntry {
	return vm.strings.Intern(s)
}

// InternValue returns an interned string value for s.
func (vm *VM) InternValue(s string) Value {
	return MakeString(vm.strings.Intern(s))
}

// Close drives a final collection with the root set emptied, reclaiming
// everything the VM still holds. The tracer is injected and stays with its
// owner.
func (vm *VM) Close() {
	vm.stackTop = 0
	vm.frames = vm.frames[:0]
	vm.openUpvalues = vm.openUpvalues[:0]
	vm.globalValues = nil
	vm.globalNames = map[string]int{}
	vm.structTypes = map[string]*StructType{}
	vm.structProtos = map[string]Handle{}
	vm.gc.roots = map[*Value]struct{}{}
	vm.gc.tempRoots = nil
	vm.protos = Prototypes{}
	vm.gc.Collect()
}

// ---- Value stack ----

// Push places v on the value stack.
func (vm *VM) Push(v Value) {
	if vm.stackTop >= StackMax {
		vm.eb.throw(PanicStackOverflow, "value stack overflow at %d slots", StackMax)
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

// Pop removes and returns the top of the value stack.
func (vm *VM) Pop() Value {
	if vm.stackTop == 0 {
		vm.eb.throw(PanicStackUnderflow, "pop on empty value stack")
	}
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

// Peek returns the value distance slots below the top without popping.
func (vm *VM) Peek(distance int) Value {
	if distance < 0 || distance >= vm.stackTop {
		vm.eb.throw(PanicStackUnderflow, "peek %d beyond stack depth %d", distance, vm.stackTop)
	}
	return vm.stack[vm.stackTop-1-distance]
}

// StackDepth returns the live slot count.
func (vm *VM) StackDepth() int {
	return vm.stackTop
}

// ---- Call frames ----

// PushFrame activates a call frame for the closure with its first stack
// slot at base.
func (vm *VM) PushFrame(closure Handle, base int) {
	if len(vm.frames) >= FramesMax {
		vm.eb.throw(PanicFrameOverflow, "call stack overflow at %d frames", FramesMax)
	}
	vm.frames = append(vm.frames, Frame{Closure: closure, Base: base})
}

// PopFrame deactivates the innermost frame and returns it.
func (vm *VM) PopFrame() Frame {
	if len(vm.frames) == 0 {
		vm.eb.throw(PanicFrameUnderflow, "pop on empty call stack")
	}
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	return f
}

// FrameDepth returns the active frame count.
func (vm *VM) FrameDepth() int {
	return len(vm.frames)
}

func (vm *VM) frameFuncName(f *Frame) string {
	obj, ok := vm.gc.lookup(f.Closure)
	if !ok || obj.Kind != OKClosure {
		return "<script>"
	}
	fnObj, ok := vm.gc.lookup(obj.Closure.Fn)
	if !ok || fnObj.Kind != OKFunction || fnObj.Fn.Name == "" {
		return "<anonymous>"
	}
	return fnObj.Fn.Name
}

// ---- Globals ----

// DefineGlobal binds name, creating the slot on first use.
func (vm *VM) DefineGlobal(name string, v Value) {
	if idx, ok := vm.globalNames[name]; ok {
		vm.globalValues[idx] = v
		return
	}
	vm.globalNames[name] = len(vm.globalValues)
	vm.globalValues = append(vm.globalValues, v)
}

// GetGlobal reads a global binding.
func (vm *VM) GetGlobal(name string) (Value, bool) {
	idx, ok := vm.globalNames[name]
	if !ok {
		return Value{}, false
	}
	return vm.globalValues[idx], true
}

// SetGlobal overwrites an existing binding, reporting false when name was
// never defined.
func (vm *VM) SetGlobal(name string, v Value) bool {
	idx, ok := vm.globalNames[name]
	if !ok {
		return false
	}
	vm.globalValues[idx] = v
	return true
}

// ---- Functions, closures, upvalues ----

// NewFunction allocates a function object around fn.
func (vm *VM) NewFunction(fn *Function) (Handle, error) {
	size := sizeFuncBase + int64(len(fn.Chunk.Code)) + int64(len(fn.Chunk.Constants))*sizeValueSlot
	return vm.gc.allocate(&Object{Kind: OKFunction, Fn: fn}, size, "function")
}

// NewClosure allocates a closure over the function with room for its
// upvalues.
func (vm *VM) NewClosure(fn Handle) (Handle, error) {
	fnObj := vm.gc.get(fn)
	if fnObj.Kind != OKFunction {
		vm.eb.throw(PanicKindMismatch, "closure over %s", fnObj.Kind)
	}
	cl := &Closure{
		Fn:       fn,
		Upvalues: make([]Handle, 0, fnObj.Fn.UpvalueCount),
	}
	size := sizeClosureBase + int64(fnObj.Fn.UpvalueCount)*sizeHandleSlot
	return vm.gc.allocate(&Object{Kind: OKClosure, Closure: cl}, size, "closure")
}

// AddUpvalue attaches a captured upvalue to the closure.
func (vm *VM) AddUpvalue(closure, upvalue Handle) {
	obj := vm.gc.get(closure)
	if obj.Kind != OKClosure {
		vm.eb.throw(PanicKindMismatch, "add upvalue to %s", obj.Kind)
	}
	obj.Closure.Upvalues = append(obj.Closure.Upvalues, upvalue)
	vm.gc.writeBarrier(closure, Value{Kind: VKObject, H: upvalue})
}

// CaptureUpvalue returns the open upvalue for a stack slot, creating it on
// first capture. Two closures capturing the same slot share one upvalue.
func (vm *VM) CaptureUpvalue(slot int) (Handle, error) {
	// openUpvalues stays ordered by slot descending.
	insert := len(vm.openUpvalues)
	for i, h := range vm.openUpvalues {
		obj, ok := vm.gc.lookup(h)
		if !ok {
			continue
		}
		if obj.Up.Slot == slot {
			return h, nil
		}
		if obj.Up.Slot < slot {
			insert = i
			break
		}
	}

	h, err := vm.gc.allocate(&Object{
		Kind: OKUpvalue,
		Up:   &Upvalue{Slot: slot, IsOpen: true},
	}, sizeUpvalue, "upvalue")
	if err != nil {
		return NilHandle, err
	}
	vm.openUpvalues = append(vm.openUpvalues, NilHandle)
	copy(vm.openUpvalues[insert+1:], vm.openUpvalues[insert:])
	vm.openUpvalues[insert] = h
	return h, nil
}

// CloseUpvalues closes every open upvalue at or above the given stack slot,
// moving the captured value out of the stack and into the upvalue cell.
func (vm *VM) CloseUpvalues(from int) {
	kept := vm.openUpvalues[:0]
	for _, h := range vm.openUpvalues {
		obj, ok := vm.gc.lookup(h)
		if !ok {
			continue
		}
		up := obj.Up
		if up.Slot < from {
			kept = append(kept, h)
			continue
		}
		up.Closed = vm.stack[up.Slot]
		up.IsOpen = false
		vm.gc.writeBarrier(h, up.Closed)
	}
	vm.openUpvalues = kept
}

// OpenUpvalueCount returns the number of open upvalues, for diagnostics.
func (vm *VM) OpenUpvalueCount() int {
	return len(vm.openUpvalues)
}
