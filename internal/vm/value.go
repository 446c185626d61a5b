// Package vm implements the Ember runtime memory core: the tagged value
// representation, the property-storage object model with prototype delegation,
// the string interner, and the tri-color incremental garbage collector.
package vm

import (
	"fmt"
	"strconv"
)

// ValueKind identifies the runtime type of a Value.
type ValueKind uint8

const (
	// VKNil represents the nil value.
	VKNil ValueKind = iota
	// VKBool represents a boolean value.
	VKBool
	// VKNumber represents a float64 number value.
	VKNumber
	// VKString represents an interned or owned string value.
	VKString
	// VKObject represents a heap object or array handle.
	VKObject
	// VKFunction represents a function handle.
	VKFunction
	// VKClosure represents a closure handle.
	VKClosure
	// VKNative represents a native (host) function value.
	VKNative
	// VKStruct represents a struct instance handle.
	VKStruct
)

// String returns a human-readable name for the value kind.
func (k ValueKind) String() string {
	switch k {
	case VKNil:
		return "nil"
	case VKBool:
		return "bool"
	case VKNumber:
		return "number"
	case VKString:
		return "string"
	case VKObject:
		return "object"
	case VKFunction:
		return "function"
	case VKClosure:
		return "closure"
	case VKNative:
		return "native"
	case VKStruct:
		return "struct"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// NativeFn is a host function callable from the runtime.
type NativeFn func(vm *VM, args []Value) (Value, error)

// Value represents a runtime value. Values are always passed and stored by
// copy; heap payloads are shared through handles and owned by the collector.
type Value struct {
	Kind   ValueKind
	Bool   bool         // For VKBool
	Num    float64      // For VKNumber
	Str    *StringEntry // For VKString
	H      Handle       // For VKObject, VKFunction, VKClosure, VKStruct
	Native NativeFn     // For VKNative
}

// IsNil reports whether the value is nil.
func (v Value) IsNil() bool {
	return v.Kind == VKNil
}

// IsHeap reports whether the value's payload lives in the collector's heap.
func (v Value) IsHeap() bool {
	switch v.Kind {
	case VKObject, VKFunction, VKClosure, VKStruct:
		return v.H != NilHandle
	default:
		return false
	}
}

// Truthy reports whether the value is truthy: nil and false are falsey,
// everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case VKNil:
		return false
	case VKBool:
		return v.Bool
	default:
		return true
	}
}

// String returns a human-readable representation of the value.
func (v Value) String() string {
	switch v.Kind {
	case VKNil:
		return "nil"
	case VKBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case VKNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case VKString:
		if v.Str == nil {
			return ""
		}
		return v.Str.Contents()
	case VKObject:
		return fmt.Sprintf("object#%d", v.H)
	case VKFunction:
		return fmt.Sprintf("fn#%d", v.H)
	case VKClosure:
		return fmt.Sprintf("closure#%d", v.H)
	case VKNative:
		return "<native>"
	case VKStruct:
		return fmt.Sprintf("struct#%d", v.H)
	default:
		return fmt.Sprintf("<unknown:%d>", v.Kind)
	}
}

// MakeNil creates the nil value.
func MakeNil() Value {
	return Value{Kind: VKNil}
}

// MakeBool creates a boolean value.
func MakeBool(b bool) Value {
	return Value{Kind: VKBool, Bool: b}
}

// MakeNumber creates a number value.
func MakeNumber(n float64) Value {
	return Value{Kind: VKNumber, Num: n}
}

// MakeString creates a string value from an interner entry.
func MakeString(e *StringEntry) Value {
	if e == nil {
		return Value{Kind: VKNil}
	}
	return Value{Kind: VKString, Str: e}
}

// MakeObject creates an object (or array) value.
func MakeObject(h Handle) Value {
	return Value{Kind: VKObject, H: h}
}

// MakeFunction creates a function value.
func MakeFunction(h Handle) Value {
	return Value{Kind: VKFunction, H: h}
}

// MakeClosure creates a closure value.
func MakeClosure(h Handle) Value {
	return Value{Kind: VKClosure, H: h}
}

// MakeNative creates a native function value.
func MakeNative(fn NativeFn) Value {
	return Value{Kind: VKNative, Native: fn}
}

// MakeStruct creates a struct instance value.
func MakeStruct(h Handle) Value {
	return Value{Kind: VKStruct, H: h}
}
