package vm

// Chunk holds compiled bytecode and its constant pool. The compiler that
// emits chunks lives outside this package; the core only needs the constant
// pool, which is part of the collector's reference graph.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// AddConstant appends a value to the constant pool and returns its index.
func (c *Chunk) AddConstant(v Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Write appends one bytecode byte with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// Function is a compiled function. Tracked by the collector because its
// constant pool can reference heap values.
type Function struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        Chunk
}

// Closure pairs a function with its captured upvalues.
type Closure struct {
	Fn       Handle   // OKFunction object
	Upvalues []Handle // OKUpvalue objects
}

// Upvalue is a captured variable. While open it refers to a live stack slot;
// closing moves the value into the upvalue itself.
type Upvalue struct {
	Slot   int   // stack slot while open
	Closed Value // holds the value once closed
	IsOpen bool
}
