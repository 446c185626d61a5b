package vm

import (
	"fmt"
	"time"

	"ember/internal/trace"
)

// Handle addresses one heap record in the collector's arena. Handle 0 is the
// nil handle. Handles stay stable for an object's whole lifetime; a slot is
// reused only after the object it held has been swept.
type Handle uint32

// NilHandle is the invalid/absent handle.
const NilHandle Handle = 0

// Color is the tri-color mark state of a heap record.
type Color uint8

const (
	// ColorWhite marks an unvisited object, a candidate for collection.
	ColorWhite Color = iota
	// ColorGray marks a reachable object whose children are pending.
	ColorGray
	// ColorBlack marks a reachable object whose children have been visited.
	ColorBlack
)

// String returns the color name.
func (c Color) String() string {
	switch c {
	case ColorWhite:
		return "white"
	case ColorGray:
		return "gray"
	case ColorBlack:
		return "black"
	default:
		return "unknown"
	}
}

// Phase is the collector's incremental state machine position.
type Phase uint8

const (
	// PhaseNone means no collection cycle is in progress.
	PhaseNone Phase = iota
	// PhaseMarkRoots is the root-scanning phase.
	PhaseMarkRoots
	// PhaseMark is the gray-stack draining phase.
	PhaseMark
	// PhaseSweep is the arena-walking reclamation phase.
	PhaseSweep
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseMarkRoots:
		return "mark-roots"
	case PhaseMark:
		return "mark"
	case PhaseSweep:
		return "sweep"
	default:
		return "unknown"
	}
}

// Incremental work costs, in the same arbitrary units the step budget is
// expressed in.
const (
	workMarkRoots = 100
	workMarkOne   = 10
	workSweepOne  = 5
)

// Tuning configures the collector.
type Tuning struct {
	HeapGrowFactor int64 // threshold multiplier after a collection
	MinHeapSize    int64 // floor for the next threshold
	MaxHeapSize    int64 // hard heap cap; 0 = unlimited
	Threshold      int64 // bytes allocated before triggering a collection
	Incremental    bool  // interleave collection slices with allocation
	StepSize       int   // work units per incremental step
	StressTest     bool  // force a collection on every allocation
}

// DefaultTuning mirrors the runtime's shipped defaults.
func DefaultTuning() Tuning {
	return Tuning{
		HeapGrowFactor: 2,
		MinHeapSize:    1 << 20,
		MaxHeapSize:    0,
		Threshold:      1 << 20,
		Incremental:    false,
		StepSize:       1024,
		StressTest:     false,
	}
}

// Stats is a point-in-time snapshot of collector counters. Queryable at any
// time without side effects.
type Stats struct {
	TotalAllocated   int64
	TotalFreed       int64
	CurrentAllocated int64
	PeakAllocated    int64
	Collections      uint64
	ObjectsFreed     uint64
	StringsFreed     uint64
	ProtoCycles      uint64
	LiveObjects      int
	LiveStrings      int
	NextThreshold    int64
	TotalPause       time.Duration
	LastPause        time.Duration
}

// header is the collector's bookkeeping for one arena slot.
type header struct {
	obj    *Object
	size   int64
	color  Color
	pinned bool
	live   bool
}

// Collector is the tri-color incremental mark-sweep garbage collector. It
// owns every heap record through an index-stable arena (headers slice plus a
// free list of slot indices) and is the runtime's only allocation path.
type Collector struct {
	vm *VM

	headers     []header
	free        []Handle
	objectCount int

	gray []Handle

	bytesAllocated int64
	bytesSinceGC   int64
	nextThreshold  int64

	phase       Phase
	busy        bool // collector code on the stack; guards re-entry
	sweepCursor int
	cycleWork   time.Duration

	roots     map[*Value]struct{}
	tempRoots []Value

	tuning Tuning
	stats  Stats
	tracer trace.Tracer
}

func newCollector(vm *VM, tuning Tuning, tracer trace.Tracer) *Collector {
	if tracer == nil {
		tracer = trace.Nop
	}
	return &Collector{
		vm:            vm,
		gray:          make([]Handle, 0, 128),
		nextThreshold: tuning.Threshold,
		roots:         make(map[*Value]struct{}),
		tuning:        tuning,
		tracer:        tracer,
	}
}

// Tuning returns the current configuration.
func (c *Collector) Tuning() Tuning {
	return c.tuning
}

// SetThreshold replaces the collection trigger threshold.
func (c *Collector) SetThreshold(bytes int64) {
	c.tuning.Threshold = bytes
	c.nextThreshold = bytes
}

// SetIncremental toggles incremental collection.
func (c *Collector) SetIncremental(on bool) {
	c.tuning.Incremental = on
}

// SetStressTest toggles collect-on-every-allocation mode.
func (c *Collector) SetStressTest(on bool) {
	c.tuning.StressTest = on
}

// SetTracer replaces the collector's tracer. A nil tracer disables tracing.
func (c *Collector) SetTracer(t trace.Tracer) {
	if t == nil {
		t = trace.Nop
	}
	c.tracer = t
}

// Stats returns a copy of the collector's counters.
func (c *Collector) Stats() Stats {
	s := c.stats
	s.CurrentAllocated = c.bytesAllocated
	s.LiveObjects = c.objectCount
	s.NextThreshold = c.nextThreshold
	if c.vm != nil && c.vm.strings != nil {
		s.LiveStrings = c.vm.strings.Live()
	}
	return s
}

// Phase returns the incremental state machine position.
func (c *Collector) Phase() Phase {
	return c.phase
}

// Collecting reports whether a collection cycle is in flight.
func (c *Collector) Collecting() bool {
	return c.phase != PhaseNone
}

// BytesAllocated returns the current tracked heap size.
func (c *Collector) BytesAllocated() int64 {
	return c.bytesAllocated
}

// lookup resolves a handle to its object without panicking.
func (c *Collector) lookup(h Handle) (*Object, bool) {
	if h == NilHandle || int(h) > len(c.headers) {
		return nil, false
	}
	hd := &c.headers[h-1]
	if !hd.live {
		return nil, false
	}
	return hd.obj, true
}

// get resolves a handle or raises a host-misuse panic.
func (c *Collector) get(h Handle) *Object {
	if h == NilHandle || int(h) > len(c.headers) {
		c.vm.eb.throw(PanicInvalidHandle, "invalid handle %d", h)
	}
	hd := &c.headers[h-1]
	if !hd.live {
		c.vm.eb.throw(PanicUseAfterFree, "handle %d used after sweep", h)
	}
	return hd.obj
}

func (c *Collector) headerOf(h Handle) *header {
	if h == NilHandle || int(h) > len(c.headers) {
		return nil
	}
	hd := &c.headers[h-1]
	if !hd.live {
		return nil
	}
	return hd
}

// shouldCollect reports whether allocation has crossed the threshold.
func (c *Collector) shouldCollect() bool {
	return c.bytesSinceGC >= c.nextThreshold
}

// allocationColor picks the mark state for an object allocated while a cycle
// is in flight, so a mid-cycle allocation can never be swept by the cycle
// that was already running.
func (c *Collector) allocationColor() Color {
	switch c.phase {
	case PhaseMarkRoots, PhaseMark:
		return ColorGray
	case PhaseSweep:
		return ColorBlack
	default:
		return ColorWhite
	}
}

// allocate tracks obj as a new heap record of the given size. The tag names
// the allocation site for tracing only. Collection runs first when the
// threshold has been crossed (or always, under stress mode); if the hard
// heap cap still cannot accommodate the request the allocation fails with
// ErrOutOfMemory.
func (c *Collector) allocate(obj *Object, size int64, tag string) (Handle, error) {
	if !c.busy {
		switch {
		case c.tuning.StressTest:
			c.Collect()
		case c.tuning.Incremental && (c.phase != PhaseNone || c.shouldCollect()):
			c.Step(c.tuning.StepSize)
		case c.shouldCollect():
			c.Collect()
		}
	}

	if err := c.reserve(size); err != nil {
		return NilHandle, err
	}

	var h Handle
	if n := len(c.free); n > 0 {
		h = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.headers = append(c.headers, header{})
		h = Handle(len(c.headers))
	}

	hd := &c.headers[h-1]
	*hd = header{
		obj:   obj,
		size:  size,
		color: c.allocationColor(),
		live:  true,
	}
	if hd.color == ColorGray {
		c.gray = append(c.gray, h)
	}

	c.objectCount++
	c.track(size)

	if c.tracer.Level() >= trace.LevelDebug {
		trace.Pointf(c.tracer, trace.ScopeHeap, "alloc", "%s #%d size=%d total=%d", tag, h, size, c.bytesAllocated)
	}
	return h, nil
}

// reserve checks the hard heap cap for size incoming bytes, forcing a full
// collection once before giving up.
func (c *Collector) reserve(size int64) error {
	if c.tuning.MaxHeapSize <= 0 {
		return nil
	}
	if c.bytesAllocated+size <= c.tuning.MaxHeapSize {
		return nil
	}
	if !c.busy {
		c.Collect()
	}
	if c.bytesAllocated+size > c.tuning.MaxHeapSize {
		return ErrOutOfMemory
	}
	return nil
}

// track records size new live bytes.
func (c *Collector) track(size int64) {
	c.bytesAllocated += size
	c.bytesSinceGC += size
	c.stats.TotalAllocated += size
	if c.bytesAllocated > c.stats.PeakAllocated {
		c.stats.PeakAllocated = c.bytesAllocated
	}
}

// adjustBytes is the accounting hook handed to property tables: positive
// deltas reserve retained bytes against the heap cap, negative deltas return
// them. A failed reservation vetoes the growth that asked for it.
func (c *Collector) adjustBytes(delta int64) error {
	if delta > 0 {
		if err := c.reserve(delta); err != nil {
			return err
		}
		c.track(delta)
		return nil
	}
	c.bytesAllocated += delta
	c.stats.TotalFreed -= delta
	return nil
}

// release untracks a live record immediately, without waiting for a sweep.
// Used to roll back partially built object graphs on allocation failure.
func (c *Collector) release(h Handle) {
	hd := c.headerOf(h)
	if hd == nil {
		return
	}
	c.freeSlot(h, hd)
}

// freeSlot reclaims one arena slot and its accounting. Objects with a
// property table are credited at their current retained size so bytes
// reserved by growth after allocation are returned as well.
func (c *Collector) freeSlot(h Handle, hd *header) {
	size := hd.size
	if obj := hd.obj; obj != nil && obj.Kind == OKObject && obj.Props != nil {
		size = sizeObjectBase + obj.Props.RetainedBytes()
	}
	if obj := hd.obj; obj != nil {
		// Drop payload references so the host heap can reclaim them.
		obj.Props = nil
		obj.Struct = nil
		obj.Fn = nil
		obj.Closure = nil
		obj.Up = nil
	}
	*hd = header{}
	c.free = append(c.free, h)
	c.objectCount--
	c.bytesAllocated -= size
	c.stats.TotalFreed += size
	c.stats.ObjectsFreed++
}

// Pin marks an object uncollectable regardless of reachability, for objects
// referenced only from host state the root scanner cannot see.
func (c *Collector) Pin(h Handle) {
	if hd := c.headerOf(h); hd != nil {
		hd.pinned = true
	}
}

// Unpin reverts Pin.
func (c *Collector) Unpin(h Handle) {
	if hd := c.headerOf(h); hd != nil {
		hd.pinned = false
	}
}

// Pinned reports whether the object is pinned.
func (c *Collector) Pinned(h Handle) bool {
	hd := c.headerOf(h)
	return hd != nil && hd.pinned
}

// AddRoot registers a persistent pointer-to-Value root. The pointed-at value
// is rescanned on every cycle until removed.
func (c *Collector) AddRoot(root *Value) {
	if root != nil {
		c.roots[root] = struct{}{}
	}
}

// RemoveRoot unregisters a persistent root.
func (c *Collector) RemoveRoot(root *Value) {
	if root != nil {
		delete(c.roots, root)
	}
}

// PushTempRoot protects a value across allocations that might collect.
// Stack discipline: push before the allocation, pop when done.
func (c *Collector) PushTempRoot(v Value) {
	c.tempRoots = append(c.tempRoots, v)
}

// PopTempRoot drops the most recently pushed temporary root.
func (c *Collector) PopTempRoot() {
	if len(c.tempRoots) == 0 {
		c.vm.eb.throw(PanicTempRootUnderflow, "temp root pop without matching push")
	}
	c.tempRoots = c.tempRoots[:len(c.tempRoots)-1]
}

// writeBarrier upholds the tri-color invariant under incremental collection:
// when a black holder is mutated to reference a white value, the referent is
// re-grayed so the cycle in flight cannot miss it.
func (c *Collector) writeBarrier(holder Handle, v Value) {
	if !c.tuning.Incremental || c.phase == PhaseNone {
		return
	}
	hd := c.headerOf(holder)
	if hd == nil || hd.color != ColorBlack {
		return
	}
	switch {
	case v.IsHeap():
		ref := c.headerOf(v.H)
		if ref != nil && ref.color == ColorWhite {
			ref.color = ColorGray
			c.gray = append(c.gray, v.H)
		}
	case v.Kind == VKString:
		// Strings carry no children; marking is sufficient.
		c.vm.strings.Mark(v.Str)
	}
}

// Collect runs a full collection. If an incremental cycle is mid-flight it
// is resumed and driven to completion. Collection is idempotent with respect
// to reachable objects and guarded against re-entry: marking itself can
// allocate (table rehash) and must not start a nested cycle.
func (c *Collector) Collect() {
	if c.busy {
		return
	}
	c.busy = true
	defer func() { c.busy = false }()

	start := time.Now()
	span := trace.Begin(c.tracer, trace.ScopeGC, "collect")

	if c.phase == PhaseNone {
		c.beginCycle()
	}
	if c.phase == PhaseMarkRoots {
		c.markRoots()
		c.phase = PhaseMark
	}
	if c.phase == PhaseMark {
		c.drainGray(-1)
		c.beginSweep()
	}
	freedBytes := int64(0)
	if c.phase == PhaseSweep {
		freedBytes = c.sweepAll()
		c.finishCycle(start)
	}

	span.End(c.cycleSummary(freedBytes))
}

// Step performs one bounded slice of incremental collection work, starting a
// new cycle if none is in flight, and returns whether a cycle is still in
// progress afterwards. The slice runs synchronously inside the caller;
// "incremental" means interruptible across allocation calls, not concurrent.
func (c *Collector) Step(workUnits int) bool {
	if c.busy {
		return c.phase != PhaseNone
	}
	c.busy = true
	defer func() { c.busy = false }()

	if workUnits <= 0 {
		workUnits = c.tuning.StepSize
	}
	start := time.Now()

	if c.phase == PhaseNone {
		c.beginCycle()
		trace.Pointf(c.tracer, trace.ScopePhase, "step", "cycle #%d started", c.stats.Collections)
	}

	work := 0
	for work < workUnits && c.phase != PhaseNone {
		switch c.phase {
		case PhaseMarkRoots:
			c.markRoots()
			c.phase = PhaseMark
			work += workMarkRoots
		case PhaseMark:
			limit := (workUnits - work) / workMarkOne
			if limit < 1 {
				limit = 1
			}
			work += c.drainGray(limit)
			if len(c.gray) == 0 {
				c.beginSweep()
			}
		case PhaseSweep:
			limit := (workUnits - work) / workSweepOne
			if limit < 1 {
				limit = 1
			}
			work += c.sweepSlice(limit)
			if c.sweepCursor >= len(c.headers) {
				c.finishCycle(start)
				return false
			}
		}
	}
	c.cycleWork += time.Since(start)
	return c.phase != PhaseNone
}

// beginCycle whitens every live record, resets the interner's marks, and
// opens a new collection cycle.
func (c *Collector) beginCycle() {
	for i := range c.headers {
		if c.headers[i].live {
			c.headers[i].color = ColorWhite
		}
	}
	c.gray = c.gray[:0]
	c.vm.strings.MarkBegin()
	c.stats.Collections++
	c.cycleWork = 0
	c.phase = PhaseMarkRoots
}

// markRoots colors every directly reachable object gray: the VM value stack
// up to its top, call frame closures, open upvalues, globals, registered and
// temporary roots, the struct prototype registry, and pinned objects.
func (c *Collector) markRoots() {
	vm := c.vm

	for i := 0; i < vm.stackTop; i++ {
		c.markValue(vm.stack[i])
	}
	for i := range vm.frames {
		c.markObject(vm.frames[i].Closure)
	}
	for _, h := range vm.openUpvalues {
		c.markObject(h)
	}
	for _, v := range vm.globalValues {
		c.markValue(v)
	}
	for root := range c.roots {
		c.markValue(*root)
	}
	for _, v := range c.tempRoots {
		c.markValue(v)
	}
	vm.markStructRegistry(c)
	c.markObject(vm.protos.Object)
	c.markObject(vm.protos.Array)
	c.markObject(vm.protos.String)
	c.markObject(vm.protos.Function)
	c.markObject(vm.protos.Number)

	for i := range c.headers {
		hd := &c.headers[i]
		if hd.live && hd.pinned && hd.color == ColorWhite {
			hd.color = ColorGray
			c.gray = append(c.gray, Handle(i+1))
		}
	}

	trace.Pointf(c.tracer, trace.ScopePhase, "mark-roots", "%d gray", len(c.gray))
}

// markValue colors a value's heap payload gray if it is still white, and
// flags string payloads reachable in the interner.
func (c *Collector) markValue(v Value) {
	switch {
	case v.IsHeap():
		c.markObject(v.H)
	case v.Kind == VKString:
		c.vm.strings.Mark(v.Str)
	}
}

// markObject colors a white object gray and queues it for scanning.
func (c *Collector) markObject(h Handle) {
	hd := c.headerOf(h)
	if hd == nil || hd.color != ColorWhite {
		return
	}
	hd.color = ColorGray
	c.gray = append(c.gray, h)
}

// drainGray blackens up to limit gray objects (-1 for all), visiting each
// object's outgoing references. Returns work units spent.
func (c *Collector) drainGray(limit int) int {
	work := 0
	for len(c.gray) > 0 && (limit < 0 || limit > 0) {
		h := c.gray[len(c.gray)-1]
		c.gray = c.gray[:len(c.gray)-1]
		hd := c.headerOf(h)
		if hd == nil {
			continue
		}
		hd.color = ColorBlack
		c.blacken(hd.obj)
		work += workMarkOne
		if limit > 0 {
			limit--
		}
	}
	return work
}

// blacken visits every outgoing reference of one object.
func (c *Collector) blacken(obj *Object) {
	if obj == nil {
		return
	}
	switch obj.Kind {
	case OKObject:
		obj.Props.Iterate(func(_ string, v Value) {
			c.markValue(v)
		})
		c.markObject(obj.Proto)
	case OKStruct:
		for _, v := range obj.Struct.Fields {
			c.markValue(v)
		}
	case OKFunction:
		for _, v := range obj.Fn.Chunk.Constants {
			c.markValue(v)
		}
	case OKClosure:
		c.markObject(obj.Closure.Fn)
		for _, up := range obj.Closure.Upvalues {
			c.markObject(up)
		}
	case OKUpvalue:
		if !obj.Up.IsOpen {
			c.markValue(obj.Up.Closed)
		}
	}
}

// beginSweep transitions to the sweep phase and resets the cursor.
func (c *Collector) beginSweep() {
	c.phase = PhaseSweep
	c.sweepCursor = 0
}

// sweepAll reclaims every white unpinned record and resets survivors to
// white. Returns bytes freed.
func (c *Collector) sweepAll() int64 {
	freedBytes := c.sweepRange(len(c.headers))
	c.sweepCursor = len(c.headers)
	return freedBytes
}

// sweepSlice processes up to limit arena slots and returns work units spent.
func (c *Collector) sweepSlice(limit int) int {
	if limit <= 0 {
		limit = 1
	}
	end := c.sweepCursor + limit
	if end > len(c.headers) {
		end = len(c.headers)
	}
	slots := end - c.sweepCursor
	c.sweepRange(end - c.sweepCursor)
	return slots * workSweepOne
}

// sweepRange processes n slots from the cursor, freeing white unpinned
// records and whitening survivors. Returns bytes freed.
func (c *Collector) sweepRange(n int) int64 {
	freedBytes := int64(0)
	freedCount := 0
	end := c.sweepCursor + n
	if end > len(c.headers) {
		end = len(c.headers)
	}
	for ; c.sweepCursor < end; c.sweepCursor++ {
		hd := &c.headers[c.sweepCursor]
		if !hd.live {
			continue
		}
		if hd.color == ColorWhite && !hd.pinned {
			freedBytes += hd.size
			freedCount++
			c.freeSlot(Handle(c.sweepCursor+1), hd)
		} else {
			hd.color = ColorWhite
		}
	}
	if freedCount > 0 && c.tracer.Level() >= trace.LevelDebug {
		trace.Pointf(c.tracer, trace.ScopeHeap, "sweep", "freed %d objects (%d bytes)", freedCount, freedBytes)
	}
	return freedBytes
}

// finishCycle sweeps the interner, updates the threshold, and closes the
// cycle.
func (c *Collector) finishCycle(sliceStart time.Time) {
	strFreed := c.vm.strings.Sweep()
	c.stats.StringsFreed += uint64(strFreed)

	c.bytesSinceGC = 0
	c.nextThreshold = c.bytesAllocated * c.tuning.HeapGrowFactor
	if c.nextThreshold < c.tuning.MinHeapSize {
		c.nextThreshold = c.tuning.MinHeapSize
	}
	if c.tuning.MaxHeapSize > 0 && c.nextThreshold > c.tuning.MaxHeapSize {
		c.nextThreshold = c.tuning.MaxHeapSize
	}

	c.cycleWork += time.Since(sliceStart)
	c.stats.LastPause = c.cycleWork
	c.stats.TotalPause += c.cycleWork

	c.phase = PhaseNone

	trace.Pointf(c.tracer, trace.ScopePhase, "cycle-done",
		"live=%d bytes=%d strings=%d next=%d", c.objectCount, c.bytesAllocated, c.vm.strings.Live(), c.nextThreshold)
}

func (c *Collector) cycleSummary(freedBytes int64) string {
	return fmt.Sprintf("freed %d bytes, live %d bytes", freedBytes, c.bytesAllocated)
}
