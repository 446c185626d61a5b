package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	// KindSpanBegin marks the start of a logical operation.
	KindSpanBegin Kind = iota + 1
	// KindSpanEnd marks the end of a logical operation.
	KindSpanEnd
	// KindPoint represents an instant event.
	KindPoint
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity level of the event.
// Lower numeric values represent higher-level/coarser events.
type Scope uint8

const (
	// ScopeRuntime represents VM lifecycle and workload operations.
	ScopeRuntime Scope = iota + 1
	// ScopeGC represents collection-cycle boundaries.
	ScopeGC
	// ScopePhase represents collector phase events (mark/sweep totals, steps).
	ScopePhase
	// ScopeHeap represents per-object heap events (most detailed).
	ScopeHeap
)

// String returns the string representation of Scope.
func (s Scope) String() string {
	switch s {
	case ScopeRuntime:
		return "runtime"
	case ScopeGC:
		return "gc"
	case ScopePhase:
		return "gc-phase"
	case ScopeHeap:
		return "heap"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time   time.Time // wall-clock timestamp
	Seq    uint64    // global sequence number (monotonic)
	Kind   Kind      // event kind
	Scope  Scope     // granularity level
	SpanID uint64    // unique span identifier (0 for points)
	Name   string    // e.g. "collect", "sweep", "workload:churn"
	Detail string    // optional detail message
}
