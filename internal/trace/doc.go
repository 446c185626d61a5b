// Package trace provides the tracing subsystem for the Ember runtime.
//
// The collector and the CLI use it to record collection cycles, heap
// activity, and workload phases without committing to a log format in the
// runtime core.
//
// # Architecture
//
// Two tracer implementations are provided:
//
//   - NopTracer: zero-overhead no-op tracer when disabled
//   - StreamTracer: immediate write to an output (file/stderr)
//
// # Levels
//
// Verbosity is controlled by levels:
//
//   - LevelOff: no tracing
//   - LevelPhase: workload and collection-cycle boundaries
//   - LevelDetail: per-phase collector events (mark, sweep totals)
//   - LevelDebug: everything, including per-object events
//
// # Scopes
//
// Events are categorized by scope:
//
//   - ScopeRuntime: VM lifecycle and CLI workloads
//   - ScopeGC: collection-cycle boundaries
//   - ScopePhase: collector phase events (mark/sweep totals, steps)
//   - ScopeHeap: per-object allocation, marking, and sweeping
package trace
