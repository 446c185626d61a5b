package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Tracer is the main interface for emitting trace events.
type Tracer interface {
	// Emit records a trace event.
	Emit(ev *Event)

	// Flush ensures all buffered events are written.
	Flush() error

	// Close flushes and releases resources.
	Close() error

	// Level returns the current tracing level.
	Level() Level

	// Enabled returns true if tracing is active (Level > LevelOff).
	Enabled() bool
}

var seqCounter atomic.Uint64

// NextSeq returns the next global sequence number.
func NextSeq() uint64 {
	return seqCounter.Add(1)
}

var spanCounter atomic.Uint64

// nextSpanID returns the next unique span identifier.
func nextSpanID() uint64 {
	return spanCounter.Add(1)
}

// Point emits an instant event through t.
func Point(t Tracer, scope Scope, name, detail string) {
	if t == nil || !t.Enabled() {
		return
	}
	t.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindPoint,
		Scope:  scope,
		Name:   name,
		Detail: detail,
	})
}

// Pointf emits an instant event with a formatted detail message.
func Pointf(t Tracer, scope Scope, name, format string, args ...any) {
	if t == nil || !t.Enabled() {
		return
	}
	if !t.Level().ShouldEmit(scope) {
		return
	}
	Point(t, scope, name, fmt.Sprintf(format, args...))
}

// Config describes how to construct a tracer from CLI or file settings.
type Config struct {
	Level  Level
	Output string // "-" or "stderr" for stderr, else a file path
	Format Format
}

// New builds a tracer from the config. A zero config yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	var w io.Writer
	switch cfg.Output {
	case "", "-", "stderr":
		w = os.Stderr
	default:
		f, err := os.Create(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("trace: cannot open output: %w", err)
		}
		w = f
	}
	format := cfg.Format
	if format == 0 {
		format = FormatText
	}
	return NewStreamTracer(w, cfg.Level, format), nil
}

// ParseOutput normalizes an output flag value.
func ParseOutput(s string) string {
	return strings.TrimSpace(s)
}
