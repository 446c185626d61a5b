package trace

import (
	"fmt"
	"time"
)

// Span provides RAII-style span tracking: Begin emits a SpanBegin event and
// End emits the matching SpanEnd with the elapsed duration.
type Span struct {
	tracer  Tracer
	id      uint64
	scope   Scope
	name    string
	started time.Time
}

// Begin starts a new span and emits a SpanBegin event.
func Begin(t Tracer, scope Scope, name string) *Span {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return &Span{tracer: Nop}
	}

	id := nextSpanID()
	now := time.Now()
	t.Emit(&Event{
		Time:   now,
		Kind:   KindSpanBegin,
		Scope:  scope,
		SpanID: id,
		Name:   name,
	})
	return &Span{
		tracer:  t,
		id:      id,
		scope:   scope,
		name:    name,
		started: now,
	}
}

// End finishes the span, attaching an optional detail message.
func (s *Span) End(detail string) {
	if s == nil || s.tracer == nil || !s.tracer.Enabled() {
		return
	}
	elapsed := time.Since(s.started)
	if detail == "" {
		detail = fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000.0)
	} else {
		detail = fmt.Sprintf("%s, %.2fms", detail, float64(elapsed.Microseconds())/1000.0)
	}
	s.tracer.Emit(&Event{
		Time:   time.Now(),
		Kind:   KindSpanEnd,
		Scope:  s.scope,
		SpanID: s.id,
		Name:   s.name,
		Detail: detail,
	})
}
