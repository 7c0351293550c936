// Package llm is the Generation Dispatcher (spec.md §4.5): composes a
// provider-specific request from a loaded context's histories, streams
// deltas to a sink, honors cancellation, recovers on length truncation, and
// on success appends one assistant history covering the entire produced
// text.
package llm

import (
	"context"
	"fmt"

	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/store"
)

// Sink receives incremental text deltas as they are produced.
type Sink interface {
	OnDelta(text string)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(text string)

func (f SinkFunc) OnDelta(text string) { f(text) }

// Producer streams one turn for a loaded context, honoring buf's cancel
// flag and popping the pending user history itself on observing it
// (spec.md §5: "the pending user history is popped"), returning
// gwerrors.ErrCancellation in that case.
type Producer interface {
	Stream(ctx context.Context, c *store.UserGptContext, userID string, buf *contextbuf.Buffer, sink Sink) error
}

// Dispatcher pattern-matches on the context's tagged LLMModel union and
// dispatches to the matching producer (Design Note §9: "a single dispatcher
// function that pattern-matches").
type Dispatcher struct {
	Remote Producer
	Local  Producer
}

// New builds a Dispatcher over the two producer implementations.
func New(remote, local Producer) *Dispatcher {
	return &Dispatcher{Remote: remote, Local: local}
}

// Generate runs a full turn for c, dispatching on whichever LLMModel
// variant is set.
func (d *Dispatcher) Generate(ctx context.Context, c *store.UserGptContext, userID string, buf *contextbuf.Buffer, sink Sink) error {
	switch {
	case c.Model.Remote != nil:
		if d.Remote == nil {
			return fmt.Errorf("%w: no remote producer configured", gwerrors.ErrInternal)
		}
		return d.Remote.Stream(ctx, c, userID, buf, sink)
	case c.Model.Local != nil:
		if d.Local == nil {
			return fmt.Errorf("%w: no local producer configured", gwerrors.ErrInternal)
		}
		return d.Local.Stream(ctx, c, userID, buf, sink)
	default:
		return fmt.Errorf("%w: context has no model selected", gwerrors.ErrInternal)
	}
}
