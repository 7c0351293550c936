// Package commands is the Retrieval & Command Handler (spec.md §4.4): a
// slash-command registry with typed positional-argument binding. Each
// command is a declarative parameter table plus a handler closure, the
// "generated table in statically-typed hosts" variant of the binder design
// note (spec.md §9) rather than a reflective kwargs binder.
package commands

import (
	"context"
	"fmt"

	"convgateway/internal/contextbuf"
	"convgateway/internal/messages"
	"convgateway/internal/protocol"
	"convgateway/internal/store"
	"convgateway/internal/vectorstore"
)

// ParamKind is a positional argument's declared coercion type.
type ParamKind int

const (
	KindText ParamKind = iota
	KindInteger
	KindFloat
)

// ParamSpec declares one positional parameter (spec.md §4.4 binder source 2).
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	Default  any
	// Trailing marks a text parameter that consumes all remaining tokens,
	// joined by a single space. Only valid on the last declared parameter.
	Trailing bool
}

// ResponseType is the outcome a command handler asks the sender to take
// (spec.md §4.4).
type ResponseType string

const (
	SendAndStop              ResponseType = "send-and-stop"
	SendAndContinueAsUser    ResponseType = "send-and-continue-as-user"
	HandleUser               ResponseType = "handle-user"
	HandleGPT                ResponseType = "handle-gpt"
	HandleBoth               ResponseType = "handle-both"
	Nothing                  ResponseType = "nothing"
	Repeat                   ResponseType = "repeat"
)

// Result is what a command handler returns: a payload and how the sender
// should dispose of it.
type Result struct {
	Payload    string
	Type       ResponseType
	Rewritten  string // populated when Type == Repeat: the command string to re-enter the handler with
}

// Invocation is the bound call: the three injected singletons (current
// context, socket, buffer - spec.md §4.4 binder source 1), the external
// collaborators a handler needs to do its job, and the coerced positional
// arguments keyed by parameter name.
type Invocation struct {
	Context *store.UserGptContext
	Socket  protocol.Sender
	Buffer  *contextbuf.Buffer

	Manager *messages.Manager
	Vectors vectorstore.Store
	Models  store.ModelRegistry

	Args map[string]any
}

// Text returns a bound text argument, or "" if unset.
func (inv *Invocation) Text(name string) string {
	if v, ok := inv.Args[name].(string); ok {
		return v
	}
	return ""
}

// Int returns a bound integer argument, or 0 if unset.
func (inv *Invocation) Int(name string) int64 {
	if v, ok := inv.Args[name].(int64); ok {
		return v
	}
	return 0
}

// Float returns a bound float argument, or 0 if unset.
func (inv *Invocation) Float(name string) float64 {
	if v, ok := inv.Args[name].(float64); ok {
		return v
	}
	return 0
}

// Command is a named handler with a declared parameter list, the statically
// typed analogue of the "named function with a declared parameter list" in
// spec.md §4.4.
type Command struct {
	Name    string
	Summary string
	Params  []ParamSpec
	Handler func(ctx context.Context, inv *Invocation) (Result, error)
}

// BindError marks a binder failure, surfaced as a textual error frame per
// spec.md §4.4 ("If binding fails, the server sends a textual error frame
// and the command is dropped") and classified Internal per spec.md §7.
type BindError struct {
	Command string
	Reason  string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("command %q: %s", e.Command, e.Reason)
}
