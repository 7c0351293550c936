package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Registry is the slash-command table the connection pump dispatches
// against (spec.md §4.4).
type Registry struct {
	commands map[string]*Command
}

// NewRegistry builds a registry preloaded with the built-in commands.
func NewRegistry() *Registry {
	r := &Registry{commands: map[string]*Command{}}
	for _, c := range builtins() {
		r.Register(c)
	}
	r.Register(&Command{
		Name:    "help",
		Summary: "list available commands",
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			return Result{Payload: helpText(r), Type: SendAndStop}, nil
		},
	})
	return r
}

// Register adds or replaces a command. Names starting with "_" are rejected
// (spec.md §4.4: "Command names starting with `_` are rejected").
func (r *Registry) Register(c *Command) {
	if strings.HasPrefix(c.Name, "_") {
		return
	}
	r.commands[c.Name] = c
}

// Lookup returns the command registered under name, if any.
func (r *Registry) Lookup(name string) (*Command, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Names returns every registered command name, sorted, for help text.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch parses raw as "name arg1 arg2 …", binds its arguments, and runs
// the handler. A Repeat result re-enters Dispatch with the rewritten
// command string (spec.md §4.4: "used for aliasing"), bounded to guard
// against an aliasing cycle.
func (r *Registry) Dispatch(ctx context.Context, raw string, inv *Invocation) (Result, error) {
	return r.dispatchDepth(ctx, raw, inv, 0)
}

const maxRepeatDepth = 8

func (r *Registry) dispatchDepth(ctx context.Context, raw string, inv *Invocation, depth int) (Result, error) {
	if depth > maxRepeatDepth {
		return Result{}, &BindError{Command: raw, Reason: "repeat chain too deep"}
	}
	name, tokens := parse(raw)
	if name == "" {
		return Result{}, &BindError{Command: raw, Reason: "empty command"}
	}
	if strings.HasPrefix(name, "_") {
		return Result{}, &BindError{Command: name, Reason: "unknown command"}
	}
	cmd, ok := r.Lookup(name)
	if !ok {
		return Result{}, &BindError{Command: name, Reason: "unknown command"}
	}
	args, err := bind(name, cmd.Params, tokens)
	if err != nil {
		return Result{}, err
	}
	inv.Args = args
	res, err := cmd.Handler(ctx, inv)
	if err != nil {
		return Result{}, err
	}
	if res.Type == Repeat {
		return r.dispatchDepth(ctx, res.Rewritten, inv, depth+1)
	}
	return res, nil
}

// helpText concatenates every public command's docstring (spec.md §4.4:
// "help: concatenated docstrings of public commands").
func helpText(r *Registry) string {
	var b strings.Builder
	for _, name := range r.Names() {
		cmd, _ := r.Lookup(name)
		fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
