package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// parse splits a slash-command frame's message body into a command name and
// its raw argument tokens (spec.md §4.4: "name arg1 arg2 …").
func parse(msg string) (name string, tokens []string) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(msg), "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// bind coerces raw tokens into a command's declared positional parameters
// (spec.md §4.4 binder sources 2 and 3): required params must be present,
// optional params fall back to their declared default, and a trailing
// text-typed parameter consumes every remaining token joined by a space.
func bind(name string, params []ParamSpec, tokens []string) (map[string]any, error) {
	args := make(map[string]any, len(params))
	i := 0
	for pi, p := range params {
		last := pi == len(params)-1
		if p.Trailing && !last {
			return nil, &BindError{Command: name, Reason: fmt.Sprintf("parameter %q: only the last parameter may be trailing", p.Name)}
		}
		if p.Trailing {
			if i >= len(tokens) {
				if p.Required {
					return nil, &BindError{Command: name, Reason: fmt.Sprintf("missing required parameter %q", p.Name)}
				}
				args[p.Name] = p.Default
				continue
			}
			args[p.Name] = strings.Join(tokens[i:], " ")
			i = len(tokens)
			continue
		}
		if i >= len(tokens) {
			if p.Required {
				return nil, &BindError{Command: name, Reason: fmt.Sprintf("missing required parameter %q", p.Name)}
			}
			args[p.Name] = p.Default
			continue
		}
		raw := tokens[i]
		i++
		coerced, err := coerce(p, raw)
		if err != nil {
			return nil, &BindError{Command: name, Reason: fmt.Sprintf("parameter %q: %v", p.Name, err)}
		}
		args[p.Name] = coerced
	}
	return args, nil
}

func coerce(p ParamSpec, raw string) (any, error) {
	switch p.Kind {
	case KindInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}
