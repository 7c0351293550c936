package commands

import (
	"context"
	"fmt"
	"strings"

	"convgateway/internal/gwerrors"
	"convgateway/internal/messages"
	"convgateway/internal/store"
	"convgateway/internal/vectorstore"
)

// builtins returns the command table's contract-sketch commands (spec.md
// §4.4), minus help which is wired separately since it needs the registry
// itself.
func builtins() []*Command {
	return []*Command{
		clearCommand(),
		resetCommand(),
		retryCommand(),
		changeModelCommand(),
		embedCommand(),
		queryCommand(),
		codexCommand(),
		redxCommand(),
		codeblockCommand(),
		pingCommand(),
	}
}

// clear empties all three role logs and reports the tokens removed.
func clearCommand() *Command {
	return &Command{
		Name:    "clear",
		Summary: "clear all three role logs",
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			c := inv.Context
			removed := c.SumUserTokens + c.SumAssistantTokens + c.SumSystemTokens
			for _, role := range []store.Role{store.RoleUser, store.RoleAssistant, store.RoleSystem} {
				if err := inv.Manager.Clear(ctx, c, role); err != nil {
					return Result{}, fmt.Errorf("%w: clear %s log: %v", gwerrors.ErrInternal, role, err)
				}
			}
			return Result{Payload: fmt.Sprintf("cleared %d tokens", removed), Type: SendAndStop}, nil
		},
	}
}

// reset replaces the context with a fresh default, keeping the room id and
// selected model but dropping all logs and sampling overrides.
func resetCommand() *Command {
	return &Command{
		Name:    "reset",
		Summary: "replace the context with a fresh default",
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			c := inv.Context
			fresh := store.Default(c.Profile.UserID, c.Profile.RoomID, c.Model)
			if err := inv.Manager.Store.Create(ctx, fresh, store.OnlyIfPresent); err != nil {
				return Result{}, fmt.Errorf("%w: persist reset: %v", gwerrors.ErrInternal, err)
			}
			*c = fresh
			return Result{Payload: "room reset", Type: SendAndStop}, nil
		},
	}
}

// retry pops the last assistant history and re-triggers generation from the
// current user history.
func retryCommand() *Command {
	return &Command{
		Name:    "retry",
		Summary: "regenerate the last assistant reply",
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			c := inv.Context
			if len(c.AssistantLog) == 0 {
				return Result{Payload: "nothing to retry", Type: SendAndStop}, nil
			}
			if _, err := inv.Manager.Pop(ctx, c, store.RoleAssistant, messages.Right, 1); err != nil {
				return Result{}, fmt.Errorf("%w: pop last assistant history: %v", gwerrors.ErrInternal, err)
			}
			return Result{Type: HandleGPT}, nil
		},
	}
}

// changemodel switches the selected model and persists profile+model.
func changeModelCommand() *Command {
	return &Command{
		Name:    "changemodel",
		Summary: "switch the selected model for this room",
		Params: []ParamSpec{
			{Name: "name", Kind: KindText, Required: true},
		},
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			name := inv.Text("name")
			model, ok := inv.Models.Resolve(name)
			if !ok {
				return Result{Payload: fmt.Sprintf("unknown model %q", name), Type: SendAndStop}, nil
			}
			inv.Context.Model = model
			if err := inv.Manager.Store.UpdateProfileAndModel(ctx, *inv.Context); err != nil {
				return Result{}, fmt.Errorf("%w: persist model change: %v", gwerrors.ErrInternal, err)
			}
			return Result{Payload: fmt.Sprintf("model switched to %s", model.Name()), Type: SendAndStop}, nil
		},
	}
}

// embed chunks, tokenizes, and stores text into the vector store.
func embedCommand() *Command {
	return &Command{
		Name:    "embed",
		Summary: "chunk and store text into the vector store",
		Params: []ParamSpec{
			{Name: "text", Kind: KindText, Required: true, Trailing: true},
		},
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			text := inv.Text("text")
			chunks := vectorstore.Chunk(text, vectorstore.ChunkOptions{})
			if err := inv.Vectors.AddTexts(ctx, chunks, map[string]string{
				"user_id": inv.Context.Profile.UserID,
				"room_id": inv.Context.Profile.RoomID,
			}); err != nil {
				return Result{}, fmt.Errorf("%w: embed text: %v", gwerrors.ErrInternal, err)
			}
			return Result{Payload: fmt.Sprintf("embedded %d chunk(s)", len(chunks)), Type: SendAndStop}, nil
		},
	}
}

// query searches the vector store's top-k=3 for text, prepends the
// retrieval prompt template, and treats the result as a user message
// (spec.md §4.4, §8 scenario 6: the literal prompt format).
func queryCommand() *Command {
	return &Command{
		Name:    "query",
		Summary: "search the vector store and ask a question with the retrieved context",
		Params: []ParamSpec{
			{Name: "text", Kind: KindText, Required: true, Trailing: true},
		},
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			q := inv.Text("text")
			docs, err := inv.Vectors.SimilaritySearch(ctx, q, 3)
			if err != nil {
				return Result{}, fmt.Errorf("%w: similarity search: %v", gwerrors.ErrInternal, err)
			}
			contents := make([]string, len(docs))
			for i, d := range docs {
				contents[i] = d.Content
			}
			prompt := fmt.Sprintf(
				"please answer my question\nquestion: %s\nrelated context from my vectorstore:```%s```\nanswer:",
				q, strings.Join(contents, ""),
			)
			return Result{Payload: prompt, Type: HandleBoth}, nil
		},
	}
}

const codexSystemMessage = "You are Codex, a terse expert pair programmer. Answer with working code and minimal prose."
const redxSystemMessage = "You are Redx, a red-team security reviewer. Point out exploitable flaws bluntly."

// codex replaces the system log with a canned "Codex" persona message.
func codexCommand() *Command {
	return cannedSystemCommand("codex", "switch to the Codex system persona", codexSystemMessage)
}

// redx replaces the system log with a canned "Redx" persona message.
func redxCommand() *Command {
	return cannedSystemCommand("redx", "switch to the Redx system persona", redxSystemMessage)
}

func cannedSystemCommand(name, summary, message string) *Command {
	return &Command{
		Name:    name,
		Summary: summary,
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			c := inv.Context
			if err := inv.Manager.Clear(ctx, c, store.RoleSystem); err != nil {
				return Result{}, fmt.Errorf("%w: clear system log: %v", gwerrors.ErrInternal, err)
			}
			if _, err := inv.Manager.Append(ctx, c, store.RoleSystem, message, c.Model.Name()); err != nil {
				return Result{}, fmt.Errorf("%w: append system persona: %v", gwerrors.ErrInternal, err)
			}
			return Result{Payload: fmt.Sprintf("system persona set to %s", name), Type: SendAndStop}, nil
		},
	}
}

// codeblock echoes a fenced code block.
func codeblockCommand() *Command {
	return &Command{
		Name:    "codeblock",
		Summary: "echo a fenced code block",
		Params: []ParamSpec{
			{Name: "lang", Kind: KindText, Required: true},
			{Name: "code", Kind: KindText, Required: true, Trailing: true},
		},
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			lang := inv.Text("lang")
			code := inv.Text("code")
			return Result{Payload: fmt.Sprintf("```%s\n%s\n```", lang, code), Type: SendAndStop}, nil
		},
	}
}

// ping is a liveness probe.
func pingCommand() *Command {
	return &Command{
		Name:    "ping",
		Summary: "liveness probe",
		Handler: func(ctx context.Context, inv *Invocation) (Result, error) {
			return Result{Payload: "pong", Type: SendAndStop}, nil
		},
	}
}
