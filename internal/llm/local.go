package llm

import (
	"context"
	"fmt"
	"strings"

	"convgateway/internal/contextbuf"
	"convgateway/internal/gwerrors"
	"convgateway/internal/messages"
	"convgateway/internal/store"
)

// GenerateChunk is one streamed token-text delta from the local backend
// (spec.md §4.5.2).
type GenerateChunk struct {
	Content    string
	Done       bool
	DoneReason string
}

// GenerateRequest is the provider-agnostic shape of a local generation call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Stop        []string
	Temperature float64
	TopP        float64
	NumPredict  int
}

// GenerateClient runs one local-model generation, invoking onChunk for each
// streamed piece of text. The production implementation wraps
// github.com/ollama/ollama/api (ollamaGenerateClient in this package),
// grounded on SnapdragonPartners-maestro's ollama client.
type GenerateClient interface {
	Generate(ctx context.Context, req GenerateRequest, onChunk func(GenerateChunk) error) error
}

// LocalModelProducer is the Local model producer (spec.md §4.5.2): a single
// bounded worker pool hosting loaded model weights, fed prompt strings
// assembled from the context's histories.
type LocalModelProducer struct {
	Client     GenerateClient
	Manager    *messages.Manager
	pool       chan struct{}
	MaxRetries int // whitespace-collapse retry bound (spec.md §4.5.2: "bounded to 10 retries")
}

// NewLocalModelProducer builds a local producer bounded to poolSize
// concurrent in-flight generations (spec.md §4.5.2, §5: "a bounded process
// pool (size = CPU-bound small constant)").
func NewLocalModelProducer(client GenerateClient, manager *messages.Manager, poolSize int) *LocalModelProducer {
	if poolSize <= 0 {
		poolSize = 2
	}
	return &LocalModelProducer{
		Client:     client,
		Manager:    manager,
		pool:       make(chan struct{}, poolSize),
		MaxRetries: 10,
	}
}

// assemblePrompt renders the preamble template with role labels substituted,
// then every history as "<ROLE>: <content>\n", finally the assistant-role
// suffix prompting continuation (spec.md §4.5.2).
func assemblePrompt(c *store.UserGptContext) string {
	model := c.Model.Local
	var b strings.Builder
	preamble := model.PreambleTemplate
	preamble = strings.ReplaceAll(preamble, "{user_role}", c.Profile.UserRoleLabel)
	preamble = strings.ReplaceAll(preamble, "{assistant_role}", c.Profile.AssistantRoleLabel)
	preamble = strings.ReplaceAll(preamble, "{system_role}", c.Profile.SystemRoleLabel)
	b.WriteString(preamble)

	for _, h := range c.SystemLog {
		fmt.Fprintf(&b, "%s: %s\n", c.Profile.SystemRoleLabel, h.Content)
	}
	n := len(c.UserLog)
	if len(c.AssistantLog) > n {
		n = len(c.AssistantLog)
	}
	lastAssistant := len(c.AssistantLog) - 1
	for i := 0; i < n; i++ {
		if i < len(c.UserLog) {
			fmt.Fprintf(&b, "%s: %s\n", c.Profile.UserRoleLabel, c.UserLog[i].Content)
		}
		if i < len(c.AssistantLog) {
			content := c.AssistantLog[i].Content
			if c.Continuation && i == lastAssistant {
				content += "…[CONTINUATION]"
			}
			fmt.Fprintf(&b, "%s: %s\n", c.Profile.AssistantRoleLabel, content)
		}
	}
	fmt.Fprintf(&b, "%s: ", c.Profile.AssistantRoleLabel)
	return b.String()
}

// stopStrings returns the model's declared stop list plus the
// assistant/user role labels suffixed ":" in four casings (spec.md §4.5.2).
func stopStrings(c *store.UserGptContext) []string {
	model := c.Model.Local
	out := append([]string(nil), model.StopStrings...)
	for _, label := range []string{c.Profile.AssistantRoleLabel, c.Profile.UserRoleLabel} {
		lower := strings.ToLower(label)
		title := lower
		if len(title) > 0 {
			title = strings.ToUpper(title[:1]) + title[1:]
		}
		out = append(out, label+":", strings.ToUpper(label)+":", lower+":", title+":")
	}
	return out
}

// Stream runs one full turn against the local worker pool, honoring
// cancellation, retrying on whitespace-collapse, and recovering on length
// truncation by evicting and restarting (spec.md §4.5.2).
func (p *LocalModelProducer) Stream(ctx context.Context, c *store.UserGptContext, userID string, buf *contextbuf.Buffer, sink Sink) error {
	select {
	case p.pool <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.pool }()

	model := c.Model.Local
	retries := 0
	for {
		prompt := assemblePrompt(c)
		req := GenerateRequest{
			Model:       model.Name,
			Prompt:      prompt,
			Stop:        stopStrings(c),
			Temperature: c.Profile.Temperature,
			TopP:        c.Profile.TopP,
			NumPredict:  c.Model.Budget().MaxTokensPerRequest,
		}

		var produced strings.Builder
		doneReason := ""
		cancelled := false
		err := p.Client.Generate(ctx, req, func(chunk GenerateChunk) error {
			if buf != nil && buf.TestAndClearCancel() {
				cancelled = true
				return errStopGeneration
			}
			if chunk.Content != "" {
				produced.WriteString(chunk.Content)
				sink.OnDelta(chunk.Content)
			}
			if chunk.Done {
				doneReason = chunk.DoneReason
			}
			return nil
		})
		if cancelled {
			if _, popErr := p.Manager.Pop(ctx, c, store.RoleUser, messages.Right, 1); popErr != nil {
				return fmt.Errorf("%w: pop user history after cancellation: %v", gwerrors.ErrInternal, popErr)
			}
			return gwerrors.ErrCancellation
		}
		if err != nil {
			return fmt.Errorf("%w: local generation: %v", gwerrors.ErrConnectivity, err)
		}

		if strings.TrimSpace(produced.String()) == "" {
			retries++
			if retries > p.MaxRetries {
				return fmt.Errorf("%w: local model produced only whitespace after %d retries", gwerrors.ErrGeneration, p.MaxRetries)
			}
			continue
		}

		if doneReason == "length" {
			if err := p.evictWithMargin(ctx, c); err != nil {
				return err
			}
			continue
		}

		if _, err := p.Manager.Append(ctx, c, store.RoleAssistant, produced.String(), model.Name); err != nil {
			return fmt.Errorf("%w: append assistant history: %v", gwerrors.ErrInternal, err)
		}
		return nil
	}
}

// evictWithMargin evicts one more lockstep pair beyond whatever the next
// Append call will already enforce, giving length-truncated turns extra
// headroom before they restart (spec.md §4.5.2: "the eviction invariant
// plus an additional small margin eviction").
func (p *LocalModelProducer) evictWithMargin(ctx context.Context, c *store.UserGptContext) error {
	if len(c.UserLog) > 0 {
		if _, err := p.Manager.Pop(ctx, c, store.RoleUser, messages.Left, 1); err != nil {
			return fmt.Errorf("%w: margin eviction: %v", gwerrors.ErrInternal, err)
		}
	}
	if len(c.AssistantLog) > 0 {
		if _, err := p.Manager.Pop(ctx, c, store.RoleAssistant, messages.Left, 1); err != nil {
			return fmt.Errorf("%w: margin eviction: %v", gwerrors.ErrInternal, err)
		}
	}
	return nil
}

var errStopGeneration = fmt.Errorf("%w: generation stopped by cancellation", gwerrors.ErrCancellation)
