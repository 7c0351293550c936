// Package store is the Conversation Store (spec.md §4.1): durable
// per-(user, room) state in a key-value cache, CRUD for profile, model
// selection, and the three role-partitioned message logs.
package store

import (
	"strings"
	"time"
)

// Role partitions a message log. Histories of different roles are stored
// in separate ordered lists (spec.md §3 invariant 2).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UserGptProfile is the per-room sampling/role-label configuration.
type UserGptProfile struct {
	UserID              string    `json:"user_id"`
	RoomID              string    `json:"room_id"`
	CreatedAt           time.Time `json:"created_at"`
	UserRoleLabel       string    `json:"user_role_label"`
	AssistantRoleLabel  string    `json:"assistant_role_label"`
	SystemRoleLabel     string    `json:"system_role_label"`
	Temperature         float64   `json:"temperature"`
	TopP                float64   `json:"top_p"`
	PresencePenalty     float64   `json:"presence_penalty"`
	FrequencyPenalty    float64   `json:"frequency_penalty"`
}

// MessageHistory is one entry in a role log.
//
// Invariant: Tokens must equal tokenizer.Count(Content) for the model in
// force at the time of append (spec.md §3) - enforced by internal/messages,
// never by callers constructing a MessageHistory directly.
type MessageHistory struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	IsUser    bool   `json:"is_user"`
	Timestamp int64  `json:"timestamp"`
	UUID      string `json:"uuid"`
	ModelName string `json:"model_name,omitempty"`
}

// UserGptContext is the aggregate for one (user, room): profile, selected
// model, three ordered logs, and three cached token sums.
type UserGptContext struct {
	Profile            UserGptProfile
	Model              LLMModel
	UserLog            []MessageHistory
	AssistantLog       []MessageHistory
	SystemLog          []MessageHistory
	SumUserTokens      int
	SumAssistantTokens int
	SumSystemTokens    int
	// Continuation flags that the last assistant history was cut off by a
	// provider length limit and the next generation must seamlessly extend
	// it (spec.md §4.5.1, GLOSSARY).
	Continuation bool
}

// Log returns the slice for the given role.
func (c *UserGptContext) Log(role Role) []MessageHistory {
	switch role {
	case RoleUser:
		return c.UserLog
	case RoleAssistant:
		return c.AssistantLog
	case RoleSystem:
		return c.SystemLog
	default:
		return nil
	}
}

// SumTokens returns the cached token sum for the given role.
func (c *UserGptContext) SumTokens(role Role) int {
	switch role {
	case RoleUser:
		return c.SumUserTokens
	case RoleAssistant:
		return c.SumAssistantTokens
	case RoleSystem:
		return c.SumSystemTokens
	default:
		return 0
	}
}

// TotalTokens is the sum across all three role logs.
func (c *UserGptContext) TotalTokens() int {
	return c.SumUserTokens + c.SumAssistantTokens + c.SumSystemTokens
}

// LeftTokens is the remaining budget before the model's max_total_tokens
// ceiling, after reserving the model's token margin and, for local models,
// the rendered preamble's token cost (spec.md §3 invariant 3, §8:
// "total_tokens + margin + preamble_tokens <= max_total_tokens").
func (c *UserGptContext) LeftTokens() int {
	left := c.Model.Budget().MaxTotalTokens - c.TotalTokens() - c.Model.Budget().TokenMargin - c.PreambleTokens()
	if left < 0 {
		return 0
	}
	return left
}

// PreambleTokens returns the token cost of the local model's rendered
// preamble template with role labels substituted (zero for remote models,
// which have no preamble). internal/llm's assemblePrompt renders the same
// template for the actual request; this mirrors only the substitution, not
// the full prompt, since invariant 3's accounting only needs the preamble.
func (c *UserGptContext) PreambleTokens() int {
	if c.Model.Local == nil {
		return 0
	}
	preamble := c.Model.Local.PreambleTemplate
	preamble = strings.ReplaceAll(preamble, "{user_role}", c.Profile.UserRoleLabel)
	preamble = strings.ReplaceAll(preamble, "{assistant_role}", c.Profile.AssistantRoleLabel)
	preamble = strings.ReplaceAll(preamble, "{system_role}", c.Profile.SystemRoleLabel)
	tokens, err := c.Model.Tok().Count(preamble)
	if err != nil {
		return 0
	}
	return tokens
}

// Default builds a fresh context for (user, room) on a given model,
// the "create default context atomically" behavior of Store.Read.
func Default(userID, roomID string, model LLMModel) UserGptContext {
	return UserGptContext{
		Profile: UserGptProfile{
			UserID:             userID,
			RoomID:             roomID,
			CreatedAt:          time.Now().UTC(),
			UserRoleLabel:      "user",
			AssistantRoleLabel: "assistant",
			SystemRoleLabel:    "system",
			Temperature:        0.7,
			TopP:               1.0,
		},
		Model: model,
	}
}
