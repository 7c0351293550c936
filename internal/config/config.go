// Package config is the external-collaborator config-loading layer (spec.md
// §1 Non-goals). The core depends on the Config value, never on os.Getenv,
// so this loader stays swappable.
package config

import "time"

// RedisConfig configures the Conversation Store's backing cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PostgresConfig configures the relational-store external collaborator.
type PostgresConfig struct {
	DSN string
}

// QdrantConfig configures the Vector Store Adapter.
type QdrantConfig struct {
	DSN        string
	Collection string
	Dimensions int
	Metric     string
}

// RemoteModelConfig describes one RemoteChatModel entry in the model roster.
type RemoteModelConfig struct {
	Name               string
	APIURL             string
	APIKey             string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
}

// LocalModelConfig describes one LocalModel entry in the model roster,
// backed by a locally-hosted Ollama runtime.
type LocalModelConfig struct {
	Name                string
	OllamaHost          string
	ModelPath           string
	PreambleTemplate    string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
	StopStrings         []string
}

// Config is the fully resolved process configuration.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogPretty  bool

	Redis    RedisConfig
	Postgres PostgresConfig
	Qdrant   QdrantConfig

	RemoteModels []RemoteModelConfig
	LocalModels  []LocalModelConfig
	DefaultModel string

	LocalPoolSize int

	RemoteReadTimeout    time.Duration
	RemoteReconnectDelay time.Duration

	StreamChunkSizeRemote int
	StreamChunkSizeLocal  int
}
