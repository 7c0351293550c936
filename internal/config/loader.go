package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from environment variables (optionally .env),
// then overlays a YAML model roster if MODELS_FILE points at one. This
// mirrors the teacher's "read env, apply defaults after" two-phase loader.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		ListenAddr:            firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8088"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		LogPretty:             envBool("LOG_PRETTY", false),
		RemoteReadTimeout:     envDuration("REMOTE_READ_TIMEOUT", 30*time.Second),
		RemoteReconnectDelay:  envDuration("REMOTE_RECONNECT_DELAY", 3*time.Second),
		StreamChunkSizeRemote: envInt("STREAM_CHUNK_SIZE_REMOTE", 2),
		StreamChunkSizeLocal:  envInt("STREAM_CHUNK_SIZE_LOCAL", 1),
		LocalPoolSize:         envInt("LOCAL_POOL_SIZE", 2),
		DefaultModel:          os.Getenv("DEFAULT_MODEL"),
	}

	cfg.Redis = RedisConfig{
		Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	cfg.Postgres = PostgresConfig{DSN: os.Getenv("POSTGRES_DSN")}
	cfg.Qdrant = QdrantConfig{
		DSN:        firstNonEmpty(os.Getenv("QDRANT_DSN"), "http://localhost:6334"),
		Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "convgateway"),
		Dimensions: envInt("QDRANT_DIMENSIONS", 1536),
		Metric:     firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
	}

	if path := os.Getenv("MODELS_FILE"); path != "" {
		if err := loadModelRoster(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

type modelRosterFile struct {
	Remote []struct {
		Name                string `yaml:"name"`
		APIURL              string `yaml:"api_url"`
		APIKeyEnv           string `yaml:"api_key_env"`
		MaxTotalTokens      int    `yaml:"max_total_tokens"`
		MaxTokensPerRequest int    `yaml:"max_tokens_per_request"`
		TokenMargin         int    `yaml:"token_margin"`
	} `yaml:"remote"`
	Local []struct {
		Name                string   `yaml:"name"`
		OllamaHost          string   `yaml:"ollama_host"`
		ModelPath           string   `yaml:"model_path"`
		PreambleTemplate    string   `yaml:"preamble_template"`
		MaxTotalTokens      int      `yaml:"max_total_tokens"`
		MaxTokensPerRequest int      `yaml:"max_tokens_per_request"`
		TokenMargin         int      `yaml:"token_margin"`
		StopStrings         []string `yaml:"stop_strings"`
	} `yaml:"local"`
}

func loadModelRoster(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var roster modelRosterFile
	if err := yaml.Unmarshal(b, &roster); err != nil {
		return err
	}
	for _, r := range roster.Remote {
		cfg.RemoteModels = append(cfg.RemoteModels, RemoteModelConfig{
			Name:                r.Name,
			APIURL:              r.APIURL,
			APIKey:              os.Getenv(r.APIKeyEnv),
			MaxTotalTokens:      r.MaxTotalTokens,
			MaxTokensPerRequest: r.MaxTokensPerRequest,
			TokenMargin:         r.TokenMargin,
		})
	}
	for _, l := range roster.Local {
		cfg.LocalModels = append(cfg.LocalModels, LocalModelConfig{
			Name:                l.Name,
			OllamaHost:          l.OllamaHost,
			ModelPath:           l.ModelPath,
			PreambleTemplate:    l.PreambleTemplate,
			MaxTotalTokens:      l.MaxTotalTokens,
			MaxTokensPerRequest: l.MaxTokensPerRequest,
			TokenMargin:         l.TokenMargin,
			StopStrings:         l.StopStrings,
		})
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
