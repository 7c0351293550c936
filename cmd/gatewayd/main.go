// Command gatewayd is the conversational gateway's process entrypoint: load
// configuration, wire the Conversation/Relational/Vector stores and the
// Generation Dispatcher's producers, then serve the Connection Pump over
// websocket, grounded on the teacher's cmd/agentd/main.go startup sequence.
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"convgateway/internal/commands"
	"convgateway/internal/config"
	"convgateway/internal/docparse"
	"convgateway/internal/gateway"
	"convgateway/internal/llm"
	"convgateway/internal/logging"
	"convgateway/internal/messages"
	"convgateway/internal/relstore"
	"convgateway/internal/retrieval"
	"convgateway/internal/store"
	"convgateway/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(cfg.LogLevel, cfg.LogPretty)

	ctx := context.Background()

	models := store.BuildRegistry(remoteSpecs(cfg), localSpecs(cfg), cfg.DefaultModel)

	relStore, err := buildRelStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("gatewayd: failed to open relational store")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	convStore := store.NewRedisStore(redisClient, models)

	vectors, err := buildVectorStore(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("gatewayd: vector store unavailable, falling back to in-memory store")
		vectors = vectorstore.NewMemoryStore()
	}

	// No production PaperFetcher ships with this module (spec.md §1
	// Non-goals: file parsing for embeddings is an external concern), so
	// retrieval ingestion stays disabled until a deployment wires one in.
	var guard *retrieval.Guard

	dispatch := llm.New(
		llm.NewRemoteChatProducer(
			llm.NewOpenAIChatClient(firstRemoteAPIKey(cfg), firstRemoteAPIURL(cfg)),
			messages.New(convStore, messages.NewClock()),
		),
		llm.NewLocalModelProducer(
			llm.NewOllamaGenerateClient(firstLocalHost(cfg)),
			messages.New(convStore, messages.NewClock()),
			cfg.LocalPoolSize,
		),
	)

	srv := gateway.New(relStore, convStore, models, vectors, guard, commands.NewRegistry(), dispatch, docparse.NewPlainTextParser())
	srv.ChunkSizeRemote = cfg.StreamChunkSizeRemote
	srv.ChunkSizeLocal = cfg.StreamChunkSizeLocal

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "ok") })
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		srv.ServeWS(w, r, userID)
	})

	log.Info().Str("addr", cfg.ListenAddr).Msg("gatewayd listening")
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Fatal().Err(err).Msg("gatewayd: server failed")
	}
}

func buildRelStore(ctx context.Context, cfg config.Config) (relstore.Store, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn().Msg("gatewayd: no POSTGRES_DSN configured, using in-memory relational store")
		return relstore.NewMemoryStore(), nil
	}
	return relstore.NewPostgresStore(ctx, cfg.Postgres.DSN)
}

func buildVectorStore(cfg config.Config) (vectorstore.Store, error) {
	apiKey := firstRemoteAPIKey(cfg)
	if apiKey == "" {
		return vectorstore.NewMemoryStore(), nil
	}
	embedder := vectorstore.NewOpenAIEmbedder(apiKey, firstRemoteAPIURL(cfg), "text-embedding-3-small", cfg.Qdrant.Dimensions)
	return vectorstore.NewQdrantStore(cfg.Qdrant.DSN, cfg.Qdrant.Collection, embedder, cfg.Qdrant.Metric)
}

func remoteSpecs(cfg config.Config) []store.RemoteModelSpec {
	specs := make([]store.RemoteModelSpec, len(cfg.RemoteModels))
	for i, m := range cfg.RemoteModels {
		specs[i] = store.RemoteModelSpec{
			Name:                m.Name,
			APIURL:              m.APIURL,
			APIKey:              m.APIKey,
			MaxTotalTokens:      m.MaxTotalTokens,
			MaxTokensPerRequest: m.MaxTokensPerRequest,
			TokenMargin:         m.TokenMargin,
			TokenizerFamily:     m.Name,
		}
	}
	return specs
}

func localSpecs(cfg config.Config) []store.LocalModelSpec {
	specs := make([]store.LocalModelSpec, len(cfg.LocalModels))
	for i, m := range cfg.LocalModels {
		specs[i] = store.LocalModelSpec{
			Name:                m.Name,
			OllamaHost:          m.OllamaHost,
			ModelPath:           m.ModelPath,
			PreambleTemplate:    m.PreambleTemplate,
			MaxTotalTokens:      m.MaxTotalTokens,
			MaxTokensPerRequest: m.MaxTokensPerRequest,
			TokenMargin:         m.TokenMargin,
			StopStrings:         m.StopStrings,
			TokenizerFamily:     m.Name,
		}
	}
	return specs
}

func firstRemoteAPIKey(cfg config.Config) string {
	if len(cfg.RemoteModels) == 0 {
		return ""
	}
	return cfg.RemoteModels[0].APIKey
}

func firstRemoteAPIURL(cfg config.Config) string {
	if len(cfg.RemoteModels) == 0 {
		return ""
	}
	return cfg.RemoteModels[0].APIURL
}

func firstLocalHost(cfg config.Config) string {
	if len(cfg.LocalModels) == 0 {
		return "http://localhost:11434"
	}
	return cfg.LocalModels[0].OllamaHost
}
