package store

import "convgateway/internal/tokenizer"

// StaticRegistry resolves model names against a roster fixed at process
// startup (spec.md Design Note §9: "process-wide model cache ... keyed by
// model name"), built once from the configuration's model roster.
type StaticRegistry struct {
	models  map[string]LLMModel
	fallback LLMModel
}

// NewStaticRegistry builds a registry from a name->LLMModel map plus the
// model that Read falls back to for brand-new rooms.
func NewStaticRegistry(models map[string]LLMModel, defaultModel LLMModel) *StaticRegistry {
	return &StaticRegistry{models: models, fallback: defaultModel}
}

func (r *StaticRegistry) Resolve(name string) (LLMModel, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *StaticRegistry) Default() LLMModel { return r.fallback }

// RemoteModelSpec is the resolved, tokenizer-bound form of a configured
// remote model entry.
type RemoteModelSpec struct {
	Name                string
	APIURL              string
	APIKey              string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
	TokenizerFamily     string
}

// LocalModelSpec is the resolved, tokenizer-bound form of a configured local
// model entry.
type LocalModelSpec struct {
	Name                string
	OllamaHost          string
	ModelPath           string
	PreambleTemplate    string
	MaxTotalTokens      int
	MaxTokensPerRequest int
	TokenMargin         int
	StopStrings         []string
	TokenizerFamily     string
}

// BuildRegistry resolves each model spec's tokenizer through
// tokenizer.ForModel (which maps unrecognized family names to GPT-4's
// encoding) and assembles a StaticRegistry. A spec whose codec fails to load
// falls back to the heuristic tokenizer rather than failing startup.
func BuildRegistry(remotes []RemoteModelSpec, locals []LocalModelSpec, defaultName string) *StaticRegistry {
	models := make(map[string]LLMModel, len(remotes)+len(locals))
	for _, r := range remotes {
		tok, err := tokenizer.ForModel(r.TokenizerFamily)
		if err != nil {
			tok = tokenizer.NewHeuristic()
		}
		models[r.Name] = LLMModel{Remote: &RemoteChatModel{
			Name:                r.Name,
			APIURL:              r.APIURL,
			APIKey:              r.APIKey,
			MaxTotalTokens:      r.MaxTotalTokens,
			MaxTokensPerRequest: r.MaxTokensPerRequest,
			TokenMargin:         r.TokenMargin,
			Tokenizer:           tok,
		}}
	}
	for _, l := range locals {
		tok, err := tokenizer.ForModel(l.TokenizerFamily)
		if err != nil {
			tok = tokenizer.NewHeuristic()
		}
		models[l.Name] = LLMModel{Local: &LocalModel{
			Name:                l.Name,
			OllamaHost:          l.OllamaHost,
			ModelPath:           l.ModelPath,
			PreambleTemplate:    l.PreambleTemplate,
			MaxTotalTokens:      l.MaxTotalTokens,
			MaxTokensPerRequest: l.MaxTokensPerRequest,
			TokenMargin:         l.TokenMargin,
			StopStrings:         l.StopStrings,
			Tokenizer:           tok,
		}}
	}
	fallback := models[defaultName]
	if fallback.Remote == nil && fallback.Local == nil {
		for _, m := range models {
			fallback = m
			break
		}
	}
	return NewStaticRegistry(models, fallback)
}
