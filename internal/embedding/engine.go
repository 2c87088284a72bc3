// Package embedding provides vector embedding generation for semantic search
// over function summaries.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "openai", "genai" or "hash"
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	// TaskType for GenAI, e.g. "RETRIEVAL_DOCUMENT" or "CODE_RETRIEVAL_QUERY".
	TaskType string `yaml:"task_type"`

	// Dimensions for the hash engine.
	Dimensions int `yaml:"dimensions"`
}

// DefaultConfig returns the defaults, matching the OpenAI embedding model the
// index is usually populated with.
func DefaultConfig() Config {
	return Config{
		Provider:   "openai",
		Model:      "text-embedding-3-small",
		TaskType:   "SEMANTIC_SIMILARITY",
		Dimensions: 256,
	}
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "genai":
		return NewGenAIEngine(ctx, cfg.APIKey, cfg.Model, cfg.TaskType)
	case "hash":
		return NewHashEngine(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine similarity of a and b, between -1
// and 1. Zero vectors have similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
