package embedding

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/config"
)

// New builds the provider selected by cfg, wrapped in an LRU cache. When the
// ONNX model cannot be loaded it falls back to the hashing embedder, which
// changes the model id and therefore triggers an index rebuild.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var e Embedder
	switch cfg.Provider {
	case config.ProviderHash:
		e = NewHashEmbedder(cfg.Dimensions)
	case config.ProviderOpenAI:
		oe, err := NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Dimensions, cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		e = oe
	case config.ProviderONNX, "":
		oe, err := NewONNXEmbedder(cfg.ModelPath, cfg.ModelID, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using hash embedder", zap.String("model", cfg.ModelPath), zap.Error(err))
			e = NewHashEmbedder(cfg.Dimensions)
		} else {
			e = oe
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	logger.Debug("embedding provider ready", zap.String("model", e.ModelID()), zap.Int("dimensions", e.Dimensions()))
	return Cached(e, cfg.CacheSize), nil
}
