package engine

import (
	"fmt"

	"github.com/kalambet/edgevec/internal/ollama"
)

// Kinds accepted by Detect.
const (
	KindOllama = "ollama"
	KindMLX    = "mlx"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	Kind          string
	OllamaBaseURL string
	MLXBaseURL    string

	// Ollama request tuning; zero values keep the client defaults.
	OllamaBatchSize int
	OllamaKeepAlive string
}

// Detect returns the Engine selected by cfg.Kind. An empty kind means Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Kind {
	case "", KindOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL,
			ollama.WithBatchSize(cfg.OllamaBatchSize),
			ollama.WithKeepAlive(cfg.OllamaKeepAlive),
		), nil
	case KindMLX:
		return NewMLXEngine(cfg.MLXBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q (want %s or %s)", cfg.Kind, KindOllama, KindMLX)
	}
}
