package provider

import (
	"context"
	"fmt"
)

// Generator is the generation-provider boundary: text completion,
// embeddings, and speech synthesis behind one interface so the engine can
// run against a stub in tests.
type Generator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
	Embed(ctx context.Context, text string, dimensions int) ([]float32, error)
	SynthesizeSpeech(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Error carries the provider's HTTP-like status so callers can distinguish
// failure kinds after retry exhaustion.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, e.Message)
}
