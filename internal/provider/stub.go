package provider

import (
	"context"
	"sync"
)

// StubResponse is what the stub generator returns for every prompt.
const StubResponse = "STUB_RESPONSE"

// Stub is used when no real provider is configured, and in tests. Safe for
// concurrent use.
type Stub struct {
	// Reply overrides StubResponse when set.
	Reply string
	// Err, when set, is returned from every call.
	Err error

	mu sync.Mutex
	// Calls counts GenerateText invocations.
	Calls int
	// Prompts records the user prompts seen, in call order.
	Prompts []string
}

func (s *Stub) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	s.mu.Lock()
	s.Calls++
	s.Prompts = append(s.Prompts, userPrompt)
	s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	return StubResponse, nil
}

func (s *Stub) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if dimensions <= 0 {
		dimensions = 8
	}
	v := make([]float32, dimensions)
	for i := range v {
		v[i] = float32(len(text)%7) / 7
	}
	return v, nil
}

func (s *Stub) SynthesizeSpeech(ctx context.Context, text, voiceID string) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return []byte("AUDIO:" + voiceID + ":" + text), nil
}
