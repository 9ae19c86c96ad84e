package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultTimeout = 120 * time.Second

// OpenAIClient talks to an OpenAI-compatible API. The API key is loaded
// lazily through KeySource and cached; a 401 from speech synthesis drops the
// cached key so the next call reloads it.
type OpenAIClient struct {
	BaseURL    string
	Model      string
	EmbedModel string
	// KeySource resolves the current credential, typically from env.
	KeySource func() (string, error)
	HTTP      *http.Client

	mu        sync.Mutex
	cachedKey string
}

func (c *OpenAIClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *OpenAIClient) key() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedKey != "" {
		return c.cachedKey, nil
	}
	if c.KeySource == nil {
		return "", &Error{Status: http.StatusUnauthorized, Message: "no credential source configured"}
	}
	k, err := c.KeySource()
	if err != nil {
		return "", err
	}
	c.cachedKey = k
	return k, nil
}

func (c *OpenAIClient) invalidateKey() {
	c.mu.Lock()
	c.cachedKey = ""
	c.mu.Unlock()
}

func (c *OpenAIClient) endpoint(p string) string {
	base := c.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return base + p
}

func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})
	body := map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": temperature,
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, c.endpoint("/v1/chat/completions"), body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Status: http.StatusBadGateway, Message: "no choices in completion response"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	body := map[string]any{
		"model": c.EmbedModel,
		"input": text,
	}
	if dimensions > 0 {
		body["dimensions"] = dimensions
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, c.endpoint("/v1/embeddings"), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Status: http.StatusBadGateway, Message: "no embedding in response"}
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) SynthesizeSpeech(ctx context.Context, text, voiceID string) ([]byte, error) {
	key, err := c.key()
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"model": "tts-1",
		"input": text,
		"voice": voiceID,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/audio/speech"), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized {
		// stale credential; force a reload on the next call
		c.invalidateKey()
		return nil, &Error{Status: res.StatusCode, Message: "speech synthesis unauthorized"}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &Error{Status: res.StatusCode, Message: string(msg)}
	}
	return io.ReadAll(res.Body)
}

func (c *OpenAIClient) postJSON(ctx context.Context, url string, body, out any) error {
	key, err := c.key()
	if err != nil {
		return err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &Error{Status: res.StatusCode, Message: string(msg)}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
