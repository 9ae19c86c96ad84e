package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpeechUnauthorizedInvalidatesCachedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	loads := 0
	keys := []string{"stale-key", "fresh-key"}
	c := &OpenAIClient{
		BaseURL: srv.URL,
		KeySource: func() (string, error) {
			k := keys[loads]
			loads++
			return k, nil
		},
	}

	_, err := c.SynthesizeSpeech(context.Background(), "hello", "alloy")
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 provider error, got %v", err)
	}

	audio, err := c.SynthesizeSpeech(context.Background(), "hello", "alloy")
	if err != nil {
		t.Fatalf("expected success after credential reload: %v", err)
	}
	if string(audio) != "audio-bytes" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if loads != 2 {
		t.Fatalf("expected 2 key loads, got %d", loads)
	}
}

func TestGenerateTextSurfacesProviderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := &OpenAIClient{
		BaseURL:   srv.URL,
		Model:     "test-model",
		KeySource: func() (string, error) { return "k", nil },
	}
	_, err := c.GenerateText(context.Background(), "", "prompt", 0.5, 0)
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", pe.Status)
	}
}
