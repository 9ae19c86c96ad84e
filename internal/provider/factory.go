package provider

import (
	"fmt"
	"net/http"
	"os"

	"briefline/internal/config"
)

// FromConfig builds a Generator from the provider config block.
func FromConfig(cfg *config.Config) (Generator, error) {
	if cfg == nil {
		return &Stub{}, nil
	}
	switch cfg.Provider.Kind {
	case "", "stub":
		return &Stub{}, nil
	case "openai":
		keyEnv := cfg.Provider.APIKeyEnv
		return &OpenAIClient{
			BaseURL:    cfg.Provider.BaseURL,
			Model:      cfg.Provider.Model,
			EmbedModel: cfg.Provider.EmbedModel,
			KeySource: func() (string, error) {
				k := os.Getenv(keyEnv)
				if k == "" {
					return "", &Error{Status: http.StatusUnauthorized, Message: fmt.Sprintf("%s not set", keyEnv)}
				}
				return k, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %s", cfg.Provider.Kind)
	}
}
