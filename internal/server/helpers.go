package server

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"briefline/internal/domain"
	"briefline/internal/repo"
)

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func newAPIKey(req CreateAPIKeyRequest) domain.APIKey {
	return domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: req.ActorID,
		Name:    stringOrEmpty(req.Name),
		KeyHash: repo.HashAPIKey(req.Key),
	}
}
