package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepOutput is one flow step's generated contribution to a stage output.
type StepOutput struct {
	FlowStepID string `json:"flow_step_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	AgentName  string `json:"agent_name,omitempty"`
	OrderIndex int    `json:"order_index"`
	Content    string `json:"content"`
}

// AggregatedOutputs is the structured form stored in outputs.content_json.
type AggregatedOutputs struct {
	Outputs []StepOutput `json:"outputs"`
}

// Normalized is the canonical read-side shape of any output content.
type Normalized struct {
	Response string `json:"response"`
}

// Normalize is the single conversion boundary for output content. It accepts
// a raw string (possibly JSON), an AggregatedOutputs value, or an already
// normalized value, and reduces everything to {response: string}.
// Normalize(Normalize(x).Response) converges for all accepted inputs.
func Normalize(v any) Normalized {
	switch c := v.(type) {
	case nil:
		return Normalized{}
	case Normalized:
		return c
	case AggregatedOutputs:
		return Normalized{Response: joinOutputs(c.Outputs)}
	case string:
		return normalizeString(c)
	case map[string]any:
		return normalizeMap(c)
	default:
		return Normalized{Response: fmt.Sprintf("%v", v)}
	}
}

func normalizeString(s string) Normalized {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return normalizeMap(m)
		}
	}
	return Normalized{Response: s}
}

func normalizeMap(m map[string]any) Normalized {
	if r, ok := m["response"].(string); ok {
		return Normalized{Response: r}
	}
	if outs, ok := m["outputs"].([]any); ok {
		parts := make([]string, 0, len(outs))
		for _, o := range outs {
			entry, ok := o.(map[string]any)
			if !ok {
				continue
			}
			if c, ok := entry["content"].(string); ok && c != "" {
				parts = append(parts, c)
			}
		}
		return Normalized{Response: strings.Join(parts, "\n\n")}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Normalized{Response: fmt.Sprintf("%v", m)}
	}
	return Normalized{Response: string(b)}
}

func joinOutputs(outs []StepOutput) string {
	parts := make([]string, 0, len(outs))
	for _, o := range outs {
		if o.Content != "" {
			parts = append(parts, o.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// MarshalContent serializes aggregated outputs for the content_json column.
func MarshalContent(a AggregatedOutputs) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
