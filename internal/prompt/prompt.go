// Package prompt assembles generation requests from brief, agent, and
// workflow data. All functions are pure; section order in Assemble is a
// contract covered by a golden test.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"briefline/internal/domain"
)

const notSpecified = "Not specified"

// PreviousOutput pairs a prior stage's name with its raw output content.
type PreviousOutput struct {
	StageName string
	Content   any
}

// Params collects everything Assemble needs for one flow step.
type Params struct {
	Agent           domain.Agent
	Brief           domain.Brief
	Step            domain.FlowStep
	PreviousOutputs []PreviousOutput
	IsFirstStage    bool
	FeedbackText    string
	IsReprocessing  bool
}

// SystemPrompt renders the agent persona for the provider's system role.
func SystemPrompt(agent domain.Agent) string {
	return fmt.Sprintf("You are %s, an expert member of a creative agency team.", agent.Name)
}

func orPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return notSpecified
	}
	return v
}

// BriefSection renders the client brief. Missing fields render as an
// explicit placeholder so prompts stay stable across inputs.
func BriefSection(b domain.Brief) string {
	var sb strings.Builder
	sb.WriteString("## Client Brief\n")
	fmt.Fprintf(&sb, "Title: %s\n", orPlaceholder(b.Title))
	fmt.Fprintf(&sb, "Description: %s\n", orPlaceholder(b.Description))
	fmt.Fprintf(&sb, "Objectives: %s\n", orPlaceholder(b.Objectives))
	fmt.Fprintf(&sb, "Target audience: %s\n", orPlaceholder(b.TargetAudience))
	fmt.Fprintf(&sb, "Budget: %s\n", orPlaceholder(b.Budget))
	fmt.Fprintf(&sb, "Timeline: %s\n", orPlaceholder(b.Timeline))
	return sb.String()
}

// AgentSection renders the agent profile and its skills in stored order.
func AgentSection(a domain.Agent) string {
	var sb strings.Builder
	sb.WriteString("## Your Role\n")
	fmt.Fprintf(&sb, "%s: %s\n", a.Name, orPlaceholder(a.Description))
	if len(a.Skills) > 0 {
		sb.WriteString("Skills:\n")
		for _, s := range a.Skills {
			content := s.Content
			if content == "" {
				content = s.Description
			}
			fmt.Fprintf(&sb, "- %s: %s\n", s.Name, content)
		}
	}
	return sb.String()
}

// PreviousOutputsSection renders prior-stage outputs under stage headers.
// Returns the empty string for the first stage or when nothing usable
// exists. Object content serializes deterministically (encoding/json sorts
// map keys); entries that fail to serialize are dropped.
func PreviousOutputsSection(outputs []PreviousOutput, isFirstStage bool) string {
	if isFirstStage || len(outputs) == 0 {
		return ""
	}
	var parts []string
	for _, o := range outputs {
		rendered, ok := renderContent(o.Content)
		if !ok || rendered == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", o.StageName, rendered))
	}
	if len(parts) == 0 {
		return ""
	}
	return "## Previous Stage Outputs\n" + strings.Join(parts, "\n\n") + "\n"
}

func renderContent(c any) (string, bool) {
	switch v := c.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// FeedbackSection embeds user feedback with the revision contract. Empty
// when not reprocessing.
func FeedbackSection(feedbackText string, isReprocessing bool) string {
	if !isReprocessing || strings.TrimSpace(feedbackText) == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Feedback To Address\n")
	sb.WriteString(feedbackText)
	sb.WriteString("\n\nYour revised response must:\n")
	sb.WriteString("1. Address every feedback point above.\n")
	sb.WriteString("2. Describe the changes you made.\n")
	sb.WriteString("3. Be substantially different from the prior response.\n")
	return sb.String()
}

// RequirementsSection numbers expected output labels and instructs the
// generator to produce one heading per label.
func RequirementsSection(step domain.FlowStep) string {
	var sb strings.Builder
	sb.WriteString("## Requirements\n")
	if strings.TrimSpace(step.Requirements) != "" {
		sb.WriteString(step.Requirements)
		sb.WriteString("\n")
	}
	if len(step.Outputs) > 0 {
		sb.WriteString("Structure your response with one heading per expected output:\n")
		for i, label := range step.Outputs {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, label)
		}
	}
	return sb.String()
}

const closingDirectives = "## Quality Directives\n" +
	"Be specific and actionable. Ground every claim in the brief. " +
	"Write in a professional agency voice.\n"

// Assemble concatenates sections in fixed order: agent role, brief,
// previous outputs, feedback (when reprocessing), requirements, closing
// quality directives. Changing this order changes generation behavior.
func Assemble(p Params) string {
	sections := []string{
		AgentSection(p.Agent),
		BriefSection(p.Brief),
		PreviousOutputsSection(p.PreviousOutputs, p.IsFirstStage),
		FeedbackSection(p.FeedbackText, p.IsReprocessing),
		RequirementsSection(p.Step),
		closingDirectives,
	}
	var nonEmpty []string
	for _, s := range sections {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
