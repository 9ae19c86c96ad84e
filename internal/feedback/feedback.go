// Package feedback normalizes user critique into a structured record and
// renders it back to readable text. Parsing never fails: anything that is
// not recognizably structured becomes free-form general feedback.
package feedback

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeRemove ChangeType = "remove"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type SpecificChange struct {
	Section string     `json:"section"`
	Type    ChangeType `json:"type"`
	Content string     `json:"content"`
}

type Structured struct {
	GeneralFeedback    string           `json:"general_feedback,omitempty"`
	SpecificChanges    []SpecificChange `json:"specific_changes,omitempty"`
	PriorityLevel      Priority         `json:"priority_level,omitempty"`
	TargetImprovements []string         `json:"target_improvements,omitempty"`
	RevisionNotes      string           `json:"revision_notes,omitempty"`
}

func validChangeType(t ChangeType) bool {
	return t == ChangeAdd || t == ChangeModify || t == ChangeRemove
}

func validPriority(p Priority) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Parse converts feedback text into a Structured record. Valid structured
// JSON is validated field by field and returned; text produced by Format is
// re-read section by section; anything else becomes general feedback with
// medium priority.
func Parse(input string) Structured {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var s Structured
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			if cleaned, ok := validate(s); ok {
				return cleaned
			}
		}
	}
	if s, ok := parseFormatted(trimmed); ok {
		return s
	}
	return Structured{
		GeneralFeedback: input,
		PriorityLevel:   PriorityMedium,
	}
}

func validate(s Structured) (Structured, bool) {
	if s.GeneralFeedback == "" && len(s.SpecificChanges) == 0 &&
		len(s.TargetImprovements) == 0 && s.RevisionNotes == "" {
		return s, false
	}
	for _, c := range s.SpecificChanges {
		if !validChangeType(c.Type) {
			return s, false
		}
	}
	if s.PriorityLevel == "" {
		s.PriorityLevel = PriorityMedium
	}
	if !validPriority(s.PriorityLevel) {
		return s, false
	}
	return s, true
}

const (
	headerGeneral      = "General Feedback:"
	headerChanges      = "Specific Changes:"
	headerPriority     = "Priority:"
	headerImprovements = "Target Improvements:"
	headerRevision     = "Revision Notes:"
)

// Format renders a Structured record as multi-section text in fixed order:
// general feedback, specific changes, priority, target improvements,
// revision notes. Empty sections are omitted. Parse reads this layout back.
func Format(s Structured) string {
	var sections []string
	if s.GeneralFeedback != "" {
		sections = append(sections, headerGeneral+"\n"+s.GeneralFeedback)
	}
	if len(s.SpecificChanges) > 0 {
		var sb strings.Builder
		sb.WriteString(headerChanges)
		for _, c := range s.SpecificChanges {
			fmt.Fprintf(&sb, "\n- [%s] %s: %s", c.Type, c.Section, c.Content)
		}
		sections = append(sections, sb.String())
	}
	if s.PriorityLevel != "" {
		sections = append(sections, headerPriority+" "+string(s.PriorityLevel))
	}
	if len(s.TargetImprovements) > 0 {
		var sb strings.Builder
		sb.WriteString(headerImprovements)
		for _, t := range s.TargetImprovements {
			sb.WriteString("\n- " + t)
		}
		sections = append(sections, sb.String())
	}
	if s.RevisionNotes != "" {
		sections = append(sections, headerRevision+"\n"+s.RevisionNotes)
	}
	return strings.Join(sections, "\n\n")
}

func parseFormatted(input string) (Structured, bool) {
	if !strings.Contains(input, headerGeneral) && !strings.Contains(input, headerChanges) &&
		!strings.Contains(input, headerPriority) && !strings.Contains(input, headerImprovements) &&
		!strings.Contains(input, headerRevision) {
		return Structured{}, false
	}
	var s Structured
	section := ""
	var general, revision []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == headerGeneral:
			section = "general"
			continue
		case trimmed == headerChanges:
			section = "changes"
			continue
		case strings.HasPrefix(trimmed, headerPriority):
			p := Priority(strings.TrimSpace(strings.TrimPrefix(trimmed, headerPriority)))
			if validPriority(p) {
				s.PriorityLevel = p
			}
			section = ""
			continue
		case trimmed == headerImprovements:
			section = "improvements"
			continue
		case trimmed == headerRevision:
			section = "revision"
			continue
		case trimmed == "":
			continue
		}
		switch section {
		case "general":
			general = append(general, trimmed)
		case "changes":
			if c, ok := parseChangeLine(trimmed); ok {
				s.SpecificChanges = append(s.SpecificChanges, c)
			}
		case "improvements":
			s.TargetImprovements = append(s.TargetImprovements, strings.TrimPrefix(trimmed, "- "))
		case "revision":
			revision = append(revision, trimmed)
		}
	}
	s.GeneralFeedback = strings.Join(general, "\n")
	s.RevisionNotes = strings.Join(revision, "\n")
	if s.PriorityLevel == "" {
		s.PriorityLevel = PriorityMedium
	}
	return s, true
}

func parseChangeLine(line string) (SpecificChange, bool) {
	line = strings.TrimPrefix(line, "- ")
	if !strings.HasPrefix(line, "[") {
		return SpecificChange{}, false
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return SpecificChange{}, false
	}
	c := SpecificChange{Type: ChangeType(line[1:end])}
	if !validChangeType(c.Type) {
		return SpecificChange{}, false
	}
	rest := strings.TrimSpace(line[end+1:])
	section, content, found := strings.Cut(rest, ": ")
	if !found {
		return SpecificChange{}, false
	}
	c.Section = section
	c.Content = content
	return c, true
}
