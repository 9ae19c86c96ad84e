package prompt

import (
	"strings"
	"testing"

	"briefline/internal/domain"
)

func sampleParams() Params {
	return Params{
		Agent: domain.Agent{
			Name:        "Strategist",
			Description: "Brand strategy lead",
			Skills: []domain.Skill{
				{Name: "Positioning", Content: "Define market position"},
				{Name: "Research", Content: "Synthesize audience research"},
			},
		},
		Brief: domain.Brief{
			Title:       "Spring launch",
			Description: "Launch campaign for new product line",
			Objectives:  "Raise awareness",
		},
		Step: domain.FlowStep{
			Requirements: "Produce a positioning statement.",
			Outputs:      []string{"Positioning Statement", "Key Messages"},
		},
		IsFirstStage: true,
	}
}

func TestAssembleGolden(t *testing.T) {
	got := Assemble(sampleParams())
	want := `## Your Role
Strategist: Brand strategy lead
Skills:
- Positioning: Define market position
- Research: Synthesize audience research

## Client Brief
Title: Spring launch
Description: Launch campaign for new product line
Objectives: Raise awareness
Target audience: Not specified
Budget: Not specified
Timeline: Not specified

## Requirements
Produce a positioning statement.
Structure your response with one heading per expected output:
1. Positioning Statement
2. Key Messages

## Quality Directives
Be specific and actionable. Ground every claim in the brief. Write in a professional agency voice.
`
	if got != want {
		t.Fatalf("assembled prompt mismatch:\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestSectionOrderContract(t *testing.T) {
	p := sampleParams()
	p.IsFirstStage = false
	p.PreviousOutputs = []PreviousOutput{{StageName: "Discovery", Content: "insights"}}
	p.IsReprocessing = true
	p.FeedbackText = "tighten the tone"
	out := Assemble(p)
	order := []string{"## Your Role", "## Client Brief", "## Previous Stage Outputs", "## Feedback To Address", "## Requirements", "## Quality Directives"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		if idx < 0 {
			t.Fatalf("missing section %q", marker)
		}
		if idx < last {
			t.Fatalf("section %q out of order", marker)
		}
		last = idx
	}
}

func TestPreviousOutputsEmptyOnFirstStage(t *testing.T) {
	outputs := []PreviousOutput{{StageName: "Discovery", Content: "findings"}}
	if s := PreviousOutputsSection(outputs, true); s != "" {
		t.Fatalf("expected empty section on first stage, got %q", s)
	}
	if s := PreviousOutputsSection(nil, false); s != "" {
		t.Fatalf("expected empty section without outputs, got %q", s)
	}
}

func TestPreviousOutputsSkipsUnserializable(t *testing.T) {
	outputs := []PreviousOutput{
		{StageName: "Discovery", Content: "kept"},
		{StageName: "Broken", Content: make(chan int)},
		{StageName: "Structured", Content: map[string]any{"b": 2, "a": 1}},
	}
	s := PreviousOutputsSection(outputs, false)
	if !strings.Contains(s, "### Discovery\nkept") {
		t.Fatalf("string content missing: %q", s)
	}
	if strings.Contains(s, "Broken") {
		t.Fatalf("unserializable content should be dropped: %q", s)
	}
	// map keys serialize in sorted order
	if !strings.Contains(s, `{"a":1,"b":2}`) {
		t.Fatalf("structured content not deterministic: %q", s)
	}
}

func TestFeedbackSectionOnlyWhenReprocessing(t *testing.T) {
	if s := FeedbackSection("fix it", false); s != "" {
		t.Fatalf("expected empty feedback section, got %q", s)
	}
	s := FeedbackSection("fix it", true)
	for _, want := range []string{"fix it", "Address every feedback point", "changes you made", "substantially different"} {
		if !strings.Contains(s, want) {
			t.Fatalf("feedback contract missing %q in %q", want, s)
		}
	}
}

func TestBriefSectionPlaceholders(t *testing.T) {
	s := BriefSection(domain.Brief{Title: "Only title"})
	if strings.Count(s, "Not specified") != 5 {
		t.Fatalf("expected 5 placeholders, got: %q", s)
	}
}
