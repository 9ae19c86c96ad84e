package feedback

import (
	"reflect"
	"testing"
)

func TestParseStructuredJSON(t *testing.T) {
	in := `{
		"general_feedback": "solid draft",
		"specific_changes": [{"section": "headline", "type": "modify", "content": "shorter"}],
		"priority_level": "high",
		"target_improvements": ["tone"],
		"revision_notes": "keep the tagline"
	}`
	s := Parse(in)
	if s.GeneralFeedback != "solid draft" || s.PriorityLevel != PriorityHigh {
		t.Fatalf("unexpected parse result: %+v", s)
	}
	if len(s.SpecificChanges) != 1 || s.SpecificChanges[0].Type != ChangeModify {
		t.Fatalf("unexpected specific changes: %+v", s.SpecificChanges)
	}
}

func TestParseInvalidJSONFallsBack(t *testing.T) {
	in := `{"specific_changes": [{"section": "x", "type": "explode", "content": "y"}]}`
	s := Parse(in)
	if s.GeneralFeedback != in {
		t.Fatalf("expected free-form fallback, got %+v", s)
	}
	if s.PriorityLevel != PriorityMedium {
		t.Fatalf("expected medium default priority, got %s", s.PriorityLevel)
	}
}

func TestParseFreeText(t *testing.T) {
	s := Parse("make the colors warmer")
	if s.GeneralFeedback != "make the colors warmer" {
		t.Fatalf("unexpected general feedback %q", s.GeneralFeedback)
	}
	if len(s.SpecificChanges) != 0 || len(s.TargetImprovements) != 0 {
		t.Fatalf("expected empty collections: %+v", s)
	}
	if s.PriorityLevel != PriorityMedium {
		t.Fatalf("expected medium priority, got %s", s.PriorityLevel)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	orig := Structured{
		GeneralFeedback: "good start",
		SpecificChanges: []SpecificChange{
			{Section: "headline", Type: ChangeModify, Content: "make it punchier"},
			{Section: "footer", Type: ChangeRemove, Content: "drop the legalese"},
		},
		PriorityLevel:      PriorityHigh,
		TargetImprovements: []string{"clarity", "tone"},
		RevisionNotes:      "second pass",
	}
	got := Parse(Format(orig))
	if !reflect.DeepEqual(got, orig) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", got, orig)
	}
}

func TestFormatOmitsEmptySections(t *testing.T) {
	out := Format(Structured{GeneralFeedback: "only this", PriorityLevel: PriorityLow})
	want := "General Feedback:\nonly this\n\nPriority: low"
	if out != want {
		t.Fatalf("unexpected format output %q", out)
	}
}

func TestKeywordClassification(t *testing.T) {
	points := ExtractPoints("fix the headline, improve the call to action", KeywordClassifier{})
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d: %+v", len(points), points)
	}
	if points[0].Category != CategoryCorrection {
		t.Fatalf("expected correction for %q, got %s", points[0].Text, points[0].Category)
	}
	if points[1].Category != CategoryImprovement {
		t.Fatalf("expected improvement for %q, got %s", points[1].Text, points[1].Category)
	}
}

func TestClassifierFallsBackToRevision(t *testing.T) {
	if c := (KeywordClassifier{}).Classify("rethink the layout"); c != CategoryRevision {
		t.Fatalf("expected revision fallback, got %s", c)
	}
}
