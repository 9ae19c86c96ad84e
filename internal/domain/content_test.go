package domain

import "testing"

func TestNormalizePlainString(t *testing.T) {
	n := Normalize("hello world")
	if n.Response != "hello world" {
		t.Fatalf("unexpected response %q", n.Response)
	}
}

func TestNormalizeResponseObject(t *testing.T) {
	n := Normalize(`{"response":"already canonical"}`)
	if n.Response != "already canonical" {
		t.Fatalf("unexpected response %q", n.Response)
	}
}

func TestNormalizeAggregatedOutputs(t *testing.T) {
	n := Normalize(AggregatedOutputs{Outputs: []StepOutput{
		{OrderIndex: 0, Content: "first"},
		{OrderIndex: 1, Content: "second"},
	}})
	if n.Response != "first\n\nsecond" {
		t.Fatalf("unexpected response %q", n.Response)
	}
}

func TestNormalizeOutputsJSON(t *testing.T) {
	n := Normalize(`{"outputs":[{"content":"a"},{"content":"b"}]}`)
	if n.Response != "a\n\nb" {
		t.Fatalf("unexpected response %q", n.Response)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []any{
		"free text",
		`{"response":"canonical"}`,
		`{"outputs":[{"content":"x"},{"content":"y"}]}`,
		AggregatedOutputs{Outputs: []StepOutput{{Content: "z"}}},
	}
	for _, in := range inputs {
		first := Normalize(in)
		second := Normalize(first.Response)
		if second.Response != first.Response {
			t.Fatalf("normalize not idempotent for %v: %q != %q", in, second.Response, first.Response)
		}
	}
}

func TestNormalizeNonStringFallback(t *testing.T) {
	if n := Normalize(42); n.Response != "42" {
		t.Fatalf("unexpected response %q", n.Response)
	}
	if n := Normalize(nil); n.Response != "" {
		t.Fatalf("unexpected response %q", n.Response)
	}
}
