package engine_test

import (
	"errors"
	"testing"

	"briefline/internal/engine"
	"briefline/internal/repo"
)

func TestResolveStageByCanonicalID(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy")
	b := env.seedBrief(t, f.ID)
	stages, err := env.Engine.Repo.ListStages(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}

	got, err := env.Engine.ResolveStage(env.Ctx, b, stages[1].ID)
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if got.ID != stages[1].ID || got.Name != "Copy" {
		t.Fatalf("resolved wrong stage: %+v", got)
	}
}

func TestResolveStageByName(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy Review")
	b := env.seedBrief(t, f.ID)

	// case-insensitive exact match
	got, err := env.Engine.ResolveStage(env.Ctx, b, "concept")
	if err != nil || got.Name != "Concept" {
		t.Fatalf("exact match failed: %+v %v", got, err)
	}
	// prefix match
	got, err = env.Engine.ResolveStage(env.Ctx, b, "copy")
	if err != nil || got.Name != "Copy Review" {
		t.Fatalf("prefix match failed: %+v %v", got, err)
	}
}

func TestResolveStagePrefersExactOverPrefix(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Copy", "Copy Review")
	b := env.seedBrief(t, f.ID)

	got, err := env.Engine.ResolveStage(env.Ctx, b, "COPY")
	if err != nil || got.Name != "Copy" {
		t.Fatalf("exact match should win over prefix: %+v %v", got, err)
	}
}

func TestResolveStageAmbiguousPrefixIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Review Copy", "Review Art")
	b := env.seedBrief(t, f.ID)

	got, err := env.Engine.ResolveStage(env.Ctx, b, "review")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Ties break by name ascending.
	if got.Name != "Review Art" {
		t.Fatalf("expected first by name, got %q", got.Name)
	}
}

func TestResolveStageNotFound(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)

	_, err := env.Engine.ResolveStage(env.Ctx, b, "delivery")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveStageEmptyRefDefaults(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy")
	b := env.seedBrief(t, f.ID)

	// Before any processing the default is the flow's first stage.
	got, err := env.Engine.ResolveStage(env.Ctx, b, "")
	if err != nil || got.Name != "Concept" {
		t.Fatalf("default stage: %+v %v", got, err)
	}

	// After processing, the brief's current stage wins.
	if _, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Copy", ActorID: "tester"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	b, err = env.Engine.Repo.GetBrief(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get brief: %v", err)
	}
	got, err = env.Engine.ResolveStage(env.Ctx, b, "")
	if err != nil || got.Name != "Copy" {
		t.Fatalf("current stage default: %+v %v", got, err)
	}
}
