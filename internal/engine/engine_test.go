package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/migrate"
	"briefline/internal/provider"
)

type testEnv struct {
	Engine engine.Engine
	Stub   *provider.Stub
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	cfg.Retry.InitialDelayMS = 1
	cfg.Retry.MaxDelayMS = 2
	stub := &provider.Stub{}
	eng := engine.New(conn, cfg, stub)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	eng.Now = func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	}
	return &testEnv{Engine: eng, Stub: stub, Ctx: context.Background()}
}

func (env *testEnv) seedAgent(t *testing.T, name string) domain.Agent {
	t.Helper()
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		Name:        name,
		Description: "senior " + name,
		Temperature: 0.7,
		Skills:      []engine.SkillSpec{{Name: "craft", Content: "produces polished agency deliverables"}},
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return a
}

func (env *testEnv) seedFlow(t *testing.T, agentID string, stages ...string) domain.Flow {
	t.Helper()
	f, err := env.Engine.CreateFlow(env.Ctx, engine.FlowCreateOptions{
		Name:   "campaign",
		Stages: stages,
		Steps: []engine.FlowStepSpec{{
			AgentID:      agentID,
			Requirements: "deliver the stage artifact",
			Outputs:      []string{"Summary", "Details"},
		}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}
	return f
}

func (env *testEnv) seedBrief(t *testing.T, flowID string) domain.Brief {
	t.Helper()
	b, err := env.Engine.CreateBrief(env.Ctx, engine.BriefCreateOptions{
		Title:          "Spring launch",
		Description:    "Launch campaign for the spring line",
		Objectives:     "Awareness and signups",
		TargetAudience: "Urban professionals",
		FlowID:         flowID,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create brief: %v", err)
	}
	return b
}

func TestCreateAndUpdateBrief(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBrief(t, "")
	if b.Budget != "" || b.Timeline != "" {
		t.Fatalf("unexpected defaults: %+v", b)
	}

	title := "Summer launch"
	budget := "50k"
	updated, err := env.Engine.UpdateBrief(env.Ctx, b.ID, engine.BriefUpdateOptions{
		Title: &title, Budget: &budget, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update brief: %v", err)
	}
	if updated.Title != "Summer launch" || updated.Budget != "50k" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Description != b.Description {
		t.Fatalf("untouched field changed: %q", updated.Description)
	}
	if updated.UpdatedAt == b.UpdatedAt {
		t.Fatalf("updated_at not advanced")
	}

	if err := env.Engine.DeleteBrief(env.Ctx, b.ID, "tester"); err != nil {
		t.Fatalf("delete brief: %v", err)
	}
	if _, err := env.Engine.Repo.GetBrief(env.Ctx, b.ID); err == nil {
		t.Fatalf("brief still present after delete")
	}
}

func TestCreateBriefRequiresTitle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateBrief(env.Ctx, engine.BriefCreateOptions{ActorID: "tester"})
	var verr engine.ValidationError
	if err == nil || !strings.Contains(err.Error(), "title") {
		t.Fatalf("expected title validation, got %v", err)
	}
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestCreateFlowValidatesAgents(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateFlow(env.Ctx, engine.FlowCreateOptions{
		Name:    "campaign",
		Stages:  []string{"Concept"},
		Steps:   []engine.FlowStepSpec{{AgentID: "missing-agent"}},
		ActorID: "tester",
	})
	if err == nil {
		t.Fatalf("expected missing agent error")
	}
}

func TestCreateFlowPersistsStagesAndSteps(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy", "Review")

	stages, err := env.Engine.Repo.ListStages(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("list stages: %v", err)
	}
	if len(stages) != 3 || stages[0].Name != "Concept" || stages[2].OrderIndex != 2 {
		t.Fatalf("unexpected stages: %+v", stages)
	}
	loaded, err := env.Engine.Repo.GetFlow(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if len(loaded.Steps) != 1 || loaded.Steps[0].AgentID != a.ID {
		t.Fatalf("unexpected steps: %+v", loaded.Steps)
	}
	if len(loaded.Steps[0].Outputs) != 2 {
		t.Fatalf("outputs not round-tripped: %+v", loaded.Steps[0].Outputs)
	}
}

func TestCreateFeedbackParsesContent(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)

	fb, err := env.Engine.CreateFeedback(env.Ctx, engine.FeedbackCreateOptions{
		BriefID: b.ID,
		Stage:   "Concept",
		Content: "fix the headline, improve the call to action",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}
	if fb.StructuredJSON == nil {
		t.Fatalf("structured form missing")
	}
	if !strings.Contains(*fb.StructuredJSON, "general_feedback") {
		t.Fatalf("unexpected structured form: %s", *fb.StructuredJSON)
	}
	got, err := env.Engine.Repo.GetFeedback(env.Ctx, fb.ID)
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if got.ProcessedForRAG {
		t.Fatalf("new feedback should be unindexed")
	}
}

func TestIndexFeedback(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)
	fb, err := env.Engine.CreateFeedback(env.Ctx, engine.FeedbackCreateOptions{
		BriefID: b.ID, Stage: "Concept", Content: "needs a stronger hook", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}

	n, err := env.Engine.IndexFeedback(env.Ctx, 10, "tester")
	if err != nil {
		t.Fatalf("index feedback: %v", err)
	}
	if n != 1 {
		t.Fatalf("indexed %d, want 1", n)
	}
	emb, err := env.Engine.Repo.GetFeedbackEmbedding(env.Ctx, fb.ID)
	if err != nil {
		t.Fatalf("get embedding: %v", err)
	}
	if emb.Dimensions == 0 {
		t.Fatalf("embedding has no dimensions")
	}
	pending, err := env.Engine.Repo.ListUnindexedFeedback(env.Ctx, 10)
	if err != nil {
		t.Fatalf("list unindexed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("feedback still pending: %+v", pending)
	}
}

func TestSpeakUsesNormalizedOutput(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)
	res, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	audio, err := env.Engine.Speak(env.Ctx, res.Output.ID)
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !strings.Contains(string(audio), provider.StubResponse) {
		t.Fatalf("audio does not carry response text: %q", audio)
	}
}

func TestDeleteFlowBlockedWhileAttached(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)

	err := env.Engine.DeleteFlow(env.Ctx, f.ID, "tester")
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := env.Engine.DeleteBrief(env.Ctx, b.ID, "tester"); err != nil {
		t.Fatalf("delete brief: %v", err)
	}
	if err := env.Engine.DeleteFlow(env.Ctx, f.ID, "tester"); err != nil {
		t.Fatalf("delete flow after detach: %v", err)
	}
}

func TestDeleteAgentBlockedWhileReferenced(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	env.seedFlow(t, a.ID, "Concept")

	err := env.Engine.DeleteAgent(env.Ctx, a.ID, "tester")
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	spare := env.seedAgent(t, "strategist")
	if err := env.Engine.DeleteAgent(env.Ctx, spare.ID, "tester"); err != nil {
		t.Fatalf("delete unreferenced agent: %v", err)
	}
}
