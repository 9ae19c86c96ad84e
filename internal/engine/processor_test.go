package engine_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"briefline/internal/domain"
	"briefline/internal/engine"
	"briefline/internal/provider"
	"briefline/internal/repo"
)

func TestProcessFirstStage(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy")
	b := env.seedBrief(t, f.ID)

	res, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := domain.Normalize(res.Output.ContentJSON).Response; !strings.Contains(got, provider.StubResponse) {
		t.Fatalf("output content %q does not include stub response", got)
	}
	if len(res.Conversations) != 1 || !res.Conversations[0].Saved {
		t.Fatalf("unexpected conversation batch: %+v", res.Conversations)
	}
	if env.Stub.Calls != 1 {
		t.Fatalf("generator called %d times, want 1", env.Stub.Calls)
	}
	if strings.Contains(env.Stub.Prompts[0], "## Previous Stage Outputs") {
		t.Fatalf("first stage prompt must not carry previous outputs:\n%s", env.Stub.Prompts[0])
	}

	outs, err := env.Engine.Repo.ListOutputs(env.Ctx, repo.OutputFilters{BriefID: b.ID})
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("got %d outputs, want exactly 1", len(outs))
	}
	got, err := env.Engine.Repo.GetBrief(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get brief: %v", err)
	}
	if got.CurrentStageID == nil || *got.CurrentStageID != res.Output.StageID {
		t.Fatalf("brief stage marker not advanced: %+v", got.CurrentStageID)
	}
}

func TestProcessSecondStageCarriesPreviousOutput(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept", "Copy")
	b := env.seedBrief(t, f.ID)

	if _, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"}); err != nil {
		t.Fatalf("process concept: %v", err)
	}
	if _, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Copy", ActorID: "tester"}); err != nil {
		t.Fatalf("process copy: %v", err)
	}
	last := env.Stub.Prompts[len(env.Stub.Prompts)-1]
	if !strings.Contains(last, "## Previous Stage Outputs") || !strings.Contains(last, "### Concept") {
		t.Fatalf("second stage prompt missing previous output section:\n%s", last)
	}
	if !strings.Contains(last, provider.StubResponse) {
		t.Fatalf("previous output content not embedded:\n%s", last)
	}
}

func TestProcessFailFastLeavesNoOutput(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)
	env.Stub.Err = &provider.Error{Status: 429, Message: "rate limited"}

	_, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Status != 429 {
		t.Fatalf("expected provider error with status, got %v", err)
	}

	outs, err := env.Engine.Repo.ListOutputs(env.Ctx, repo.OutputFilters{BriefID: b.ID})
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	if len(outs) != 0 {
		t.Fatalf("failed run must not persist outputs, got %d", len(outs))
	}
	got, err := env.Engine.Repo.GetBrief(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get brief: %v", err)
	}
	if got.CurrentStageID != nil {
		t.Fatalf("failed run must not advance the brief")
	}
}

func TestProcessRetriesBeforeFailing(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)
	env.Stub.Err = &provider.Error{Status: 503, Message: "unavailable"}
	var observed int
	env.Engine.OnRetry = func(err error, attempt int) { observed++ }

	_, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected failure after retries")
	}
	if env.Stub.Calls != 3 {
		t.Fatalf("generator called %d times, want 3", env.Stub.Calls)
	}
	if observed != 2 {
		t.Fatalf("retry observer fired %d times, want 2", observed)
	}
}

func TestReprocessAppendsLinkedOutput(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)

	first, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	fb, err := env.Engine.CreateFeedback(env.Ctx, engine.FeedbackCreateOptions{
		BriefID: b.ID, Stage: "Concept",
		Content: "fix the headline, improve the call to action",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create feedback: %v", err)
	}

	second, err := env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, FeedbackID: fb.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if !second.Output.IsReprocessed {
		t.Fatalf("output not flagged as reprocessed")
	}
	if second.Output.FeedbackID == nil || *second.Output.FeedbackID != fb.ID {
		t.Fatalf("feedback link missing: %+v", second.Output)
	}
	if second.Output.OriginalOutputID == nil || *second.Output.OriginalOutputID != first.Output.ID {
		t.Fatalf("original output link missing: %+v", second.Output)
	}
	last := env.Stub.Prompts[len(env.Stub.Prompts)-1]
	if !strings.Contains(last, "## Feedback To Address") {
		t.Fatalf("reprocessing prompt missing feedback section:\n%s", last)
	}
	if !strings.Contains(last, "[correction]") || !strings.Contains(last, "[improvement]") {
		t.Fatalf("classified points missing from prompt:\n%s", last)
	}

	outs, err := env.Engine.Repo.ListOutputs(env.Ctx, repo.OutputFilters{BriefID: b.ID})
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("history not append-only, got %d outputs", len(outs))
	}
}

// Two concurrent runs for the same (brief, stage) are not serialized. Both
// persist an output; absence of locking is documented baseline behavior.
func TestConcurrentProcessRunsBothPersist(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "copywriter")
	f := env.seedFlow(t, a.ID, "Concept")
	b := env.seedBrief(t, f.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Process(env.Ctx, engine.ProcessOptions{BriefID: b.ID, Stage: "Concept", ActorID: "tester"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	outs, err := env.Engine.Repo.ListOutputs(env.Ctx, repo.OutputFilters{BriefID: b.ID})
	if err != nil {
		t.Fatalf("list outputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("expected both runs to persist, got %d outputs", len(outs))
	}
}
