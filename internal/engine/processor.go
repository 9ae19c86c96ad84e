package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/feedback"
	"briefline/internal/prompt"
	"briefline/internal/repo"
	"briefline/internal/retry"
)

// ProcessOptions parameterizes one stage-processing attempt. Stage accepts a
// canonical ID or a name; FeedbackID switches the run into reprocessing mode.
type ProcessOptions struct {
	BriefID    string
	Stage      string
	FeedbackID string
	ActorID    string
}

// ConversationResult reports one best-effort conversation insert.
type ConversationResult struct {
	Conversation domain.Conversation
	Saved        bool
	FailReason   string
}

// ProcessResult is the outcome of a completed stage run: exactly one output
// plus the per-step conversation batch.
type ProcessResult struct {
	Output        domain.Output
	Conversations []ConversationResult
}

type stepPlan struct {
	Step   domain.FlowStep
	Agent  domain.Agent
	System string
	User   string
}

// Process runs one stage of a brief's flow: validate, build a prompt per flow
// step, generate at each agent's temperature with bounded retries, then
// persist one aggregated output and best-effort conversations. Generation is
// fail-fast: the first step to exhaust its retries aborts the run with no
// output written. Concurrent runs for the same (brief, stage) are not
// serialized; both append competing outputs.
func (e Engine) Process(ctx context.Context, opts ProcessOptions) (ProcessResult, error) {
	if e.Generator == nil {
		return ProcessResult{}, validationf("no generation provider configured")
	}

	// Validating
	b, err := e.Repo.GetBrief(ctx, opts.BriefID)
	if err != nil {
		return ProcessResult{}, err
	}
	var fb domain.Feedback
	reprocessing := opts.FeedbackID != ""
	if reprocessing {
		fb, err = e.Repo.GetFeedback(ctx, opts.FeedbackID)
		if err != nil {
			return ProcessResult{}, err
		}
		if fb.BriefID != b.ID {
			return ProcessResult{}, validationf("feedback %s does not belong to brief %s", fb.ID, b.ID)
		}
	}
	stageRef := opts.Stage
	if reprocessing && stageRef == "" {
		stageRef = fb.StageID
	}
	stage, err := e.ResolveStage(ctx, b, stageRef)
	if err != nil {
		return ProcessResult{}, err
	}
	flow, err := e.Repo.GetFlow(ctx, stage.FlowID)
	if err != nil {
		return ProcessResult{}, err
	}
	if len(flow.Steps) == 0 {
		return ProcessResult{}, validationf("flow %s has no steps", flow.ID)
	}
	agents := make(map[string]domain.Agent, len(flow.Steps))
	for _, step := range flow.Steps {
		if _, ok := agents[step.AgentID]; ok {
			continue
		}
		a, err := e.Repo.GetAgent(ctx, step.AgentID)
		if errors.Is(err, repo.ErrNotFound) {
			return ProcessResult{}, validationf("flow step %s references missing agent %s", step.ID, step.AgentID)
		}
		if err != nil {
			return ProcessResult{}, err
		}
		agents[step.AgentID] = a
	}

	// Prompting
	var originalOutput *domain.Output
	if reprocessing {
		prior, err := e.Repo.LatestOutput(ctx, b.ID, stage.ID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return ProcessResult{}, err
		}
		if err == nil {
			originalOutput = &prior
		}
	}
	previous, isFirst, err := e.previousOutputs(ctx, b, stage)
	if err != nil {
		return ProcessResult{}, err
	}
	feedbackText := ""
	if reprocessing {
		feedbackText = e.feedbackContext(fb)
	}
	plans := make([]stepPlan, 0, len(flow.Steps))
	for _, step := range flow.Steps {
		agent := agents[step.AgentID]
		plans = append(plans, stepPlan{
			Step:   step,
			Agent:  agent,
			System: prompt.SystemPrompt(agent),
			User: prompt.Assemble(prompt.Params{
				Agent:           agent,
				Brief:           b,
				Step:            step,
				PreviousOutputs: previous,
				IsFirstStage:    isFirst,
				FeedbackText:    feedbackText,
				IsReprocessing:  reprocessing,
			}),
		})
	}

	// Generating
	maxTokens := 4096
	if e.Config != nil && e.Config.Provider.MaxTokens > 0 {
		maxTokens = e.Config.Provider.MaxTokens
	}
	opts2 := e.retryOptions()
	results := make([]domain.StepOutput, 0, len(plans))
	for _, p := range plans {
		text, err := retry.Do(ctx, opts2, func(ctx context.Context) (string, error) {
			return e.Generator.GenerateText(ctx, p.System, p.User, p.Agent.Temperature, maxTokens)
		})
		if err != nil {
			return ProcessResult{}, err
		}
		results = append(results, domain.StepOutput{
			FlowStepID: p.Step.ID,
			AgentID:    p.Agent.ID,
			AgentName:  p.Agent.Name,
			OrderIndex: p.Step.OrderIndex,
			Content:    text,
		})
	}

	// Persisting
	contentJSON, err := domain.MarshalContent(domain.AggregatedOutputs{Outputs: results})
	if err != nil {
		return ProcessResult{}, err
	}
	now := e.timestamp()
	out := domain.Output{
		ID:          newID(),
		BriefID:     b.ID,
		StageID:     stage.ID,
		ContentJSON: contentJSON,
		CreatedAt:   now,
	}
	if reprocessing {
		out.IsReprocessed = true
		out.FeedbackID = &fb.ID
		if originalOutput != nil {
			out.OriginalOutputID = &originalOutput.ID
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProcessResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOutput(ctx, tx, out); err != nil {
		return ProcessResult{}, fmt.Errorf("insert output: %w", err)
	}
	b.CurrentStageID = &stage.ID
	b.UpdatedAt = now
	if err := e.Repo.UpdateBrief(ctx, tx, b); err != nil {
		return ProcessResult{}, fmt.Errorf("advance brief stage: %w", err)
	}
	evtType := "stage.processed"
	if reprocessing {
		evtType = "stage.reprocessed"
	}
	if err := e.Events.Append(ctx, tx, evtType, b.ID, "output", out.ID, opts.ActorID, events.EventPayload{
		"stage_id": stage.ID,
		"steps":    len(results),
	}); err != nil {
		return ProcessResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{Output: out}
	for _, r := range results {
		c := domain.Conversation{
			ID:         newID(),
			BriefID:    b.ID,
			StageID:    stage.ID,
			AgentID:    r.AgentID,
			FlowStepID: r.FlowStepID,
			Content:    r.Content,
			OutputType: "text",
			CreatedAt:  now,
		}
		if reprocessing {
			c.FeedbackID = &fb.ID
		}
		cr := ConversationResult{Conversation: c, Saved: true}
		if err := e.Repo.InsertConversation(ctx, c); err != nil {
			cr.Saved = false
			cr.FailReason = err.Error()
		}
		res.Conversations = append(res.Conversations, cr)
	}
	return res, nil
}

// previousOutputs collects the latest output of the preceding stage, if any.
func (e Engine) previousOutputs(ctx context.Context, b domain.Brief, stage domain.Stage) ([]prompt.PreviousOutput, bool, error) {
	prev, err := e.Repo.PrecedingStage(ctx, stage)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	out, err := e.Repo.LatestOutput(ctx, b.ID, prev.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []prompt.PreviousOutput{{
		StageName: prev.Name,
		Content:   domain.Normalize(out.ContentJSON).Response,
	}}, false, nil
}

// feedbackContext renders feedback for the reprocessing prompt: the
// structured record when present, plus classified points for emphasis.
func (e Engine) feedbackContext(fb domain.Feedback) string {
	text := fb.Content
	if fb.StructuredJSON != nil {
		text = feedback.Format(feedback.Parse(*fb.StructuredJSON))
	}
	points := feedback.ExtractPoints(fb.Content, e.Classifier)
	if len(points) == 0 {
		return text
	}
	out := text + "\n\nKey points:"
	for _, p := range points {
		out += fmt.Sprintf("\n- [%s] %s", p.Category, p.Text)
	}
	return out
}

func (e Engine) retryOptions() retry.Options {
	var o retry.Options
	if e.Config != nil {
		o.MaxRetries = e.Config.Retry.MaxRetries
		o.InitialDelay = time.Duration(e.Config.Retry.InitialDelayMS) * time.Millisecond
		o.MaxDelay = time.Duration(e.Config.Retry.MaxDelayMS) * time.Millisecond
		o.BackoffMultiplier = e.Config.Retry.BackoffMultiplier
	}
	o.OnRetry = e.OnRetry
	return o
}
