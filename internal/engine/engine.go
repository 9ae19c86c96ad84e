package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"briefline/internal/config"
	"briefline/internal/domain"
	"briefline/internal/events"
	"briefline/internal/feedback"
	"briefline/internal/provider"
	"briefline/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Generator  provider.Generator
	Classifier feedback.Classifier
	Now        func() time.Time
	// OnRetry observes failed generation attempts before each retry.
	OnRetry func(err error, attempt int)
}

func New(db *sql.DB, cfg *config.Config, gen provider.Generator) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Generator:  gen,
		Classifier: feedback.KeywordClassifier{},
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// BriefCreateOptions are parameters for creating a brief.
type BriefCreateOptions struct {
	ID             string
	Title          string
	Description    string
	Objectives     string
	TargetAudience string
	Budget         string
	Timeline       string
	FlowID         string
	ActorID        string
}

func (e Engine) CreateBrief(ctx context.Context, opts BriefCreateOptions) (domain.Brief, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Brief{}, validationf("title is required")
	}
	if opts.FlowID != "" {
		if _, err := e.Repo.GetFlow(ctx, opts.FlowID); err != nil {
			return domain.Brief{}, fmt.Errorf("flow %s: %w", opts.FlowID, err)
		}
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.timestamp()
	b := domain.Brief{
		ID:             id,
		Title:          opts.Title,
		Description:    opts.Description,
		Objectives:     opts.Objectives,
		TargetAudience: opts.TargetAudience,
		Budget:         opts.Budget,
		Timeline:       opts.Timeline,
		FlowID:         optionalString(opts.FlowID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBrief(ctx, tx, b); err != nil {
		return domain.Brief{}, fmt.Errorf("insert brief: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "brief.created", b.ID, "brief", b.ID, opts.ActorID, events.EventPayload{"title": b.Title}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

// BriefUpdateOptions carries optional field updates; nil means unchanged.
type BriefUpdateOptions struct {
	Title          *string
	Description    *string
	Objectives     *string
	TargetAudience *string
	Budget         *string
	Timeline       *string
	FlowID         *string
	ActorID        string
}

func (e Engine) UpdateBrief(ctx context.Context, id string, opts BriefUpdateOptions) (domain.Brief, error) {
	b, err := e.Repo.GetBrief(ctx, id)
	if err != nil {
		return domain.Brief{}, err
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Brief{}, validationf("title cannot be empty")
		}
		b.Title = *opts.Title
	}
	if opts.Description != nil {
		b.Description = *opts.Description
	}
	if opts.Objectives != nil {
		b.Objectives = *opts.Objectives
	}
	if opts.TargetAudience != nil {
		b.TargetAudience = *opts.TargetAudience
	}
	if opts.Budget != nil {
		b.Budget = *opts.Budget
	}
	if opts.Timeline != nil {
		b.Timeline = *opts.Timeline
	}
	if opts.FlowID != nil {
		if *opts.FlowID == "" {
			b.FlowID = nil
		} else {
			if _, err := e.Repo.GetFlow(ctx, *opts.FlowID); err != nil {
				return domain.Brief{}, fmt.Errorf("flow %s: %w", *opts.FlowID, err)
			}
			b.FlowID = opts.FlowID
		}
	}
	b.UpdatedAt = e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Brief{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBrief(ctx, tx, b); err != nil {
		return domain.Brief{}, err
	}
	if err := e.Events.Append(ctx, tx, "brief.updated", b.ID, "brief", b.ID, opts.ActorID, events.EventPayload{"title": b.Title}); err != nil {
		return domain.Brief{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Brief{}, err
	}
	return b, nil
}

func (e Engine) DeleteBrief(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetBrief(ctx, id); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM briefs WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "brief.deleted", id, "brief", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// FlowStepSpec describes one agent's task within a flow being imported.
type FlowStepSpec struct {
	AgentID      string
	Requirements string
	Outputs      []string
}

// FlowCreateOptions imports a flow with its ordered stages and steps.
// Stages are phase markers; the flow's steps run at each stage.
type FlowCreateOptions struct {
	ID          string
	Name        string
	Description string
	Stages      []string
	Steps       []FlowStepSpec
	ActorID     string
}

func (e Engine) CreateFlow(ctx context.Context, opts FlowCreateOptions) (domain.Flow, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Flow{}, validationf("name is required")
	}
	if len(opts.Stages) == 0 {
		return domain.Flow{}, validationf("at least one stage is required")
	}
	if len(opts.Steps) == 0 {
		return domain.Flow{}, validationf("at least one step is required")
	}
	for i, name := range opts.Stages {
		if strings.TrimSpace(name) == "" {
			return domain.Flow{}, validationf("stage %d: name is required", i)
		}
	}
	for i, step := range opts.Steps {
		if step.AgentID == "" {
			return domain.Flow{}, validationf("step %d: agent_id is required", i)
		}
		if _, err := e.Repo.GetAgent(ctx, step.AgentID); err != nil {
			return domain.Flow{}, fmt.Errorf("agent %s: %w", step.AgentID, err)
		}
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.timestamp()
	f := domain.Flow{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Flow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFlow(ctx, tx, f); err != nil {
		return domain.Flow{}, fmt.Errorf("insert flow: %w", err)
	}
	for i, name := range opts.Stages {
		stage := domain.Stage{
			ID:         newID(),
			FlowID:     f.ID,
			Name:       name,
			OrderIndex: i,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertStage(ctx, tx, stage); err != nil {
			return domain.Flow{}, fmt.Errorf("insert stage %s: %w", name, err)
		}
	}
	for i, sp := range opts.Steps {
		step := domain.FlowStep{
			ID:           newID(),
			FlowID:       f.ID,
			AgentID:      sp.AgentID,
			OrderIndex:   i,
			Requirements: sp.Requirements,
			Outputs:      sp.Outputs,
		}
		if err := e.Repo.InsertFlowStep(ctx, tx, step); err != nil {
			return domain.Flow{}, fmt.Errorf("insert flow step: %w", err)
		}
		f.Steps = append(f.Steps, step)
	}
	if err := e.Events.Append(ctx, tx, "flow.created", "", "flow", f.ID, opts.ActorID, events.EventPayload{"name": f.Name, "stages": len(opts.Stages)}); err != nil {
		return domain.Flow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Flow{}, err
	}
	return f, nil
}

// DeleteFlow removes a flow and its stages and steps. Flows still
// attached to a brief cannot be deleted.
func (e Engine) DeleteFlow(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetFlow(ctx, id); err != nil {
		return err
	}
	attached, err := e.Repo.ListBriefs(ctx, repo.BriefFilters{FlowID: id, Limit: 1})
	if err != nil {
		return err
	}
	if len(attached) > 0 {
		return validationf("flow %s is attached to a brief", id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM flows WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "flow.deleted", "", "flow", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// AgentCreateOptions imports an agent with its ordered skills.
type AgentCreateOptions struct {
	ID          string
	Name        string
	Description string
	Temperature float64
	Skills      []SkillSpec
	ActorID     string
}

type SkillSpec struct {
	Name        string
	Description string
	Content     string
}

func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Agent{}, validationf("name is required")
	}
	if opts.Temperature < 0 || opts.Temperature > 2 {
		return domain.Agent{}, validationf("temperature must be in [0,2]")
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	a := domain.Agent{
		ID:          id,
		Name:        opts.Name,
		Description: opts.Description,
		Temperature: opts.Temperature,
		CreatedAt:   e.timestamp(),
	}
	for i, s := range opts.Skills {
		if strings.TrimSpace(s.Name) == "" {
			return domain.Agent{}, validationf("skill %d: name is required", i)
		}
		a.Skills = append(a.Skills, domain.Skill{
			ID:          newID(),
			AgentID:     a.ID,
			Name:        s.Name,
			Description: s.Description,
			Content:     s.Content,
			Position:    i,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "agent.created", "", "agent", a.ID, opts.ActorID, events.EventPayload{"name": a.Name}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// DeleteAgent removes an agent and its skills. Agents referenced by a
// flow step cannot be deleted.
func (e Engine) DeleteAgent(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetAgent(ctx, id); err != nil {
		return err
	}
	var refs int
	if err := e.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM flow_steps WHERE agent_id=?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return validationf("agent %s is referenced by a flow step", id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "agent.deleted", "", "agent", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// FeedbackCreateOptions records feedback against a brief's stage. Content is
// parsed into structured form; the parse never fails.
type FeedbackCreateOptions struct {
	ID               string
	BriefID          string
	Stage            string
	Content          string
	Rating           *int
	RequiresRevision bool
	IsPermanent      bool
	ActorID          string
}

func (e Engine) CreateFeedback(ctx context.Context, opts FeedbackCreateOptions) (domain.Feedback, error) {
	if strings.TrimSpace(opts.Content) == "" {
		return domain.Feedback{}, validationf("content is required")
	}
	if opts.Rating != nil && (*opts.Rating < 1 || *opts.Rating > 5) {
		return domain.Feedback{}, validationf("rating must be in [1,5]")
	}
	b, err := e.Repo.GetBrief(ctx, opts.BriefID)
	if err != nil {
		return domain.Feedback{}, err
	}
	stage, err := e.ResolveStage(ctx, b, opts.Stage)
	if err != nil {
		return domain.Feedback{}, err
	}
	structured := feedback.Parse(opts.Content)
	structuredJSON, err := json.Marshal(structured)
	if err != nil {
		return domain.Feedback{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	sj := string(structuredJSON)
	f := domain.Feedback{
		ID:               id,
		BriefID:          b.ID,
		StageID:          stage.ID,
		Content:          opts.Content,
		StructuredJSON:   &sj,
		Rating:           opts.Rating,
		RequiresRevision: opts.RequiresRevision,
		IsPermanent:      opts.IsPermanent,
		CreatedAt:        e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Feedback{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFeedback(ctx, tx, f); err != nil {
		return domain.Feedback{}, fmt.Errorf("insert feedback: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "feedback.created", b.ID, "feedback", f.ID, opts.ActorID, events.EventPayload{
		"stage_id":          stage.ID,
		"requires_revision": f.RequiresRevision,
	}); err != nil {
		return domain.Feedback{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Feedback{}, err
	}
	return f, nil
}

// IndexFeedback embeds unprocessed feedback for retrieval and flips
// processed_for_rag. Returns the number of records indexed.
func (e Engine) IndexFeedback(ctx context.Context, limit int, actorID string) (int, error) {
	if e.Generator == nil {
		return 0, validationf("no generation provider configured")
	}
	dims := 0
	if e.Config != nil {
		dims = e.Config.Provider.EmbedDimensions
	}
	pending, err := e.Repo.ListUnindexedFeedback(ctx, limit)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, f := range pending {
		vec, err := e.Generator.Embed(ctx, f.Content, dims)
		if err != nil {
			return indexed, fmt.Errorf("embed feedback %s: %w", f.ID, err)
		}
		vecJSON, err := json.Marshal(vec)
		if err != nil {
			return indexed, err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return indexed, err
		}
		emb := domain.FeedbackEmbedding{
			FeedbackID: f.ID,
			VectorJSON: string(vecJSON),
			Dimensions: len(vec),
			CreatedAt:  e.timestamp(),
		}
		if err := e.Repo.UpsertFeedbackEmbedding(ctx, tx, emb); err != nil {
			tx.Rollback()
			return indexed, err
		}
		if err := e.Repo.MarkFeedbackProcessed(ctx, tx, f.ID); err != nil {
			tx.Rollback()
			return indexed, err
		}
		if err := e.Events.Append(ctx, tx, "feedback.indexed", f.BriefID, "feedback", f.ID, actorID, events.EventPayload{"dimensions": emb.Dimensions}); err != nil {
			tx.Rollback()
			return indexed, err
		}
		if err := tx.Commit(); err != nil {
			return indexed, err
		}
		indexed++
	}
	return indexed, nil
}

// Speak synthesizes audio for an output's normalized response text.
func (e Engine) Speak(ctx context.Context, outputID string) ([]byte, error) {
	if e.Generator == nil {
		return nil, validationf("no generation provider configured")
	}
	o, err := e.Repo.GetOutput(ctx, outputID)
	if err != nil {
		return nil, err
	}
	text := domain.Normalize(o.ContentJSON).Response
	if strings.TrimSpace(text) == "" {
		return nil, validationf("output %s has no speakable content", outputID)
	}
	voice := "alloy"
	if e.Config != nil && e.Config.Provider.Voice != "" {
		voice = e.Config.Provider.Voice
	}
	return e.Generator.SynthesizeSpeech(ctx, text, voice)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
