package server

import (
	"encoding/json"

	"briefline/internal/domain"
	"briefline/internal/engine"
)

type CreateBriefRequest struct {
	ID             *string `json:"id,omitempty"`
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	Objectives     *string `json:"objectives,omitempty"`
	TargetAudience *string `json:"target_audience,omitempty"`
	Budget         *string `json:"budget,omitempty"`
	Timeline       *string `json:"timeline,omitempty"`
	FlowID         *string `json:"flow_id,omitempty"`
}

type UpdateBriefRequest struct {
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	Objectives     *string `json:"objectives,omitempty"`
	TargetAudience *string `json:"target_audience,omitempty"`
	Budget         *string `json:"budget,omitempty"`
	Timeline       *string `json:"timeline,omitempty"`
	FlowID         *string `json:"flow_id,omitempty"`
}

type BriefResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Objectives     string  `json:"objectives,omitempty"`
	TargetAudience string  `json:"target_audience,omitempty"`
	Budget         string  `json:"budget,omitempty"`
	Timeline       string  `json:"timeline,omitempty"`
	FlowID         *string `json:"flow_id,omitempty"`
	CurrentStageID *string `json:"current_stage_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func briefResponse(b domain.Brief) BriefResponse {
	return BriefResponse{
		ID:             b.ID,
		Title:          b.Title,
		Description:    b.Description,
		Objectives:     b.Objectives,
		TargetAudience: b.TargetAudience,
		Budget:         b.Budget,
		Timeline:       b.Timeline,
		FlowID:         b.FlowID,
		CurrentStageID: b.CurrentStageID,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func mapBriefs(items []domain.Brief) []BriefResponse {
	res := make([]BriefResponse, 0, len(items))
	for _, b := range items {
		res = append(res, briefResponse(b))
	}
	return res
}

type paginatedBriefs struct {
	Items      []BriefResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type FlowStepRequest struct {
	AgentID      string   `json:"agent_id"`
	Requirements *string  `json:"requirements,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
}

type CreateFlowRequest struct {
	ID          *string           `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Stages      []string          `json:"stages"`
	Steps       []FlowStepRequest `json:"steps"`
}

type FlowStepResponse struct {
	ID           string   `json:"id"`
	AgentID      string   `json:"agent_id"`
	OrderIndex   int      `json:"order_index"`
	Requirements string   `json:"requirements,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
}

type FlowResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Steps       []FlowStepResponse `json:"steps,omitempty"`
	Stages      []StageResponse    `json:"stages,omitempty"`
	CreatedAt   string             `json:"created_at"`
}

func flowResponse(f domain.Flow, stages []domain.Stage) FlowResponse {
	res := FlowResponse{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		CreatedAt:   f.CreatedAt,
	}
	for _, s := range f.Steps {
		res.Steps = append(res.Steps, FlowStepResponse{
			ID:           s.ID,
			AgentID:      s.AgentID,
			OrderIndex:   s.OrderIndex,
			Requirements: s.Requirements,
			Outputs:      s.Outputs,
		})
	}
	for _, s := range stages {
		res.Stages = append(res.Stages, stageResponse(s))
	}
	return res
}

type StageResponse struct {
	ID         string `json:"id"`
	FlowID     string `json:"flow_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
	CreatedAt  string `json:"created_at"`
}

func stageResponse(s domain.Stage) StageResponse {
	return StageResponse{ID: s.ID, FlowID: s.FlowID, Name: s.Name, OrderIndex: s.OrderIndex, CreatedAt: s.CreatedAt}
}

type SkillRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Content     *string `json:"content,omitempty"`
}

type CreateAgentRequest struct {
	ID          *string        `json:"id,omitempty"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Skills      []SkillRequest `json:"skills,omitempty"`
}

type SkillResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Position    int    `json:"position"`
}

type AgentResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Temperature float64         `json:"temperature"`
	Skills      []SkillResponse `json:"skills,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

func agentResponse(a domain.Agent) AgentResponse {
	res := AgentResponse{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Temperature: a.Temperature,
		CreatedAt:   a.CreatedAt,
	}
	for _, s := range a.Skills {
		res.Skills = append(res.Skills, SkillResponse{
			Name:        s.Name,
			Description: s.Description,
			Content:     s.Content,
			Position:    s.Position,
		})
	}
	return res
}

type OutputResponse struct {
	ID               string          `json:"id"`
	BriefID          string          `json:"brief_id"`
	StageID          string          `json:"stage_id"`
	Content          json.RawMessage `json:"content"`
	Response         string          `json:"response"`
	FeedbackID       *string         `json:"feedback_id,omitempty"`
	IsReprocessed    bool            `json:"is_reprocessed"`
	OriginalOutputID *string         `json:"original_output_id,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

func outputResponse(o domain.Output) OutputResponse {
	content := json.RawMessage(o.ContentJSON)
	if !json.Valid(content) {
		quoted, _ := json.Marshal(o.ContentJSON)
		content = quoted
	}
	return OutputResponse{
		ID:               o.ID,
		BriefID:          o.BriefID,
		StageID:          o.StageID,
		Content:          content,
		Response:         domain.Normalize(o.ContentJSON).Response,
		FeedbackID:       o.FeedbackID,
		IsReprocessed:    o.IsReprocessed,
		OriginalOutputID: o.OriginalOutputID,
		CreatedAt:        o.CreatedAt,
	}
}

type ConversationResponse struct {
	ID         string  `json:"id"`
	BriefID    string  `json:"brief_id"`
	StageID    string  `json:"stage_id"`
	AgentID    string  `json:"agent_id"`
	FlowStepID string  `json:"flow_step_id"`
	Content    string  `json:"content"`
	OutputType string  `json:"output_type,omitempty"`
	FeedbackID *string `json:"feedback_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func conversationResponse(c domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:         c.ID,
		BriefID:    c.BriefID,
		StageID:    c.StageID,
		AgentID:    c.AgentID,
		FlowStepID: c.FlowStepID,
		Content:    c.Content,
		OutputType: c.OutputType,
		FeedbackID: c.FeedbackID,
		CreatedAt:  c.CreatedAt,
	}
}

type CreateFeedbackRequest struct {
	Stage            string `json:"stage,omitempty"`
	Content          string `json:"content"`
	Rating           *int   `json:"rating,omitempty"`
	RequiresRevision bool   `json:"requires_revision,omitempty"`
	IsPermanent      bool   `json:"is_permanent,omitempty"`
}

type FeedbackResponse struct {
	ID               string          `json:"id"`
	BriefID          string          `json:"brief_id"`
	StageID          string          `json:"stage_id"`
	Content          string          `json:"content"`
	Structured       json.RawMessage `json:"structured,omitempty"`
	Rating           *int            `json:"rating,omitempty"`
	RequiresRevision bool            `json:"requires_revision"`
	IsPermanent      bool            `json:"is_permanent"`
	ProcessedForRAG  bool            `json:"processed_for_rag"`
	CreatedAt        string          `json:"created_at"`
}

func feedbackResponse(f domain.Feedback) FeedbackResponse {
	res := FeedbackResponse{
		ID:               f.ID,
		BriefID:          f.BriefID,
		StageID:          f.StageID,
		Content:          f.Content,
		Rating:           f.Rating,
		RequiresRevision: f.RequiresRevision,
		IsPermanent:      f.IsPermanent,
		ProcessedForRAG:  f.ProcessedForRAG,
		CreatedAt:        f.CreatedAt,
	}
	if f.StructuredJSON != nil && json.Valid([]byte(*f.StructuredJSON)) {
		res.Structured = json.RawMessage(*f.StructuredJSON)
	}
	return res
}

type ProcessRequest struct {
	Stage      string `json:"stage,omitempty"`
	FeedbackID string `json:"feedback_id,omitempty"`
}

type ConversationResultResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Saved        bool                 `json:"saved"`
	FailReason   string               `json:"fail_reason,omitempty"`
}

type ProcessResponse struct {
	Output        OutputResponse               `json:"output"`
	Conversations []ConversationResultResponse `json:"conversations"`
}

func processResponse(res engine.ProcessResult) ProcessResponse {
	out := ProcessResponse{Output: outputResponse(res.Output)}
	for _, c := range res.Conversations {
		out.Conversations = append(out.Conversations, ConversationResultResponse{
			Conversation: conversationResponse(c.Conversation),
			Saved:        c.Saved,
			FailReason:   c.FailReason,
		})
	}
	return out
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	BriefID    string          `json:"brief_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	res := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		BriefID:    e.BriefID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		res.Payload = json.RawMessage(e.Payload)
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
	Key     string  `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
