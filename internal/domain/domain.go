package domain

type Brief struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Objectives     string  `json:"objectives,omitempty"`
	TargetAudience string  `json:"target_audience,omitempty"`
	Budget         string  `json:"budget,omitempty"`
	Timeline       string  `json:"timeline,omitempty"`
	FlowID         *string `json:"flow_id,omitempty"`
	CurrentStageID *string `json:"current_stage_id,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []FlowStep `json:"steps,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

type Stage struct {
	ID         string `json:"id"`
	FlowID     string `json:"flow_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type FlowStep struct {
	ID           string   `json:"id"`
	FlowID       string   `json:"flow_id"`
	AgentID      string   `json:"agent_id"`
	OrderIndex   int      `json:"order_index"`
	Requirements string   `json:"requirements,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
}

type Agent struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Temperature float64 `json:"temperature"`
	Skills      []Skill `json:"skills,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Skill struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Position    int    `json:"position"`
}

type Output struct {
	ID               string  `json:"id"`
	BriefID          string  `json:"brief_id"`
	StageID          string  `json:"stage_id"`
	ContentJSON      string  `json:"content_json"`
	FeedbackID       *string `json:"feedback_id,omitempty"`
	IsReprocessed    bool    `json:"is_reprocessed"`
	OriginalOutputID *string `json:"original_output_id,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Conversation struct {
	ID                     string  `json:"id"`
	BriefID                string  `json:"brief_id"`
	StageID                string  `json:"stage_id"`
	AgentID                string  `json:"agent_id"`
	FlowStepID             string  `json:"flow_step_id"`
	Content                string  `json:"content"`
	OutputType             string  `json:"output_type,omitempty"`
	FeedbackID             *string `json:"feedback_id,omitempty"`
	OriginalConversationID *string `json:"original_conversation_id,omitempty"`
	CreatedAt              string  `json:"created_at" format:"date-time"`
}

type Feedback struct {
	ID               string  `json:"id"`
	BriefID          string  `json:"brief_id"`
	StageID          string  `json:"stage_id"`
	Content          string  `json:"content"`
	StructuredJSON   *string `json:"structured_json,omitempty"`
	Rating           *int    `json:"rating,omitempty"`
	RequiresRevision bool    `json:"requires_revision"`
	IsPermanent      bool    `json:"is_permanent"`
	ProcessedForRAG  bool    `json:"processed_for_rag"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type FeedbackEmbedding struct {
	FeedbackID string `json:"feedback_id"`
	VectorJSON string `json:"vector_json"`
	Dimensions int    `json:"dimensions"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	BriefID    string `json:"brief_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
