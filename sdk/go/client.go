package brieflinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is a minimal Briefline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Brief represents the API brief model (partial).
type Brief struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	FlowID         string `json:"flow_id,omitempty"`
	CurrentStageID string `json:"current_stage_id,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// Stage is a phase marker within a flow.
type Stage struct {
	ID         string `json:"id"`
	FlowID     string `json:"flow_id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
}

// FlowStep assigns an agent a task within a flow.
type FlowStep struct {
	ID           string   `json:"id"`
	AgentID      string   `json:"agent_id"`
	OrderIndex   int      `json:"order_index"`
	Requirements string   `json:"requirements,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
}

// Flow represents a workflow with its stages and steps.
type Flow struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Stages      []Stage    `json:"stages,omitempty"`
	Steps       []FlowStep `json:"steps,omitempty"`
}

// Agent represents a persona that works on briefs.
type Agent struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Output is the aggregated result of processing a stage.
type Output struct {
	ID               string          `json:"id"`
	BriefID          string          `json:"brief_id"`
	StageID          string          `json:"stage_id"`
	Content          json.RawMessage `json:"content"`
	Response         string          `json:"response"`
	FeedbackID       string          `json:"feedback_id,omitempty"`
	IsReprocessed    bool            `json:"is_reprocessed"`
	OriginalOutputID string          `json:"original_output_id,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// Feedback represents client notes on a stage's output.
type Feedback struct {
	ID               string          `json:"id"`
	BriefID          string          `json:"brief_id"`
	StageID          string          `json:"stage_id"`
	Content          string          `json:"content"`
	Structured       json.RawMessage `json:"structured,omitempty"`
	Rating           *int            `json:"rating,omitempty"`
	RequiresRevision bool            `json:"requires_revision"`
	CreatedAt        string          `json:"created_at"`
}

// ProcessResult is what a processing run returns.
type ProcessResult struct {
	Output        Output `json:"output"`
	Conversations []struct {
		Saved      bool   `json:"saved"`
		FailReason string `json:"fail_reason,omitempty"`
	} `json:"conversations"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	BriefID    string         `json:"brief_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedBriefs wraps brief listings with a cursor.
type PaginatedBriefs struct {
	Items      []Brief `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateBrief creates a brief attached to a flow.
func (c *Client) CreateBrief(ctx context.Context, title, flowID string) (Brief, error) {
	body := map[string]any{"title": title}
	if flowID != "" {
		body["flow_id"] = flowID
	}
	var resp Brief
	err := c.do(ctx, http.MethodPost, "v0/briefs", body, &resp)
	return resp, err
}

// GetBrief fetches a brief by id.
func (c *Client) GetBrief(ctx context.Context, id string) (Brief, error) {
	var resp Brief
	err := c.do(ctx, http.MethodGet, "v0/briefs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Briefs returns a paginated brief listing.
func (c *Client) Briefs(ctx context.Context, limit int, cursor string) (PaginatedBriefs, error) {
	endpoint := "v0/briefs"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedBriefs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateFlow imports a flow with ordered stage names and steps.
func (c *Client) CreateFlow(ctx context.Context, name string, stages []string, steps []FlowStep) (Flow, error) {
	stepBodies := make([]map[string]any, 0, len(steps))
	for _, s := range steps {
		stepBodies = append(stepBodies, map[string]any{
			"agent_id":     s.AgentID,
			"requirements": s.Requirements,
			"outputs":      s.Outputs,
		})
	}
	body := map[string]any{
		"name":   name,
		"stages": stages,
		"steps":  stepBodies,
	}
	var resp Flow
	err := c.do(ctx, http.MethodPost, "v0/flows", body, &resp)
	return resp, err
}

// CreateAgent imports an agent.
func (c *Client) CreateAgent(ctx context.Context, name, description string, temperature float64) (Agent, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"temperature": temperature,
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// Process runs the brief's flow steps at the given stage. An empty stage
// uses the brief's current stage; feedbackID triggers a reprocess.
func (c *Client) Process(ctx context.Context, briefID, stage, feedbackID string) (ProcessResult, error) {
	body := map[string]any{}
	if stage != "" {
		body["stage"] = stage
	}
	if feedbackID != "" {
		body["feedback_id"] = feedbackID
	}
	var resp ProcessResult
	endpoint := "v0/briefs/" + url.PathEscape(briefID) + "/process"
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Outputs lists a brief's outputs, newest first.
func (c *Client) Outputs(ctx context.Context, briefID string) ([]Output, error) {
	var resp []Output
	endpoint := "v0/briefs/" + url.PathEscape(briefID) + "/outputs"
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddFeedback records feedback on a brief's stage.
func (c *Client) AddFeedback(ctx context.Context, briefID, stage, content string, requiresRevision bool) (Feedback, error) {
	body := map[string]any{
		"content":           content,
		"requires_revision": requiresRevision,
	}
	if stage != "" {
		body["stage"] = stage
	}
	var resp Feedback
	endpoint := "v0/briefs/" + url.PathEscape(briefID) + "/feedback"
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns log entries after the given cursor (0 for the most
// recent entries).
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	return c.events(ctx, "", after, limit)
}

// BriefEvents is Events scoped to one brief.
func (c *Client) BriefEvents(ctx context.Context, briefID string, after int64, limit int) ([]Event, error) {
	return c.events(ctx, briefID, after, limit)
}

func (c *Client) events(ctx context.Context, briefID string, after int64, limit int) ([]Event, error) {
	params := url.Values{}
	if briefID != "" {
		params.Set("brief_id", briefID)
	}
	if after > 0 {
		params.Set("after", fmt.Sprint(after))
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Session polls the event log and delivers new events on a channel. When
// bound to a brief via WatchBrief it also keeps a fresh view of the brief,
// re-reading after each change notification.
type Session struct {
	C      <-chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	brief Brief
}

// Brief returns the session's latest view of the watched brief. Zero value
// for sessions started with Watch.
func (s *Session) Brief() Brief {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brief
}

func (s *Session) setBrief(b Brief) {
	s.mu.Lock()
	s.brief = b
	s.mu.Unlock()
}

// Close stops the polling loop.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Watch starts a session that polls for new events every interval. The
// session starts at the log head; past events are not replayed.
func (c *Client) Watch(ctx context.Context, interval time.Duration) *Session {
	return c.watch(ctx, "", interval)
}

// WatchBrief starts a session bound to one brief. The initial view is
// fetched up front; afterwards the brief is re-read whenever the event
// stream reports a change for it.
func (c *Client) WatchBrief(ctx context.Context, briefID string, interval time.Duration) (*Session, error) {
	b, err := c.GetBrief(ctx, briefID)
	if err != nil {
		return nil, err
	}
	s := c.watch(ctx, briefID, interval)
	s.setBrief(b)
	return s, nil
}

func (c *Client) watch(ctx context.Context, briefID string, interval time.Duration) *Session {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event)
	s := &Session{C: ch, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		defer close(ch)
		var cursor int64
		if latest, err := c.events(ctx, briefID, 0, 1); err == nil && len(latest) > 0 {
			cursor = latest[0].ID
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			events, err := c.events(ctx, briefID, cursor, 100)
			if err != nil {
				continue
			}
			refresh := false
			for _, evt := range events {
				select {
				case ch <- evt:
					cursor = evt.ID
					refresh = true
				case <-ctx.Done():
					return
				}
			}
			if refresh && briefID != "" {
				if b, err := c.GetBrief(ctx, briefID); err == nil {
					s.setBrief(b)
				}
			}
		}
	}()
	return s
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
