package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"briefline/internal/config"
	"briefline/internal/db"
	"briefline/internal/engine"
	"briefline/internal/migrate"
	"briefline/internal/provider"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("briefline")
	cfg.Retry.InitialDelayMS = 1
	cfg.Retry.MaxDelayMS = 2
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg, &provider.Stub{})
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestBriefProcessingOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agents", map[string]any{
		"name":        "copywriter",
		"temperature": 0.7,
		"skills":      []map[string]any{{"name": "craft", "content": "writes clean copy"}},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agent status %d: %s", res.StatusCode, string(data))
	}
	var agent AgentResponse
	if err := json.Unmarshal(data, &agent); err != nil {
		t.Fatalf("unmarshal agent: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/flows", map[string]any{
		"name":   "campaign",
		"stages": []string{"Concept", "Copy"},
		"steps":  []map[string]any{{"agent_id": agent.ID, "requirements": "deliver the artifact"}},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create flow status %d: %s", res.StatusCode, string(data))
	}
	var flow FlowResponse
	if err := json.Unmarshal(data, &flow); err != nil {
		t.Fatalf("unmarshal flow: %v", err)
	}
	if len(flow.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %+v", flow.Stages)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/briefs", map[string]any{
		"title":   "Spring launch",
		"flow_id": flow.ID,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create brief status %d: %s", res.StatusCode, string(data))
	}
	var brief BriefResponse
	if err := json.Unmarshal(data, &brief); err != nil {
		t.Fatalf("unmarshal brief: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/briefs/"+brief.ID+"/process", map[string]any{
		"stage": "Concept",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	var processed ProcessResponse
	if err := json.Unmarshal(data, &processed); err != nil {
		t.Fatalf("unmarshal process result: %v", err)
	}
	if processed.Output.Response != provider.StubResponse {
		t.Fatalf("unexpected response %q", processed.Output.Response)
	}
	if len(processed.Conversations) != 1 || !processed.Conversations[0].Saved {
		t.Fatalf("unexpected conversations: %+v", processed.Conversations)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/briefs/"+brief.ID+"/outputs", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list outputs status %d: %s", res.StatusCode, string(data))
	}
	var outputs []OutputResponse
	if err := json.Unmarshal(data, &outputs); err != nil {
		t.Fatalf("unmarshal outputs: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?brief_id="+brief.ID, nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected events for brief")
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/briefs/does-not-exist", nil, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/briefs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"actor_id": "svc-bot",
		"name":     "ci",
		"key":      "secret-key-material",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/briefs", nil, map[string]string{"X-Api-Key": "secret-key-material"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth failed with %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/briefs", nil, map[string]string{"X-Api-Key": "wrong-key"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d", res.StatusCode)
	}
}

func TestValidationErrorMapsTo422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/flows", map[string]any{
		"name":   "empty",
		"stages": []string{},
		"steps":  []map[string]any{},
	}, actorHeader)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("unexpected code %q", envelope.Error.Code)
	}
}
