package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"briefline/internal/engine"
	"briefline/internal/provider"
	"briefline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"brief not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Briefline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Briefline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerBriefs(group, cfg.Engine)
	registerFlows(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerProcess(group, cfg.Engine)
	registerOutputs(group, cfg.Engine)
	registerFeedback(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadGateway, "provider_error", "generation provider failed", map[string]any{
			"provider_status": pe.Status,
			"error":           pe.Message,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "provider_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Briefline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerBriefs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-brief",
		Method:        http.MethodPost,
		Path:          "/briefs",
		Summary:       "Create brief",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBriefRequest `json:"body"`
	}) (*struct {
		Body BriefResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.BriefCreateOptions{
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Objectives:     stringOrEmpty(input.Body.Objectives),
			TargetAudience: stringOrEmpty(input.Body.TargetAudience),
			Budget:         stringOrEmpty(input.Body.Budget),
			Timeline:       stringOrEmpty(input.Body.Timeline),
			FlowID:         stringOrEmpty(input.Body.FlowID),
			ActorID:        actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		b, err := e.CreateBrief(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BriefResponse `json:"body"`
		}{Body: briefResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-briefs",
		Method:      http.MethodGet,
		Path:        "/briefs",
		Summary:     "List briefs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		FlowID string `query:"flow_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedBriefs `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListBriefs(ctx, repo.BriefFilters{
			FlowID:          input.FlowID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedBriefs{Items: []BriefResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapBriefs(items)
		return &struct {
			Body paginatedBriefs `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-brief",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}",
		Summary:     "Get brief",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BriefResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBrief(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BriefResponse `json:"body"`
		}{Body: briefResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-brief",
		Method:      http.MethodPatch,
		Path:        "/briefs/{id}",
		Summary:     "Update brief",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateBriefRequest `json:"body"`
	}) (*struct {
		Body BriefResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.UpdateBrief(ctx, input.ID, engine.BriefUpdateOptions{
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Objectives:     input.Body.Objectives,
			TargetAudience: input.Body.TargetAudience,
			Budget:         input.Body.Budget,
			Timeline:       input.Body.Timeline,
			FlowID:         input.Body.FlowID,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BriefResponse `json:"body"`
		}{Body: briefResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-brief",
		Method:      http.MethodDelete,
		Path:        "/briefs/{id}",
		Summary:     "Delete brief",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteBrief(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerFlows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-flow",
		Method:        http.MethodPost,
		Path:          "/flows",
		Summary:       "Create flow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateFlowRequest `json:"body"`
	}) (*struct {
		Body FlowResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.FlowCreateOptions{
			Name:        input.Body.Name,
			Description: stringOrEmpty(input.Body.Description),
			Stages:      input.Body.Stages,
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		for _, s := range input.Body.Steps {
			opts.Steps = append(opts.Steps, engine.FlowStepSpec{
				AgentID:      s.AgentID,
				Requirements: stringOrEmpty(s.Requirements),
				Outputs:      s.Outputs,
			})
		}
		f, err := e.CreateFlow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		stages, err := e.Repo.ListStages(ctx, f.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FlowResponse `json:"body"`
		}{Body: flowResponse(f, stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-flows",
		Method:      http.MethodGet,
		Path:        "/flows",
		Summary:     "List flows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []FlowResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListFlows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]FlowResponse, 0, len(items))
		for _, f := range items {
			res = append(res, flowResponse(f, nil))
		}
		return &struct {
			Body []FlowResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-flow",
		Method:      http.MethodGet,
		Path:        "/flows/{id}",
		Summary:     "Get flow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body FlowResponse `json:"body"`
	}, error) {
		f, err := e.Repo.GetFlow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		stages, err := e.Repo.ListStages(ctx, f.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FlowResponse `json:"body"`
		}{Body: flowResponse(f, stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-flow-stages",
		Method:      http.MethodGet,
		Path:        "/flows/{id}/stages",
		Summary:     "List flow stages",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetFlow(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		stages, err := e.Repo.ListStages(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]StageResponse, 0, len(stages))
		for _, s := range stages {
			res = append(res, stageResponse(s))
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/stages/{id}",
		Summary:     "Get stage",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body StageResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetStage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageResponse `json:"body"`
		}{Body: stageResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-flow",
		Method:      http.MethodDelete,
		Path:        "/flows/{id}",
		Summary:     "Delete flow",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteFlow(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AgentCreateOptions{
			Name:        input.Body.Name,
			Description: stringOrEmpty(input.Body.Description),
			ActorID:     actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Temperature != nil {
			opts.Temperature = *input.Body.Temperature
		} else if e.Config != nil {
			opts.Temperature = e.Config.Provider.Temperature
		}
		for _, s := range input.Body.Skills {
			opts.Skills = append(opts.Skills, engine.SkillSpec{
				Name:        s.Name,
				Description: stringOrEmpty(s.Description),
				Content:     stringOrEmpty(s.Content),
			})
		}
		a, err := e.CreateAgent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAgents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AgentResponse, 0, len(items))
		for _, a := range items {
			res = append(res, agentResponse(a))
		}
		return &struct {
			Body []AgentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AgentResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAgent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgentResponse `json:"body"`
		}{Body: agentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{id}",
		Summary:     "Delete agent",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAgent(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProcess(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "process-stage",
		Method:        http.MethodPost,
		Path:          "/briefs/{id}/process",
		Summary:       "Process a stage",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ProcessRequest `json:"body"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Process(ctx, engine.ProcessOptions{
			BriefID:    input.ID,
			Stage:      input.Body.Stage,
			FeedbackID: input.Body.FeedbackID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reprocess-feedback",
		Method:        http.MethodPost,
		Path:          "/feedback/{id}/reprocess",
		Summary:       "Reprocess the feedback's stage",
		Description:   "Runs the feedback's stage again with the feedback applied and links the new output to the original.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fb, err := e.Repo.GetFeedback(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Process(ctx, engine.ProcessOptions{
			BriefID:    fb.BriefID,
			FeedbackID: fb.ID,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(res)}, nil
	})
}

func registerOutputs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outputs",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/outputs",
		Summary:     "List brief outputs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		StageID string `query:"stage_id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []OutputResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBrief(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOutputs(ctx, repo.OutputFilters{
			BriefID: input.ID,
			StageID: input.StageID,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]OutputResponse, 0, len(items))
		for _, o := range items {
			res = append(res, outputResponse(o))
		}
		return &struct {
			Body []OutputResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-output",
		Method:      http.MethodGet,
		Path:        "/outputs/{id}",
		Summary:     "Get output",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body OutputResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOutput(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OutputResponse `json:"body"`
		}{Body: outputResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "speak-output",
		Method:      http.MethodPost,
		Path:        "/outputs/{id}/speech",
		Summary:     "Synthesize speech for an output",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body struct {
			OutputID string `json:"output_id"`
			Audio    string `json:"audio"`
		} `json:"body"`
	}, error) {
		audio, err := e.Speak(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				OutputID string `json:"output_id"`
				Audio    string `json:"audio"`
			} `json:"body"`
		}{}
		resp.Body.OutputID = input.ID
		resp.Body.Audio = base64.StdEncoding.EncodeToString(audio)
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/conversations",
		Summary:     "List brief conversations",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		StageID string `query:"stage_id"`
	}) (*struct {
		Body []ConversationResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBrief(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListConversations(ctx, input.ID, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ConversationResponse, 0, len(items))
		for _, c := range items {
			res = append(res, conversationResponse(c))
		}
		return &struct {
			Body []ConversationResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerFeedback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-feedback",
		Method:        http.MethodPost,
		Path:          "/briefs/{id}/feedback",
		Summary:       "Create feedback",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateFeedbackRequest `json:"body"`
	}) (*struct {
		Body FeedbackResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateFeedback(ctx, engine.FeedbackCreateOptions{
			BriefID:          input.ID,
			Stage:            input.Body.Stage,
			Content:          input.Body.Content,
			Rating:           input.Body.Rating,
			RequiresRevision: input.Body.RequiresRevision,
			IsPermanent:      input.Body.IsPermanent,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedbackResponse `json:"body"`
		}{Body: feedbackResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-feedback",
		Method:      http.MethodGet,
		Path:        "/briefs/{id}/feedback",
		Summary:     "List brief feedback",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		StageID string `query:"stage_id"`
	}) (*struct {
		Body []FeedbackResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetBrief(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListFeedback(ctx, input.ID, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]FeedbackResponse, 0, len(items))
		for _, f := range items {
			res = append(res, feedbackResponse(f))
		}
		return &struct {
			Body []FeedbackResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "index-feedback",
		Method:      http.MethodPost,
		Path:        "/feedback/index",
		Summary:     "Embed unindexed feedback",
		Errors: []int{
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.IndexFeedback(ctx, normalizeLimit(input.Limit), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"indexed": n}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		BriefID    string `query:"brief_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		After      int64  `query:"after"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var items []EventResponse
		if input.After > 0 {
			evts, err := e.Repo.EventsAfter(ctx, limit, input.After, input.BriefID)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapEvents(evts)
		} else {
			evts, err := e.Repo.LatestEvents(ctx, limit, input.BriefID, input.Type, input.EntityKind, input.EntityID)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapEvents(evts)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Register an API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and key are required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key := newAPIKey(input.Body)
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
