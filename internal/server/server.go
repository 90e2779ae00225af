package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/logger"
	"projectflow/internal/metrics"
	"projectflow/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Metrics   *metrics.Metrics
	// Gatherer backs /metrics; the endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflicting_approval"`
	Message string         `json:"message" example:"project p1 is already claimed by stu-a"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"holder_reservation_id\":\"r1\"}"`
}

// apiError models the error envelope {error:{code,message,details}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the projectflow API.
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
		if status == http.StatusUnprocessableEntity {
			// schema validation failures are plain bad requests
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(logger.RequestLogger)
	router.Use(logger.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Use(rateLimitMiddleware(cfg.RateLimit, cfg.Metrics))
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("projectflow API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActors(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerReservations(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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

// handleError maps engine failures onto HTTP statuses. The error kind is the
// envelope code so clients can switch on it.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", "operation timed out", nil)
	}
	if errors.Is(err, context.Canceled) {
		return newAPIError(http.StatusServiceUnavailable, "canceled", "request canceled", nil)
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error().Err(err).Msg("unclassified engine error")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	details := map[string]any{}
	if de.Entity != "" {
		details["entity"] = de.Entity
	}
	if de.ID != "" {
		details["id"] = de.ID
	}
	if de.State != "" {
		details["state"] = de.State
	}
	for k, v := range de.Details {
		details[k] = v
	}
	if len(details) == 0 {
		details = nil
	}
	code := string(de.Kind)
	switch de.Kind {
	case domain.KindPermissionDenied:
		return newAPIError(http.StatusForbidden, code, err.Error(), details)
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), details)
	case domain.KindInvalidTransition, domain.KindDuplicateReservation,
		domain.KindConflictingApproval, domain.KindProjectArchived:
		return newAPIError(http.StatusConflict, code, err.Error(), details)
	case domain.KindPersistenceUnavailable:
		logger.Error().Err(err).Msg("store unavailable")
		return newAPIError(http.StatusServiceUnavailable, code, "store temporarily unavailable, retry later", nil)
	case domain.KindInvalidArgument:
		return newAPIError(http.StatusBadRequest, code, err.Error(), details)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var errorStatuses = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusTooManyRequests,
	http.StatusServiceUnavailable,
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>projectflow API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
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

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		p, _ := principalFromContext(ctx)
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: ActorResponse{Actor: a, Source: p.Source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
		Errors:      errorStatuses,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		items, err := e.ListActors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register or update an actor (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_argument", err.Error(), nil)
		}
		a, err := e.RegisterActor(ctx, actorID, domain.Actor{ID: input.Body.ID, Role: role, DisplayName: input.Body.DisplayName})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bootstrap",
		Method:        http.MethodPost,
		Path:          "/bootstrap",
		Summary:       "Make the caller the first admin of an empty directory",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body BootstrapRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Bootstrap(ctx, actorID, input.Body.DisplayName)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})
}

type ProjectPath struct {
	ProjectID string `path:"project_id"`
}

type projectBody struct {
	Body domain.Project `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.NewProject{
			ID:           input.Body.ID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			OwnerID:      actorID,
			SupervisorID: input.Body.SupervisorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		OwnerID         string `query:"owner_id"`
		SupervisorID    string `query:"supervisor_id"`
		Status          string `query:"status"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx, store.ProjectFilter{
			OwnerID:         input.OwnerID,
			SupervisorID:    input.SupervisorID,
			Status:          domain.ProjectStatus(input.Status),
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*projectBody, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/submit",
		Summary:     "Submit project for review",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body SubmitProjectRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitProject(ctx, input.ProjectID, actorID, input.Body.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/decision",
		Summary:     "Approve or reject a pending project",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body DecisionRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := engine.ParseDecision(input.Body.Decision)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.DecideProject(ctx, input.ProjectID, actorID, d, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-supervisor",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/supervisor",
		Summary:     "Assign the reviewing supervisor",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body AssignSupervisorRequest `json:"body"`
	}) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AssignSupervisor(ctx, input.ProjectID, actorID, input.Body.SupervisorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive project",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*projectBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ArchiveProject(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/summary",
		Summary:     "Dashboard summary",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body domain.ProjectSummary `json:"body"`
	}, error) {
		s, err := e.ProjectSummary(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectSummary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Audit trail of a project, newest first",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		before, perr := parseCursor(input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ProjectHistory(ctx, input.ProjectID, before, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

type reservationBody struct {
	Body domain.Reservation `json:"body"`
}

func registerReservations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "reserve-project",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/reservations",
		Summary:       "Reserve a project as the calling student",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*reservationBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.ReserveProject(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reservationBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reservations",
		Method:      http.MethodGet,
		Path:        "/reservations",
		Summary:     "List reservations",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectID    string `query:"project_id"`
		StudentID    string `query:"student_id"`
		SupervisorID string `query:"supervisor_id"`
		Status       string `query:"status"`
	}) (*struct {
		Body []domain.Reservation `json:"body"`
	}, error) {
		items, err := e.ListReservations(ctx, store.ReservationFilter{
			ProjectID:    input.ProjectID,
			StudentID:    input.StudentID,
			SupervisorID: input.SupervisorID,
			Status:       domain.ReservationStatus(input.Status),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Reservation `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reservation",
		Method:      http.MethodGet,
		Path:        "/reservations/{reservation_id}",
		Summary:     "Get reservation",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ReservationID string `path:"reservation_id"`
	}) (*reservationBody, error) {
		r, err := e.GetReservation(ctx, input.ReservationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &reservationBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-reservation",
		Method:      http.MethodPost,
		Path:        "/reservations/{reservation_id}/decision",
		Summary:     "Approve, reject or revoke a reservation",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		ReservationID string `path:"reservation_id"`
		Body          DecisionRequest `json:"body"`
	}) (*reservationBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := engine.ParseDecision(input.Body.Decision)
		if err != nil {
			return nil, handleError(err)
		}
		r, err := e.DecideReservation(ctx, input.ReservationID, actorID, d, input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return &reservationBody{Body: r}, nil
	})
}

type taskBody struct {
	Body domain.TaskView `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks with their effective status",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body []domain.TaskView `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskView `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Add task",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateTaskRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MutateTask(ctx, engine.TaskMutation{
			Op:         engine.OpAdd,
			ProjectID:  input.ProjectID,
			TaskID:     input.Body.ID,
			ActorID:    actorID,
			Title:      input.Body.Title,
			AssigneeID: input.Body.AssigneeID,
			DueDate:    input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   TaskStatusRequest `json:"body"`
	}) (*taskBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MutateTask(ctx, engine.TaskMutation{
			Op:      engine.OpSetStatus,
			TaskID:  input.TaskID,
			ActorID: actorID,
			Status:  domain.TaskStatus(input.Body.Status),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskBody{Body: t}, nil
	})
}

type timelineBody struct {
	Body domain.TimelineEvent `json:"body"`
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-timeline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/timeline",
		Summary:     "List timeline entries by date",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *ProjectPath) (*struct {
		Body []domain.TimelineEvent `json:"body"`
	}, error) {
		items, err := e.ListTimeline(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TimelineEvent `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-timeline-event",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/timeline",
		Summary:       "Add timeline entry",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		ProjectPath
		Body CreateTimelineEventRequest `json:"body"`
	}) (*timelineBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.MutateTimelineEvent(ctx, engine.TimelineMutation{
			Op:          engine.OpAdd,
			ProjectID:   input.ProjectID,
			EventID:     input.Body.ID,
			ActorID:     actorID,
			Date:        input.Body.Date,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &timelineBody{Body: ev}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-timeline-completed",
		Method:      http.MethodPost,
		Path:        "/timeline/{event_id}/completed",
		Summary:     "Mark timeline entry completed or open",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		EventID string                   `path:"event_id"`
		Body    TimelineCompletedRequest `json:"body"`
	}) (*timelineBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev, err := e.MutateTimelineEvent(ctx, engine.TimelineMutation{
			Op:        engine.OpSetCompleted,
			EventID:   input.EventID,
			ActorID:   actorID,
			Completed: input.Body.Completed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &timelineBody{Body: ev}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "event-feed",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event feed, oldest first after a cursor",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		After      int64  `query:"after" minimum:"0"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := e.EventsAfter(ctx, store.EventFilter{Ascending: true, After: input.After, Type: input.Type, EntityKind: input.EntityKind, Limit: limit})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		if len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func parseCursor(cursor string) (int64, huma.StatusError) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": cursor})
	}
	return id, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
