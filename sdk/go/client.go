package projectflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Projectflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set; servers accept it
	// only with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Actor struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at"`
	Source      string `json:"source,omitempty"`
}

type Project struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	OwnerID      string `json:"owner_id"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	Status       string `json:"status"`
	Note         string `json:"note,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
	ReviewedBy   string `json:"reviewed_by,omitempty"`
	Archived     bool   `json:"archived"`
	Version      int64  `json:"version"`
	UpdatedAt    string `json:"updated_at"`
}

type Reservation struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	StudentID    string `json:"student_id"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	Status       string `json:"status"`
	Feedback     string `json:"feedback,omitempty"`
	DecidedBy    string `json:"decided_by,omitempty"`
	ReservedAt   string `json:"reserved_at"`
	Version      int64  `json:"version"`
}

// Task carries the stored status and the derived one (which may be overdue).
type Task struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Title           string `json:"title"`
	AssigneeID      string `json:"assignee_id,omitempty"`
	Status          string `json:"status"`
	EffectiveStatus string `json:"effective_status"`
	DueDate         string `json:"due_date,omitempty"`
	Version         int64  `json:"version"`
}

type TimelineEntry struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Version     int64  `json:"version"`
}

type Summary struct {
	ProjectID         string         `json:"project_id"`
	Status            string         `json:"status"`
	Archived          bool           `json:"archived"`
	AssigneeID        string         `json:"assignee_id,omitempty"`
	TaskCounts        map[string]int `json:"task_counts"`
	ReservationCounts map[string]int `json:"reservation_counts"`
	TimelineTotal     int            `json:"timeline_total"`
	TimelineCompleted int            `json:"timeline_completed"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code
// (permission_denied, conflicting_approval, ...) when the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Temporary reports whether the store was unreachable; the command can be
// queued and sent again later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

type ProjectInput struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	SupervisorID string `json:"supervisor_id,omitempty"`
}

type ProjectFilter struct {
	OwnerID         string
	SupervisorID    string
	Status          string
	IncludeArchived bool
}

type ReservationFilter struct {
	ProjectID    string
	StudentID    string
	SupervisorID string
	Status       string
}

type TaskInput struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title"`
	AssigneeID string `json:"assignee_id,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
}

// Me returns the authenticated actor.
func (c *Client) Me(ctx context.Context) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) ListActors(ctx context.Context) ([]Actor, error) {
	var resp []Actor
	err := c.do(ctx, http.MethodGet, "actors", nil, &resp)
	return resp, err
}

// RegisterActor creates or updates a directory entry. Admin only.
func (c *Client) RegisterActor(ctx context.Context, id, role, displayName string) (Actor, error) {
	body := map[string]any{"id": id, "role": role, "display_name": displayName}
	var resp Actor
	err := c.do(ctx, http.MethodPost, "actors", body, &resp)
	return resp, err
}

func (c *Client) CreateProject(ctx context.Context, in ProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", in, &resp)
	return resp, err
}

func (c *Client) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	q := url.Values{}
	set(q, "owner_id", f.OwnerID)
	set(q, "supervisor_id", f.SupervisorID)
	set(q, "status", f.Status)
	if f.IncludeArchived {
		q.Set("include_archived", "true")
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, withQuery("projects", q), nil, &resp)
	return resp, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) SubmitProject(ctx context.Context, id, note string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, "submit"), map[string]any{"note": note}, &resp)
	return resp, err
}

// DecideProject approves or rejects a submitted project.
func (c *Client) DecideProject(ctx context.Context, id, decision, feedback string) (Project, error) {
	body := map[string]any{"decision": decision, "feedback": feedback}
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, "decision"), body, &resp)
	return resp, err
}

func (c *Client) AssignSupervisor(ctx context.Context, id, supervisorID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPut, projectPath(id, "supervisor"), map[string]any{"supervisor_id": supervisorID}, &resp)
	return resp, err
}

func (c *Client) ArchiveProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, projectPath(id, "archive"), nil, &resp)
	return resp, err
}

func (c *Client) ProjectSummary(ctx context.Context, id string) (Summary, error) {
	var resp Summary
	err := c.do(ctx, http.MethodGet, projectPath(id, "summary"), nil, &resp)
	return resp, err
}

// ProjectHistory pages a project's audit trail newest first. Pass the
// previous page's NextCursor to continue.
func (c *Client) ProjectHistory(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	set(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(projectPath(id, "events"), q), nil, &resp)
	return resp, err
}

// Reserve claims a project for the authenticated student.
func (c *Client) Reserve(ctx context.Context, projectID string) (Reservation, error) {
	var resp Reservation
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "reservations"), nil, &resp)
	return resp, err
}

func (c *Client) ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error) {
	q := url.Values{}
	set(q, "project_id", f.ProjectID)
	set(q, "student_id", f.StudentID)
	set(q, "supervisor_id", f.SupervisorID)
	set(q, "status", f.Status)
	var resp []Reservation
	err := c.do(ctx, http.MethodGet, withQuery("reservations", q), nil, &resp)
	return resp, err
}

func (c *Client) GetReservation(ctx context.Context, id string) (Reservation, error) {
	var resp Reservation
	err := c.do(ctx, http.MethodGet, "reservations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DecideReservation approves, rejects or revokes a reservation.
func (c *Client) DecideReservation(ctx context.Context, id, decision, feedback string) (Reservation, error) {
	body := map[string]any{"decision": decision, "feedback": feedback}
	var resp Reservation
	err := c.do(ctx, http.MethodPost, "reservations/"+url.PathEscape(id)+"/decision", body, &resp)
	return resp, err
}

func (c *Client) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "tasks"), nil, &resp)
	return resp, err
}

func (c *Client) AddTask(ctx context.Context, projectID string, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "tasks"), in, &resp)
	return resp, err
}

func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/status", map[string]any{"status": status}, &resp)
	return resp, err
}

func (c *Client) ListTimeline(ctx context.Context, projectID string) ([]TimelineEntry, error) {
	var resp []TimelineEntry
	err := c.do(ctx, http.MethodGet, projectPath(projectID, "timeline"), nil, &resp)
	return resp, err
}

func (c *Client) AddTimelineEntry(ctx context.Context, projectID, date, description string) (TimelineEntry, error) {
	body := map[string]any{"date": date, "description": description}
	var resp TimelineEntry
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "timeline"), body, &resp)
	return resp, err
}

func (c *Client) SetTimelineCompleted(ctx context.Context, entryID string, completed bool) (TimelineEntry, error) {
	var resp TimelineEntry
	err := c.do(ctx, http.MethodPost, "timeline/"+url.PathEscape(entryID)+"/completed", map[string]any{"completed": completed}, &resp)
	return resp, err
}

// Events reads the global feed oldest first, starting after the given id.
func (c *Client) Events(ctx context.Context, after int64, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func projectPath(id, sub string) string {
	p := "projects/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func set(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
