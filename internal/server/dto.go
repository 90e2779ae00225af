package server

import (
	"projectflow/internal/domain"
	"projectflow/internal/events"
)

// Request payloads

type CreateProjectRequest struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title" minLength:"1"`
	Description  string `json:"description,omitempty"`
	SupervisorID string `json:"supervisor_id,omitempty"`
}

type SubmitProjectRequest struct {
	Note string `json:"note,omitempty"`
}

type DecisionRequest struct {
	Decision string `json:"decision" enum:"approve,reject,revoke"`
	Feedback string `json:"feedback,omitempty"`
}

type AssignSupervisorRequest struct {
	SupervisorID string `json:"supervisor_id" minLength:"1"`
}

type RegisterActorRequest struct {
	ID          string `json:"id" minLength:"1"`
	Role        string `json:"role" enum:"student,employer,supervisor,lecturer,project_manager,admin"`
	DisplayName string `json:"display_name,omitempty"`
}

type BootstrapRequest struct {
	DisplayName string `json:"display_name,omitempty"`
}

type CreateTaskRequest struct {
	ID         string `json:"id,omitempty"`
	Title      string `json:"title" minLength:"1"`
	AssigneeID string `json:"assignee_id,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed,overdue"`
}

type CreateTimelineEventRequest struct {
	ID          string `json:"id,omitempty"`
	Date        string `json:"date" minLength:"1"`
	Description string `json:"description" minLength:"1"`
}

type TimelineCompletedRequest struct {
	Completed bool `json:"completed"`
}

// Response payloads

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ActorResponse struct {
	domain.Actor
	Source string `json:"source,omitempty" enum:"jwt,legacy_header"`
}

// Conversion helpers

func eventResponse(evt domain.Event) EventResponse {
	payload, err := events.Decode(evt)
	if err != nil {
		payload = events.EventPayload{"raw": evt.Payload}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
