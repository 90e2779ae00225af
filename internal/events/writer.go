// Package events writes the audit trail. Every committed mutation leaves one row.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"projectflow/internal/domain"
	"projectflow/internal/store"
)

// Event types.
const (
	ActorRegistered      = "actor.registered"
	ProjectCreated       = "project.created"
	ProjectSubmitted     = "project.submitted"
	ProjectApproved      = "project.approved"
	ProjectRejected      = "project.rejected"
	ProjectArchived      = "project.archived"
	SupervisorAssigned   = "project.supervisor_assigned"
	ReservationCreated   = "reservation.created"
	ReservationApproved  = "reservation.approved"
	ReservationRejected  = "reservation.rejected"
	ReservationRevoked   = "reservation.revoked"
	TaskAdded            = "task.added"
	TaskStatusChanged    = "task.status_changed"
	TimelineAdded        = "timeline.added"
	TimelineCompletedSet = "timeline.completed_set"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx store.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return tx.AppendEvent(ctx, domain.Event{
		TS:         w.Now().UTC().Format(time.RFC3339Nano),
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	})
}

// Decode unpacks an event payload; an empty payload decodes to an empty map.
func Decode(e domain.Event) (EventPayload, error) {
	p := EventPayload{}
	if e.Payload == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
		return nil, fmt.Errorf("decode event %d payload: %w", e.ID, err)
	}
	return p, nil
}
