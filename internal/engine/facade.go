package engine

import (
	"context"
	"fmt"
	"strings"

	"projectflow/internal/domain"
	"projectflow/internal/engine/auth"
	"projectflow/internal/events"
	"projectflow/internal/store"
)

func (e Engine) ReserveProject(ctx context.Context, projectID, studentID string) (domain.Reservation, error) {
	return e.Reservations().Reserve(ctx, projectID, studentID)
}

func (e Engine) DecideReservation(ctx context.Context, reservationID, actorID string, decision Decision, feedback string) (domain.Reservation, error) {
	return e.Reservations().decide(ctx, reservationID, actorID, decision, feedback)
}

func (e Engine) SubmitProject(ctx context.Context, projectID, actorID, note string) (domain.Project, error) {
	return e.Lifecycle().Submit(ctx, projectID, actorID, note)
}

func (e Engine) DecideProject(ctx context.Context, projectID, actorID string, decision Decision, feedback string) (domain.Project, error) {
	return e.Lifecycle().Decide(ctx, projectID, actorID, decision, feedback)
}

func (e Engine) CreateProject(ctx context.Context, in NewProject) (domain.Project, error) {
	return e.Lifecycle().Create(ctx, in)
}

func (e Engine) AssignSupervisor(ctx context.Context, projectID, actorID, supervisorID string) (domain.Project, error) {
	return e.Lifecycle().AssignSupervisor(ctx, projectID, actorID, supervisorID)
}

func (e Engine) ArchiveProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Lifecycle().Archive(ctx, projectID, actorID)
}

func (e Engine) ListTasks(ctx context.Context, projectID string) ([]domain.TaskView, error) {
	return e.Tracker().ListTasks(ctx, projectID)
}

func (e Engine) ListTimeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error) {
	return e.Tracker().ListTimeline(ctx, projectID)
}

func (e Engine) ProjectSummary(ctx context.Context, projectID string) (domain.ProjectSummary, error) {
	return e.Tracker().Summary(ctx, projectID)
}

type MutationOp string

const (
	OpAdd          MutationOp = "add"
	OpSetStatus    MutationOp = "set_status"
	OpSetCompleted MutationOp = "set_completed"
)

// TaskMutation is either an add (ProjectID, Title, optional AssigneeID and
// DueDate) or a set_status (TaskID, Status).
type TaskMutation struct {
	Op         MutationOp        `json:"op"`
	ProjectID  string            `json:"project_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	ActorID    string            `json:"actor_id"`
	Title      string            `json:"title,omitempty"`
	AssigneeID string            `json:"assignee_id,omitempty"`
	DueDate    string            `json:"due_date,omitempty"`
	Status     domain.TaskStatus `json:"status,omitempty"`
}

// TimelineMutation is either an add (ProjectID, Date, Description) or a
// set_completed (EventID, Completed).
type TimelineMutation struct {
	Op          MutationOp `json:"op"`
	ProjectID   string     `json:"project_id,omitempty"`
	EventID     string     `json:"event_id,omitempty"`
	ActorID     string     `json:"actor_id"`
	Date        string     `json:"date,omitempty"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
}

func (e Engine) MutateTask(ctx context.Context, m TaskMutation) (domain.TaskView, error) {
	switch m.Op {
	case OpAdd:
		return e.Tracker().AddTask(ctx, NewTask{
			ID: m.TaskID, ProjectID: m.ProjectID, ActorID: m.ActorID,
			Title: m.Title, AssigneeID: m.AssigneeID, DueDate: m.DueDate,
		})
	case OpSetStatus:
		return e.Tracker().SetTaskStatus(ctx, m.TaskID, m.ActorID, m.Status)
	default:
		return domain.TaskView{}, domain.InvalidArgument("task", m.TaskID, fmt.Sprintf("unknown task op %q", m.Op))
	}
}

func (e Engine) MutateTimelineEvent(ctx context.Context, m TimelineMutation) (domain.TimelineEvent, error) {
	switch m.Op {
	case OpAdd:
		return e.Tracker().AddTimelineEvent(ctx, NewTimelineEvent{
			ID: m.EventID, ProjectID: m.ProjectID, ActorID: m.ActorID, Date: m.Date, Description: m.Description,
		})
	case OpSetCompleted:
		return e.Tracker().MarkTimelineCompleted(ctx, m.EventID, m.ActorID, m.Completed)
	default:
		return domain.TimelineEvent{}, domain.InvalidArgument("timeline_event", m.EventID, fmt.Sprintf("unknown timeline op %q", m.Op))
	}
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		return err
	})
	return p, err
}

func (e Engine) ListProjects(ctx context.Context, f store.ProjectFilter) ([]domain.Project, error) {
	var out []domain.Project
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListProjects(ctx, f)
		return err
	})
	return out, err
}

func (e Engine) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	var r domain.Reservation
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		return err
	})
	return r, err
}

// ListReservations filters by any combination of project, student,
// supervisor and status.
func (e Engine) ListReservations(ctx context.Context, f store.ReservationFilter) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListReservations(ctx, f)
		return err
	})
	return out, err
}

// ProjectHistory returns the audit trail of a project, newest first.
func (e Engine) ProjectHistory(ctx context.Context, projectID string, before int64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	err := e.view(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListEvents(ctx, store.EventFilter{ProjectID: projectID, Before: before, Limit: limit})
		return err
	})
	return out, err
}

// EventsAfter pages through the whole audit log oldest first.
func (e Engine) EventsAfter(ctx context.Context, f store.EventFilter) ([]domain.Event, error) {
	var out []domain.Event
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListEvents(ctx, f)
		return err
	})
	return out, err
}

func (e Engine) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.LatestEventID(ctx, projectID)
		return err
	})
	return id, err
}

func (e Engine) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		a, err = tx.GetActor(ctx, id)
		return err
	})
	return a, err
}

func (e Engine) ListActors(ctx context.Context) ([]domain.Actor, error) {
	var out []domain.Actor
	err := e.view(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListActors(ctx)
		return err
	})
	return out, err
}

// RegisterActor mirrors a user from the identity provider. Admin only.
func (e Engine) RegisterActor(ctx context.Context, adminID string, in domain.Actor) (domain.Actor, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return domain.Actor{}, domain.InvalidArgument("actor", "", "id is required")
	}
	if !in.Role.Valid() {
		return domain.Actor{}, domain.InvalidArgument("actor", in.ID, fmt.Sprintf("invalid role %q", in.Role))
	}
	var out domain.Actor
	err := e.mutate(ctx, "register_actor", func(tx *txn) error {
		admin, err := actor(ctx, tx, adminID)
		if err != nil {
			return err
		}
		if err := permit(admin, auth.ActionRegisterActor, auth.Unrelated, "", "", "actor", in.ID, ""); err != nil {
			return err
		}
		return e.putActor(ctx, tx, admin.ID, in, &out)
	})
	return out, err
}

// Bootstrap creates the first admin of an empty directory.
func (e Engine) Bootstrap(ctx context.Context, id, displayName string) (domain.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Actor{}, domain.InvalidArgument("actor", "", "id is required")
	}
	var out domain.Actor
	err := e.mutate(ctx, "bootstrap", func(tx *txn) error {
		existing, err := tx.ListActors(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.PermissionDenied("actor", id, "", "directory already has actors; ask an admin to register you")
		}
		return e.putActor(ctx, tx, id, domain.Actor{ID: id, Role: domain.RoleAdmin, DisplayName: displayName}, &out)
	})
	return out, err
}

func (e Engine) putActor(ctx context.Context, tx *txn, by string, a domain.Actor, out *domain.Actor) error {
	prev, err := tx.GetActor(ctx, a.ID)
	switch {
	case err == nil:
		a.CreatedAt = prev.CreatedAt
	case domain.KindOf(err) == domain.KindNotFound:
		a.CreatedAt = e.stamp()
	default:
		return err
	}
	if err := tx.UpsertActor(ctx, a); err != nil {
		return err
	}
	if err := e.writer().Append(ctx, tx, events.ActorRegistered, "", "actor", a.ID, by, events.EventPayload{
		"role": a.Role, "display_name": a.DisplayName,
	}); err != nil {
		return err
	}
	*out = a
	return nil
}
