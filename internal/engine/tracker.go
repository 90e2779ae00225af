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

// Tracker keeps a project's tasks and timeline. Every mutation needs
// edit_project on a project that is not archived.
type Tracker struct {
	e Engine
}

type NewTask struct {
	ID         string
	ProjectID  string
	ActorID    string
	Title      string
	AssigneeID string
	DueDate    string
}

type NewTimelineEvent struct {
	ID          string
	ProjectID   string
	ActorID     string
	Date        string
	Description string
}

// editable loads the project and checks edit_project for the actor.
func editable(ctx context.Context, tx store.Tx, projectID, actorID string) (domain.Project, domain.Actor, error) {
	p, err := mutableProject(ctx, tx, projectID)
	if err != nil {
		return p, domain.Actor{}, err
	}
	a, err := actor(ctx, tx, actorID)
	if err != nil {
		return p, a, err
	}
	rel, _, err := projectRelationship(ctx, tx, p, a.ID)
	if err != nil {
		return p, a, err
	}
	return p, a, permit(a, auth.ActionEditProject, rel, p.Status, "", "project", p.ID, string(p.Status))
}

func (tr Tracker) AddTask(ctx context.Context, in NewTask) (domain.TaskView, error) {
	e := tr.e
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.TaskView{}, domain.InvalidArgument("task", in.ID, "title is required")
	}
	var due *string
	if in.DueDate != "" {
		d, err := domain.NormalizeDate(in.DueDate)
		if err != nil {
			return domain.TaskView{}, domain.InvalidArgument("task", in.ID, err.Error())
		}
		due = &d
	}
	var out domain.Task
	err := e.mutate(ctx, "add_task", func(tx *txn) error {
		p, a, err := editable(ctx, tx, in.ProjectID, in.ActorID)
		if err != nil {
			return err
		}
		if in.AssigneeID != "" {
			if _, err := tx.GetActor(ctx, in.AssigneeID); err != nil {
				if domain.KindOf(err) == domain.KindNotFound {
					return domain.InvalidArgument("task", in.ID, "unknown assignee "+in.AssigneeID)
				}
				return err
			}
		}
		now := e.stamp()
		t := domain.Task{
			ID:         in.ID,
			ProjectID:  p.ID,
			Title:      title,
			AssigneeID: strPtr(in.AssigneeID),
			Status:     domain.TaskPending,
			DueDate:    due,
			CreatedBy:  a.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
		}
		if t.ID == "" {
			t.ID = e.newID()
		}
		if err := tx.InsertTask(ctx, t); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.TaskAdded, p.ID, "task", t.ID, a.ID, events.EventPayload{
			"title": t.Title, "assignee_id": in.AssigneeID, "due_date": deref(due),
		}); err != nil {
			return err
		}
		tx.moved("task", string(t.Status))
		if in.AssigneeID != a.ID {
			tx.notify(in.AssigneeID, fmt.Sprintf("New task on project %q: %s", p.Title, t.Title))
		}
		out = t
		return nil
	})
	if err != nil {
		return domain.TaskView{}, err
	}
	return e.taskView(out), nil
}

// SetTaskStatus applies a stored transition. Setting the current status again
// is a no-op; overdue can never be set, it is derived from the due date.
func (tr Tracker) SetTaskStatus(ctx context.Context, taskID, actorID string, status domain.TaskStatus) (domain.TaskView, error) {
	e := tr.e
	var out domain.Task
	err := e.mutate(ctx, "set_task_status", func(tx *txn) error {
		t, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		_, a, err := editable(ctx, tx, t.ProjectID, actorID)
		if err != nil {
			return err
		}
		if t.Status == status {
			out = t
			return nil
		}
		if err := ensureTaskTransition(t, status); err != nil {
			return err
		}
		from := t.Status
		prev := t.Version
		t.Status = status
		t.UpdatedAt = e.stamp()
		t.Version++
		if err := tx.SwapTask(ctx, t, prev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.TaskStatusChanged, t.ProjectID, "task", t.ID, a.ID, events.EventPayload{
			"from": from, "to": t.Status,
		}); err != nil {
			return err
		}
		tx.moved("task", string(t.Status))
		out = t
		return nil
	})
	if err != nil {
		return domain.TaskView{}, err
	}
	return e.taskView(out), nil
}

func ensureTaskTransition(t domain.Task, to domain.TaskStatus) error {
	if to == domain.TaskOverdue {
		return domain.InvalidTransition("task", t.ID, string(t.Status), "overdue is derived from the due date and cannot be set")
	}
	switch t.Status {
	case domain.TaskPending:
		if to == domain.TaskInProgress || to == domain.TaskCompleted {
			return nil
		}
	case domain.TaskInProgress:
		if to == domain.TaskPending || to == domain.TaskCompleted {
			return nil
		}
	case domain.TaskCompleted:
		if to == domain.TaskInProgress {
			return nil
		}
	}
	if !to.Stored() {
		return domain.InvalidArgument("task", t.ID, fmt.Sprintf("unknown task status %q", to))
	}
	return domain.InvalidTransition("task", t.ID, string(t.Status), fmt.Sprintf("invalid task status transition %s -> %s", t.Status, to))
}

func (tr Tracker) AddTimelineEvent(ctx context.Context, in NewTimelineEvent) (domain.TimelineEvent, error) {
	e := tr.e
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return domain.TimelineEvent{}, domain.InvalidArgument("timeline_event", in.ID, "description is required")
	}
	date, err := domain.NormalizeDate(in.Date)
	if err != nil {
		return domain.TimelineEvent{}, domain.InvalidArgument("timeline_event", in.ID, err.Error())
	}
	var out domain.TimelineEvent
	err = e.mutate(ctx, "add_timeline_event", func(tx *txn) error {
		p, a, err := editable(ctx, tx, in.ProjectID, in.ActorID)
		if err != nil {
			return err
		}
		now := e.stamp()
		ev := domain.TimelineEvent{
			ID:          in.ID,
			ProjectID:   p.ID,
			Date:        date,
			Description: desc,
			CreatedBy:   a.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
			Version:     1,
		}
		if ev.ID == "" {
			ev.ID = e.newID()
		}
		if err := tx.InsertTimelineEvent(ctx, ev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.TimelineAdded, p.ID, "timeline_event", ev.ID, a.ID, events.EventPayload{
			"date": ev.Date, "description": ev.Description,
		}); err != nil {
			return err
		}
		out = ev
		return nil
	})
	return out, err
}

// MarkTimelineCompleted sets the one mutable flag of a timeline entry.
func (tr Tracker) MarkTimelineCompleted(ctx context.Context, eventID, actorID string, completed bool) (domain.TimelineEvent, error) {
	e := tr.e
	var out domain.TimelineEvent
	err := e.mutate(ctx, "mark_timeline_completed", func(tx *txn) error {
		ev, err := tx.GetTimelineEvent(ctx, eventID)
		if err != nil {
			return err
		}
		_, a, err := editable(ctx, tx, ev.ProjectID, actorID)
		if err != nil {
			return err
		}
		if ev.Completed == completed {
			out = ev
			return nil
		}
		prev := ev.Version
		ev.Completed = completed
		ev.UpdatedAt = e.stamp()
		ev.Version++
		if err := tx.SwapTimelineEvent(ctx, ev, prev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.TimelineCompletedSet, ev.ProjectID, "timeline_event", ev.ID, a.ID, events.EventPayload{
			"completed": completed,
		}); err != nil {
			return err
		}
		out = ev
		return nil
	})
	return out, err
}

func (tr Tracker) ListTasks(ctx context.Context, projectID string) ([]domain.TaskView, error) {
	e := tr.e
	var tasks []domain.Task
	err := e.view(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		tasks, err = tx.ListTasks(ctx, projectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	views := make([]domain.TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, e.taskView(t))
	}
	return views, nil
}

func (tr Tracker) ListTimeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error) {
	var out []domain.TimelineEvent
	err := tr.e.view(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTimeline(ctx, projectID)
		return err
	})
	return out, err
}

// Summary is the dashboard roll-up of one project.
func (tr Tracker) Summary(ctx context.Context, projectID string) (domain.ProjectSummary, error) {
	e := tr.e
	now := e.now()
	var s domain.ProjectSummary
	err := e.view(ctx, func(tx store.Tx) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		s = domain.ProjectSummary{
			ProjectID: p.ID,
			Status:    p.Status,
			Archived:  p.Archived,
			TaskCounts: map[domain.TaskStatus]int{
				domain.TaskPending: 0, domain.TaskInProgress: 0, domain.TaskCompleted: 0, domain.TaskOverdue: 0,
			},
			ReservationCounts: map[domain.ReservationStatus]int{
				domain.ReservationPending: 0, domain.ReservationApproved: 0, domain.ReservationRejected: 0,
			},
		}
		tasks, err := tx.ListTasks(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			s.TaskCounts[t.EffectiveStatus(now)]++
		}
		reservations, err := tx.ListReservations(ctx, store.ReservationFilter{ProjectID: p.ID})
		if err != nil {
			return err
		}
		for _, r := range reservations {
			s.ReservationCounts[r.Status]++
			if r.Status == domain.ReservationApproved {
				s.AssigneeID = strPtr(r.StudentID)
			}
		}
		timeline, err := tx.ListTimeline(ctx, p.ID)
		if err != nil {
			return err
		}
		s.TimelineTotal = len(timeline)
		for _, ev := range timeline {
			if ev.Completed {
				s.TimelineCompleted++
			}
		}
		return nil
	})
	return s, err
}

func (e Engine) taskView(t domain.Task) domain.TaskView {
	return domain.TaskView{Task: t, EffectiveStatus: t.EffectiveStatus(e.now())}
}
