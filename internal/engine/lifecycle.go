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

// Lifecycle is the per-project state machine:
// not_submitted -> pending -> approved | rejected, and rejected -> pending again.
type Lifecycle struct {
	e Engine
}

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	// DecisionRevoke releases an approved reservation. Reservations only.
	DecisionRevoke Decision = "revoke"
)

func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionApprove, DecisionReject, DecisionRevoke:
		return d, nil
	}
	return "", domain.InvalidArgument("decision", s, "want approve, reject or revoke")
}

type NewProject struct {
	ID           string
	Title        string
	Description  string
	OwnerID      string
	SupervisorID string
}

func (l Lifecycle) Create(ctx context.Context, in NewProject) (domain.Project, error) {
	e := l.e
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return domain.Project{}, domain.InvalidArgument("project", in.ID, "title is required")
	}
	var out domain.Project
	err := e.mutate(ctx, "create_project", func(tx *txn) error {
		owner, err := actor(ctx, tx, in.OwnerID)
		if err != nil {
			return err
		}
		if err := permit(owner, auth.ActionCreateProject, auth.RelOwner, domain.ProjectNotSubmitted, "", "project", in.ID, ""); err != nil {
			return err
		}
		if in.SupervisorID != "" {
			if err := ensureSupervisor(ctx, tx, in.ID, in.SupervisorID); err != nil {
				return err
			}
		}
		now := e.stamp()
		p := domain.Project{
			ID:           in.ID,
			Title:        in.Title,
			Description:  in.Description,
			OwnerID:      owner.ID,
			SupervisorID: strPtr(in.SupervisorID),
			Status:       domain.ProjectNotSubmitted,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if p.ID == "" {
			p.ID = e.newID()
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, owner.ID, events.EventPayload{
			"title": p.Title, "status": p.Status, "supervisor_id": in.SupervisorID,
		}); err != nil {
			return err
		}
		tx.moved("project", string(p.Status))
		out = p
		return nil
	})
	return out, err
}

// Submit moves a project to pending. Unless the owner holds a self-submitting
// role, the project must already be claimed by an approved reservation.
func (l Lifecycle) Submit(ctx context.Context, projectID, actorID, note string) (domain.Project, error) {
	e := l.e
	var out domain.Project
	err := e.mutate(ctx, "submit_project", func(tx *txn) error {
		p, err := mutableProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rel, holder, err := projectRelationship(ctx, tx, p, a.ID)
		if err != nil {
			return err
		}
		if err := permit(a, auth.ActionSubmitProject, rel, p.Status, "", "project", p.ID, string(p.Status)); err != nil {
			return err
		}
		selfSubmit := rel.Has(auth.RelOwner) && e.Policy.CanSelfSubmit(a.Role)
		if holder == nil && !selfSubmit {
			return domain.InvalidTransition("project", p.ID, string(p.Status), "submission requires an approved reservation")
		}
		from := p.Status
		now := e.stamp()
		prev := p.Version
		p.Status = domain.ProjectPending
		p.Note = note
		p.SubmittedAt = &now
		p.UpdatedAt = now
		p.Version++
		if err := tx.SwapProject(ctx, p, prev); err != nil {
			return err
		}
		payload := events.EventPayload{"from": from, "to": p.Status, "note": note, "self_submitted": holder == nil}
		if holder != nil {
			payload["reservation_id"] = holder.ID
		}
		if err := e.writer().Append(ctx, tx, events.ProjectSubmitted, p.ID, "project", p.ID, a.ID, payload); err != nil {
			return err
		}
		tx.moved("project", string(p.Status))
		tx.notify(deref(p.SupervisorID), fmt.Sprintf("Project %q was submitted for review", p.Title))
		out = p
		return nil
	})
	return out, err
}

// Decide approves or rejects a pending project.
func (l Lifecycle) Decide(ctx context.Context, projectID, actorID string, decision Decision, feedback string) (domain.Project, error) {
	e := l.e
	action, target, evt := auth.ActionApproveProject, domain.ProjectApproved, events.ProjectApproved
	switch decision {
	case DecisionApprove:
	case DecisionReject:
		action, target, evt = auth.ActionRejectProject, domain.ProjectRejected, events.ProjectRejected
	default:
		return domain.Project{}, domain.InvalidArgument("project", projectID, fmt.Sprintf("decision %q does not apply to projects", decision))
	}
	var out domain.Project
	err := e.mutate(ctx, string(action), func(tx *txn) error {
		p, err := mutableProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rel, holder, err := projectRelationship(ctx, tx, p, a.ID)
		if err != nil {
			return err
		}
		if err := permit(a, action, rel, p.Status, "", "project", p.ID, string(p.Status)); err != nil {
			return err
		}
		now := e.stamp()
		prev := p.Version
		p.Status = target
		p.Feedback = feedback
		p.ReviewedBy = &a.ID
		p.DecidedAt = &now
		p.UpdatedAt = now
		p.Version++
		if err := tx.SwapProject(ctx, p, prev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, evt, p.ID, "project", p.ID, a.ID, events.EventPayload{
			"from": domain.ProjectPending, "to": p.Status, "feedback": feedback,
		}); err != nil {
			return err
		}
		tx.moved("project", string(p.Status))
		msg := fmt.Sprintf("Project %q was %s", p.Title, p.Status)
		tx.notify(p.OwnerID, msg)
		if holder != nil && holder.StudentID != p.OwnerID {
			tx.notify(holder.StudentID, msg)
		}
		out = p
		return nil
	})
	return out, err
}

// AssignSupervisor sets the reviewing supervisor and carries it over to the
// project's live reservations.
func (l Lifecycle) AssignSupervisor(ctx context.Context, projectID, actorID, supervisorID string) (domain.Project, error) {
	e := l.e
	var out domain.Project
	err := e.mutate(ctx, "assign_supervisor", func(tx *txn) error {
		p, err := mutableProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rel, _, err := projectRelationship(ctx, tx, p, a.ID)
		if err != nil {
			return err
		}
		if err := permit(a, auth.ActionAssignSupervisor, rel, p.Status, "", "project", p.ID, string(p.Status)); err != nil {
			return err
		}
		if err := ensureSupervisor(ctx, tx, p.ID, supervisorID); err != nil {
			return err
		}
		previous := deref(p.SupervisorID)
		now := e.stamp()
		prev := p.Version
		p.SupervisorID = &supervisorID
		p.UpdatedAt = now
		p.Version++
		if err := tx.SwapProject(ctx, p, prev); err != nil {
			return err
		}
		live, err := tx.ListReservations(ctx, store.ReservationFilter{ProjectID: p.ID})
		if err != nil {
			return err
		}
		for _, r := range live {
			if !r.Status.Live() {
				continue
			}
			rprev := r.Version
			r.SupervisorID = &supervisorID
			r.UpdatedAt = now
			r.Version++
			if err := tx.SwapReservation(ctx, r, rprev); err != nil {
				return err
			}
		}
		if err := e.writer().Append(ctx, tx, events.SupervisorAssigned, p.ID, "project", p.ID, a.ID, events.EventPayload{
			"supervisor_id": supervisorID, "previous_supervisor_id": previous,
		}); err != nil {
			return err
		}
		tx.notify(supervisorID, fmt.Sprintf("You now supervise project %q", p.Title))
		out = p
		return nil
	})
	return out, err
}

// Archive freezes a project. Archiving twice is a no-op.
func (l Lifecycle) Archive(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	e := l.e
	var out domain.Project
	err := e.mutate(ctx, "archive_project", func(tx *txn) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rel, _, err := projectRelationship(ctx, tx, p, a.ID)
		if err != nil {
			return err
		}
		if err := permit(a, auth.ActionArchiveProject, rel, p.Status, "", "project", p.ID, string(p.Status)); err != nil {
			return err
		}
		if p.Archived {
			out = p
			return nil
		}
		prev := p.Version
		p.Archived = true
		p.UpdatedAt = e.stamp()
		p.Version++
		if err := tx.SwapProject(ctx, p, prev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.ProjectArchived, p.ID, "project", p.ID, a.ID, events.EventPayload{"status": p.Status}); err != nil {
			return err
		}
		tx.moved("project", "archived")
		out = p
		return nil
	})
	return out, err
}

func ensureSupervisor(ctx context.Context, tx store.Tx, projectID, supervisorID string) error {
	s, err := tx.GetActor(ctx, supervisorID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.InvalidArgument("project", projectID, "unknown supervisor "+supervisorID)
		}
		return err
	}
	if s.Role != domain.RoleSupervisor && s.Role != domain.RoleLecturer {
		return domain.InvalidArgument("project", projectID, fmt.Sprintf("%s is a %s, not a supervisor or lecturer", s.ID, s.Role))
	}
	return nil
}
