package engine

import (
	"context"
	"fmt"

	"projectflow/internal/domain"
	"projectflow/internal/engine/auth"
	"projectflow/internal/events"
	"projectflow/internal/store"
)

// Reservations runs the reserve / approve / reject / revoke workflow.
type Reservations struct {
	e Engine
}

// Reserve records a student's claim on a project as pending.
func (rs Reservations) Reserve(ctx context.Context, projectID, studentID string) (domain.Reservation, error) {
	e := rs.e
	var out domain.Reservation
	err := e.mutate(ctx, "reserve_project", func(tx *txn) error {
		p, err := mutableProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, studentID)
		if err != nil {
			return err
		}
		rel, _, err := projectRelationship(ctx, tx, p, a.ID)
		if err != nil {
			return err
		}
		if err := permit(a, auth.ActionCreateReservation, rel, p.Status, "", "project", p.ID, string(p.Status)); err != nil {
			return err
		}
		existing, err := tx.ListReservations(ctx, store.ReservationFilter{ProjectID: p.ID, StudentID: a.ID})
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.Status.Live() {
				return &domain.Error{
					Kind:    domain.KindDuplicateReservation,
					Entity:  "project",
					ID:      p.ID,
					State:   string(p.Status),
					Msg:     fmt.Sprintf("student %s already holds reservation %s (%s)", a.ID, r.ID, r.Status),
					Details: map[string]string{"reservation_id": r.ID, "reservation_status": string(r.Status)},
				}
			}
		}
		now := e.stamp()
		r := domain.Reservation{
			ID:           e.newID(),
			ProjectID:    p.ID,
			StudentID:    a.ID,
			SupervisorID: p.SupervisorID,
			Status:       domain.ReservationPending,
			ReservedAt:   now,
			UpdatedAt:    now,
			Version:      1,
		}
		// the live index still guards against a racing insert
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, events.ReservationCreated, p.ID, "reservation", r.ID, a.ID, events.EventPayload{
			"student_id": a.ID, "status": r.Status,
		}); err != nil {
			return err
		}
		tx.moved("reservation", string(r.Status))
		tx.notify(deref(r.SupervisorID), fmt.Sprintf("%s requested to work on project %q", a.ID, p.Title))
		out = r
		return nil
	})
	return out, err
}

// Approve is idempotent: an already approved reservation comes back unchanged.
// A second claimant gets ConflictingApproval naming the current holder.
func (rs Reservations) Approve(ctx context.Context, reservationID, actorID, feedback string) (domain.Reservation, error) {
	return rs.decide(ctx, reservationID, actorID, DecisionApprove, feedback)
}

// Reject is legal only while pending.
func (rs Reservations) Reject(ctx context.Context, reservationID, actorID, feedback string) (domain.Reservation, error) {
	return rs.decide(ctx, reservationID, actorID, DecisionReject, feedback)
}

// Revoke releases an approved claim while the project is not under review,
// which is how a reviewer resolves a ConflictingApproval.
func (rs Reservations) Revoke(ctx context.Context, reservationID, actorID, feedback string) (domain.Reservation, error) {
	return rs.decide(ctx, reservationID, actorID, DecisionRevoke, feedback)
}

func (rs Reservations) decide(ctx context.Context, reservationID, actorID string, decision Decision, feedback string) (domain.Reservation, error) {
	e := rs.e
	var action auth.Action
	var target domain.ReservationStatus
	var evt string
	switch decision {
	case DecisionApprove:
		action, target, evt = auth.ActionApproveReservation, domain.ReservationApproved, events.ReservationApproved
	case DecisionReject:
		action, target, evt = auth.ActionRejectReservation, domain.ReservationRejected, events.ReservationRejected
	case DecisionRevoke:
		action, target, evt = auth.ActionRevokeReservation, domain.ReservationRejected, events.ReservationRevoked
	default:
		return domain.Reservation{}, domain.InvalidArgument("reservation", reservationID, fmt.Sprintf("unknown decision %q", decision))
	}
	var out domain.Reservation
	err := e.mutate(ctx, string(action), func(tx *txn) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, r.ProjectID)
		if err != nil {
			return err
		}
		a, err := actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		rel := reservationRelationship(p, r, a.ID)
		if decision == DecisionApprove && r.Status == domain.ReservationApproved {
			// repeat approvals stay no-ops after the project moves on
			if err := allowed(a, action, rel, p.Status, "reservation", r.ID, string(r.Status)); err != nil {
				return err
			}
			out = r
			return nil
		}
		if err := permit(a, action, rel, p.Status, r.Status, "reservation", r.ID, string(r.Status)); err != nil {
			return err
		}
		if decision == DecisionApprove {
			holder, err := approvedHolder(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if holder != nil {
				return &domain.Error{
					Kind:   domain.KindConflictingApproval,
					Entity: "reservation",
					ID:     r.ID,
					State:  string(r.Status),
					Msg:    fmt.Sprintf("project %s is already claimed by %s; reject or revoke reservation %s first", p.ID, holder.StudentID, holder.ID),
					Details: map[string]string{
						"project_id":            p.ID,
						"holder_reservation_id": holder.ID,
						"holder_student_id":     holder.StudentID,
					},
				}
			}
		}
		from := r.Status
		prev := r.Version
		r.Status = target
		r.Feedback = feedback
		r.DecidedBy = &a.ID
		r.UpdatedAt = e.stamp()
		r.Version++
		// reservations_approved_idx catches a concurrent approval the read above missed
		if err := tx.SwapReservation(ctx, r, prev); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, evt, p.ID, "reservation", r.ID, a.ID, events.EventPayload{
			"from": from, "to": r.Status, "student_id": r.StudentID, "feedback": feedback,
		}); err != nil {
			return err
		}
		tx.moved("reservation", string(r.Status))
		verb := string(r.Status)
		if decision == DecisionRevoke {
			verb = "revoked"
		}
		tx.notify(r.StudentID, fmt.Sprintf("Your reservation on project %q was %s", p.Title, verb))
		out = r
		return nil
	})
	return out, err
}
