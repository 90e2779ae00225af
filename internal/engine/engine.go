// Package engine is the workflow engine: project lifecycle, reservations and
// the task/timeline tracker behind one facade. Every mutation runs in a single
// store transaction together with its audit event; notifications go out only
// after commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"projectflow/internal/config"
	"projectflow/internal/domain"
	"projectflow/internal/engine/auth"
	"projectflow/internal/events"
	"projectflow/internal/logger"
	"projectflow/internal/metrics"
	"projectflow/internal/notify"
	"projectflow/internal/store"
)

type Engine struct {
	Store    store.Store
	Events   events.Writer
	Policy   auth.Policy
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Retry    RetryPolicy
	Now      func() time.Time
	NewID    func() string
}

func New(st store.Store, cfg *config.Config) Engine {
	e := Engine{
		Store:  st,
		Policy: auth.DefaultPolicy(),
		Retry:  DefaultRetryPolicy(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
	if cfg == nil {
		return e
	}
	r := cfg.Engine.Retry
	e.Retry.Attempts = r.Attempts
	e.Retry.InitialBackoff = r.InitialBackoff
	e.Retry.MaxBackoff = r.MaxBackoff
	if len(cfg.Engine.ReviewerRoles) > 0 {
		e.Policy.ReviewerRoles = nil
		for _, name := range cfg.Engine.ReviewerRoles {
			role, err := domain.ParseRole(name)
			if err != nil {
				logger.Warn().Str("role", name).Msg("ignoring unknown reviewer role")
				continue
			}
			e.Policy.ReviewerRoles = append(e.Policy.ReviewerRoles, role)
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Lifecycle, Reservations and Tracker expose the components on their own.
func (e Engine) Lifecycle() Lifecycle       { return Lifecycle{e: e} }
func (e Engine) Reservations() Reservations { return Reservations{e: e} }
func (e Engine) Tracker() Tracker           { return Tracker{e: e} }

type notice struct {
	userID  string
	message string
}

type transition struct {
	entity string
	status string
}

// txn is one attempt of a mutation. It collects what to announce once the
// transaction commits.
type txn struct {
	store.Tx
	notices     []notice
	transitions []transition
}

func (t *txn) notify(userID, message string) {
	if userID == "" {
		return
	}
	t.notices = append(t.notices, notice{userID: userID, message: message})
}

func (t *txn) moved(entity, status string) {
	t.transitions = append(t.transitions, transition{entity: entity, status: status})
}

// mutate runs fn in a transaction under the retry policy and, on commit,
// records metrics and dispatches notices from the final attempt.
func (e Engine) mutate(ctx context.Context, op string, fn func(*txn) error) error {
	start := time.Now()
	var last *txn
	err := e.Retry.do(ctx, op, e.Metrics, func() error {
		return e.Store.Update(ctx, func(tx store.Tx) error {
			last = &txn{Tx: tx}
			return fn(last)
		})
	})
	e.Metrics.ObserveOperation(op, time.Since(start))
	if err != nil {
		e.Metrics.Failure(op, string(domain.KindOf(err)))
		return err
	}
	for _, tr := range last.transitions {
		e.Metrics.Transition(tr.entity, tr.status)
	}
	e.dispatch(ctx, last.notices)
	return nil
}

func (e Engine) view(ctx context.Context, fn func(store.Tx) error) error {
	return e.Retry.do(ctx, "view", e.Metrics, func() error {
		return e.Store.View(ctx, fn)
	})
}

func (e Engine) dispatch(ctx context.Context, notices []notice) {
	if e.Notifier == nil {
		return
	}
	for _, n := range notices {
		if err := e.Notifier.Notify(ctx, n.userID, n.message); err != nil {
			e.Metrics.NotifyFailed()
			logger.Warn().Err(err).Str("recipient", n.userID).Msg("notification failed")
		}
	}
}

// actor resolves the caller. Unknown ids are refused rather than reported missing.
func actor(ctx context.Context, tx store.Tx, id string) (domain.Actor, error) {
	if id == "" {
		return domain.Actor{}, domain.PermissionDenied("actor", "", "", "actor id is required")
	}
	a, err := tx.GetActor(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return a, domain.PermissionDenied("actor", id, "", "unknown actor")
	}
	return a, err
}

// mutableProject loads a project that is about to change.
func mutableProject(ctx context.Context, tx store.Tx, id string) (domain.Project, error) {
	p, err := tx.GetProject(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Archived {
		return p, domain.ProjectArchived(p.ID)
	}
	return p, nil
}

// approvedHolder returns the approved reservation of a project, if any.
func approvedHolder(ctx context.Context, tx store.Tx, projectID string) (*domain.Reservation, error) {
	r, err := tx.ApprovedReservation(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func projectRelationship(ctx context.Context, tx store.Tx, p domain.Project, actorID string) (auth.Relationship, *domain.Reservation, error) {
	rel := auth.Unrelated
	if p.OwnerID == actorID {
		rel |= auth.RelOwner
	}
	if p.SupervisorID != nil && *p.SupervisorID == actorID {
		rel |= auth.RelSupervisor
	}
	holder, err := approvedHolder(ctx, tx, p.ID)
	if err != nil {
		return rel, nil, err
	}
	if holder != nil && holder.StudentID == actorID {
		rel |= auth.RelAssignee
	}
	return rel, holder, nil
}

func reservationRelationship(p domain.Project, r domain.Reservation, actorID string) auth.Relationship {
	rel := auth.Unrelated
	if p.OwnerID == actorID {
		rel |= auth.RelOwner
	}
	if (p.SupervisorID != nil && *p.SupervisorID == actorID) || (r.SupervisorID != nil && *r.SupervisorID == actorID) {
		rel |= auth.RelSupervisor
	}
	if r.StudentID == actorID && r.Status == domain.ReservationApproved {
		rel |= auth.RelAssignee
	}
	return rel
}

// permit applies the policy table: role and relationship first, then state.
func permit(a domain.Actor, action auth.Action, rel auth.Relationship, project domain.ProjectStatus, reservation domain.ReservationStatus, entity, id, state string) error {
	if err := allowed(a, action, rel, project, entity, id, state); err != nil {
		return err
	}
	if !auth.InState(action, project, reservation) {
		details := map[string]string{"project_status": string(project)}
		if reservation != "" {
			details["reservation_status"] = string(reservation)
		}
		return &domain.Error{
			Kind:    domain.KindInvalidTransition,
			Entity:  entity,
			ID:      id,
			State:   state,
			Msg:     fmt.Sprintf("%s is not allowed now", action),
			Details: details,
		}
	}
	return nil
}

// allowed is the role and relationship half of permit.
func allowed(a domain.Actor, action auth.Action, rel auth.Relationship, project domain.ProjectStatus, entity, id, state string) error {
	if auth.CanPerform(a.Role, action, rel, project) {
		return nil
	}
	return &domain.Error{
		Kind:    domain.KindPermissionDenied,
		Entity:  entity,
		ID:      id,
		State:   state,
		Msg:     fmt.Sprintf("%s %s may not %s", a.Role, a.ID, action),
		Details: map[string]string{"relationship": rel.String()},
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
