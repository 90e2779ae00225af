// Package auth holds the role policy table for workflow actions.
// Nothing here touches storage: callers resolve the actor's role and relationship
// first and turn a false answer into a domain error.
package auth

import (
	"projectflow/internal/domain"
)

type Action string

const (
	ActionCreateProject      Action = "create_project"
	ActionEditProject        Action = "edit_project"
	ActionSubmitProject      Action = "submit_project"
	ActionApproveProject     Action = "approve_project"
	ActionRejectProject      Action = "reject_project"
	ActionCreateReservation  Action = "create_reservation"
	ActionApproveReservation Action = "approve_reservation"
	ActionRejectReservation  Action = "reject_reservation"
	ActionRevokeReservation  Action = "revoke_reservation"
	ActionAssignSupervisor   Action = "assign_supervisor"
	ActionArchiveProject     Action = "archive_project"
	ActionRegisterActor      Action = "register_actor"
)

// Actions lists every guarded action.
var Actions = []Action{
	ActionCreateProject, ActionEditProject, ActionSubmitProject,
	ActionApproveProject, ActionRejectProject,
	ActionCreateReservation, ActionApproveReservation, ActionRejectReservation, ActionRevokeReservation,
	ActionAssignSupervisor, ActionArchiveProject, ActionRegisterActor,
}

// Relationship is a bit set describing how an actor relates to a project.
type Relationship uint8

const (
	RelOwner Relationship = 1 << iota
	// RelSupervisor: assigned supervisor of the project or of the reservation in question.
	RelSupervisor
	// RelAssignee: student holding the project's approved reservation.
	RelAssignee
)

// Unrelated is the zero relationship.
const Unrelated Relationship = 0

func (r Relationship) Has(other Relationship) bool { return r&other != 0 }

func (r Relationship) String() string {
	if r == Unrelated {
		return "unrelated"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "+"
		}
		s += name
	}
	if r.Has(RelOwner) {
		add("owner")
	}
	if r.Has(RelSupervisor) {
		add("supervisor")
	}
	if r.Has(RelAssignee) {
		add("assignee")
	}
	return s
}

// Policy carries the one configurable knob: which roles may submit their own
// project without holding an approved reservation.
type Policy struct {
	ReviewerRoles []domain.Role
}

func DefaultPolicy() Policy {
	return Policy{ReviewerRoles: []domain.Role{
		domain.RoleAdmin, domain.RoleSupervisor, domain.RoleLecturer, domain.RoleProjectManager,
	}}
}

// CanSelfSubmit reports whether an owner with this role may skip the reservation requirement.
func (p Policy) CanSelfSubmit(role domain.Role) bool {
	for _, r := range p.ReviewerRoles {
		if r == role {
			return true
		}
	}
	return false
}

// CanPerform answers the role and relationship half of the policy table.
func CanPerform(role domain.Role, action Action, rel Relationship, status domain.ProjectStatus) bool {
	if !role.Valid() {
		return false
	}
	switch action {
	case ActionCreateProject:
		return true
	case ActionEditProject:
		if role == domain.RoleAdmin {
			return true
		}
		if status == domain.ProjectApproved {
			return false
		}
		return rel.Has(RelOwner | RelSupervisor)
	case ActionSubmitProject:
		return rel.Has(RelOwner | RelAssignee)
	case ActionApproveProject, ActionRejectProject:
		return reviewer(role, rel)
	case ActionApproveReservation, ActionRejectReservation, ActionRevokeReservation:
		// role alone; a project may not have a supervisor yet
		return role == domain.RoleAdmin || role == domain.RoleProjectManager ||
			role == domain.RoleSupervisor || role == domain.RoleLecturer
	case ActionCreateReservation:
		return role == domain.RoleStudent
	case ActionAssignSupervisor:
		return role == domain.RoleProjectManager || role == domain.RoleAdmin
	case ActionArchiveProject, ActionRegisterActor:
		return role == domain.RoleAdmin
	default:
		return false
	}
}

func reviewer(role domain.Role, rel Relationship) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleProjectManager:
		return true
	case domain.RoleSupervisor, domain.RoleLecturer:
		return rel.Has(RelSupervisor)
	default:
		return false
	}
}

// InState answers the state precondition half. reservation is ignored for
// project-level actions.
func InState(action Action, project domain.ProjectStatus, reservation domain.ReservationStatus) bool {
	switch action {
	case ActionSubmitProject, ActionCreateReservation:
		return project == domain.ProjectNotSubmitted || project == domain.ProjectRejected
	case ActionApproveProject, ActionRejectProject:
		return project == domain.ProjectPending
	case ActionApproveReservation:
		return reservation == domain.ReservationPending &&
			(project == domain.ProjectNotSubmitted || project == domain.ProjectRejected)
	case ActionRejectReservation:
		// leftovers can still be turned down once the project is under review
		return reservation == domain.ReservationPending
	case ActionRevokeReservation:
		return reservation == domain.ReservationApproved &&
			(project == domain.ProjectNotSubmitted || project == domain.ProjectRejected)
	case ActionAssignSupervisor:
		return project != domain.ProjectApproved
	default:
		return true
	}
}
