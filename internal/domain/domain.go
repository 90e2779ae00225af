package domain

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleStudent        Role = "student"
	RoleEmployer       Role = "employer"
	RoleSupervisor     Role = "supervisor"
	RoleLecturer       Role = "lecturer"
	RoleProjectManager Role = "project_manager"
	RoleAdmin          Role = "admin"
)

// Roles lists every role the portal knows about.
var Roles = []Role{RoleStudent, RoleEmployer, RoleSupervisor, RoleLecturer, RoleProjectManager, RoleAdmin}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts the canonical names plus the dashed spelling used by some front ends.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

type ProjectStatus string

const (
	ProjectNotSubmitted ProjectStatus = "not_submitted"
	ProjectPending      ProjectStatus = "pending"
	ProjectApproved     ProjectStatus = "approved"
	ProjectRejected     ProjectStatus = "rejected"
)

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationApproved ReservationStatus = "approved"
	ReservationRejected ReservationStatus = "rejected"
)

// Live reports whether the reservation still counts against the one-live-per-student rule.
func (s ReservationStatus) Live() bool {
	return s == ReservationPending || s == ReservationApproved
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	// TaskOverdue is only ever derived, never stored.
	TaskOverdue TaskStatus = "overdue"
)

func (s TaskStatus) Stored() bool {
	return s == TaskPending || s == TaskInProgress || s == TaskCompleted
}

type Actor struct {
	ID          string `json:"id"`
	Role        Role   `json:"role" enum:"student,employer,supervisor,lecturer,project_manager,admin"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	OwnerID      string        `json:"owner_id"`
	SupervisorID *string       `json:"supervisor_id,omitempty"`
	Status       ProjectStatus `json:"status" enum:"not_submitted,pending,approved,rejected"`
	Note         string        `json:"note,omitempty"`
	Feedback     string        `json:"feedback,omitempty"`
	ReviewedBy   *string       `json:"reviewed_by,omitempty"`
	SubmittedAt  *string       `json:"submitted_at,omitempty" format:"date-time"`
	DecidedAt    *string       `json:"decided_at,omitempty" format:"date-time"`
	Archived     bool          `json:"archived"`
	Version      int64         `json:"version"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	UpdatedAt    string        `json:"updated_at" format:"date-time"`
}

type Reservation struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	StudentID    string            `json:"student_id"`
	SupervisorID *string           `json:"supervisor_id,omitempty"`
	Status       ReservationStatus `json:"status" enum:"pending,approved,rejected"`
	Feedback     string            `json:"feedback,omitempty"`
	DecidedBy    *string           `json:"decided_by,omitempty"`
	ReservedAt   string            `json:"reserved_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
	Version      int64             `json:"version"`
}

type Task struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	AssigneeID *string    `json:"assignee_id,omitempty"`
	Status     TaskStatus `json:"status" enum:"pending,in_progress,completed"`
	DueDate    *string    `json:"due_date,omitempty"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	UpdatedAt  string     `json:"updated_at" format:"date-time"`
	Version    int64      `json:"version"`
}

// EffectiveStatus folds the overdue view status into the stored one.
func (t Task) EffectiveStatus(now time.Time) TaskStatus {
	if t.Status == TaskCompleted || t.DueDate == nil {
		return t.Status
	}
	due, err := DueInstant(*t.DueDate)
	if err != nil {
		return t.Status
	}
	if now.After(due) {
		return TaskOverdue
	}
	return t.Status
}

// TaskView is what dashboards read: the stored task plus its derived status.
type TaskView struct {
	Task
	EffectiveStatus TaskStatus `json:"effective_status" enum:"pending,in_progress,completed,overdue"`
}

type TimelineEvent struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
	Version     int64  `json:"version"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ProjectSummary struct {
	ProjectID         string                    `json:"project_id"`
	Status            ProjectStatus             `json:"status"`
	Archived          bool                      `json:"archived"`
	AssigneeID        *string                   `json:"assignee_id,omitempty"`
	TaskCounts        map[TaskStatus]int        `json:"task_counts"`
	ReservationCounts map[ReservationStatus]int `json:"reservation_counts"`
	TimelineTotal     int                       `json:"timeline_total"`
	TimelineCompleted int                       `json:"timeline_completed"`
}

const dateLayout = "2006-01-02"

// NormalizeDate accepts a calendar date or an RFC3339 timestamp.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(dateLayout, s); err == nil {
		return s, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// DueInstant is the moment after which a due date counts as missed.
// A bare calendar date is due at the end of that day (UTC).
func DueInstant(s string) (time.Time, error) {
	if d, err := time.Parse(dateLayout, s); err == nil {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return time.Parse(time.RFC3339, s)
}
