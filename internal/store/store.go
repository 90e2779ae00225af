// Package store defines the persistence port the workflow engine runs against.
package store

import (
	"context"
	"errors"

	"projectflow/internal/domain"
)

// ErrVersionConflict is returned by the Swap methods when the row moved on
// since it was read. The engine re-runs the whole operation on it.
var ErrVersionConflict = errors.New("version conflict")

type ProjectFilter struct {
	OwnerID         string
	SupervisorID    string
	Status          domain.ProjectStatus
	IncludeArchived bool
}

type ReservationFilter struct {
	ProjectID    string
	StudentID    string
	SupervisorID string
	Status       domain.ReservationStatus
}

type EventFilter struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	// Ascending (or After > 0) lists oldest first above After; otherwise
	// newest first, below Before when set.
	Ascending bool
	After     int64
	Before    int64
	Limit     int
}

// Tx is one atomic unit of work. Lookups of missing rows return a
// domain.ErrNotFound kind error; driver trouble comes back as
// domain.ErrPersistenceUnavailable.
type Tx interface {
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	UpsertActor(ctx context.Context, a domain.Actor) error
	ListActors(ctx context.Context) ([]domain.Actor, error)

	// GetProject inside Update holds the project until commit, so changes
	// to the project and its reservations never interleave.
	GetProject(ctx context.Context, id string) (domain.Project, error)
	InsertProject(ctx context.Context, p domain.Project) error
	// SwapProject writes p if the stored version still equals expected.
	SwapProject(ctx context.Context, p domain.Project, expected int64) error
	ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error)

	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	// InsertReservation fails with domain.ErrDuplicateReservation when the
	// student already holds a live reservation on the project.
	InsertReservation(ctx context.Context, r domain.Reservation) error
	// SwapReservation fails with domain.ErrConflictingApproval when the write
	// would leave two approved reservations on one project.
	SwapReservation(ctx context.Context, r domain.Reservation, expected int64) error
	ApprovedReservation(ctx context.Context, projectID string) (domain.Reservation, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]domain.Reservation, error)

	GetTask(ctx context.Context, id string) (domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	SwapTask(ctx context.Context, t domain.Task, expected int64) error
	ListTasks(ctx context.Context, projectID string) ([]domain.Task, error)

	GetTimelineEvent(ctx context.Context, id string) (domain.TimelineEvent, error)
	InsertTimelineEvent(ctx context.Context, ev domain.TimelineEvent) error
	SwapTimelineEvent(ctx context.Context, ev domain.TimelineEvent, expected int64) error
	ListTimeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error)

	AppendEvent(ctx context.Context, e domain.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error)
	LatestEventID(ctx context.Context, projectID string) (int64, error)
}

// Store runs units of work. Update commits when fn returns nil and rolls back
// otherwise; View always rolls back. The caller's context reaches the driver untouched.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}
