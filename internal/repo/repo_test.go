package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectflow/internal/db"
	"projectflow/internal/domain"
	"projectflow/internal/migrate"
	"projectflow/internal/store"
)

const ts = "2024-01-01T00:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	r := Repo{DB: conn, Dialect: dialect}
	ctx := context.Background()
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		for id, role := range map[string]domain.Role{"emp": domain.RoleEmployer, "sup": domain.RoleSupervisor, "stu-a": domain.RoleStudent, "stu-b": domain.RoleStudent} {
			if err := tx.UpsertActor(ctx, domain.Actor{ID: id, Role: role, CreatedAt: ts}); err != nil {
				return err
			}
		}
		sup := "sup"
		return tx.InsertProject(ctx, domain.Project{ID: "p1", Title: "P1", OwnerID: "emp", SupervisorID: &sup,
			Status: domain.ProjectNotSubmitted, Version: 1, CreatedAt: ts, UpdatedAt: ts})
	}))
	return r
}

func reservation(id, student string, status domain.ReservationStatus) domain.Reservation {
	return domain.Reservation{ID: id, ProjectID: "p1", StudentID: student, Status: status, ReservedAt: ts, UpdatedAt: ts, Version: 1}
}

func TestProjectRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	var p domain.Project
	require.NoError(t, r.View(ctx, func(tx store.Tx) error {
		var err error
		p, err = tx.GetProject(ctx, "p1")
		return err
	}))
	assert.Equal(t, "sup", *p.SupervisorID)
	assert.Nil(t, p.ReviewedBy)
	assert.False(t, p.Archived)

	p.Status = domain.ProjectPending
	p.Note = "please review"
	p.Archived = true
	p.Version = 2
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error { return tx.SwapProject(ctx, p, 1) }))

	err := r.Update(ctx, func(tx store.Tx) error { return tx.SwapProject(ctx, p, 1) })
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	var listed []domain.Project
	require.NoError(t, r.View(ctx, func(tx store.Tx) error {
		var err error
		listed, err = tx.ListProjects(ctx, store.ProjectFilter{})
		return err
	}))
	assert.Empty(t, listed, "archived projects are hidden by default")
	require.NoError(t, r.View(ctx, func(tx store.Tx) error {
		var err error
		listed, err = tx.ListProjects(ctx, store.ProjectFilter{IncludeArchived: true, Status: domain.ProjectPending})
		return err
	}))
	require.Len(t, listed, 1)
	assert.Equal(t, "please review", listed[0].Note)
}

func TestMissingRowsAreNotFound(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	err := r.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetReservation(ctx, "nope")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = r.Update(ctx, func(tx store.Tx) error {
		return tx.SwapTask(ctx, domain.Task{ID: "nope", Status: domain.TaskPending, Version: 2}, 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLiveReservationIndex(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, reservation("r1", "stu-a", domain.ReservationPending))
	}))
	err := r.Update(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, reservation("r2", "stu-a", domain.ReservationPending))
	})
	assert.Equal(t, domain.KindDuplicateReservation, domain.KindOf(err))

	// rejected history does not count
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, reservation("r3", "stu-b", domain.ReservationRejected))
	}))
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		return tx.InsertReservation(ctx, reservation("r4", "stu-b", domain.ReservationPending))
	}))
}

func TestSingleApprovedIndex(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertReservation(ctx, reservation("r1", "stu-a", domain.ReservationPending)); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, reservation("r2", "stu-b", domain.ReservationPending))
	}))
	approve := func(id string) error {
		return r.Update(ctx, func(tx store.Tx) error {
			res, err := tx.GetReservation(ctx, id)
			if err != nil {
				return err
			}
			res.Status = domain.ReservationApproved
			res.Version++
			return tx.SwapReservation(ctx, res, res.Version-1)
		})
	}
	require.NoError(t, approve("r1"))
	err := approve("r2")
	assert.Equal(t, domain.KindConflictingApproval, domain.KindOf(err))

	var holder domain.Reservation
	require.NoError(t, r.View(ctx, func(tx store.Tx) error {
		var err error
		holder, err = tx.ApprovedReservation(ctx, "p1")
		return err
	}))
	assert.Equal(t, "r1", holder.ID)
}

func TestTasksTimelineAndEvents(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	due := "2024-02-01"
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertTask(ctx, domain.Task{ID: "t1", ProjectID: "p1", Title: "a", Status: domain.TaskPending, DueDate: &due, CreatedBy: "emp", CreatedAt: ts, UpdatedAt: ts, Version: 1}); err != nil {
			return err
		}
		if err := tx.InsertTimelineEvent(ctx, domain.TimelineEvent{ID: "e1", ProjectID: "p1", Date: "2024-03-01", Description: "demo", CreatedBy: "emp", CreatedAt: ts, UpdatedAt: ts, Version: 1}); err != nil {
			return err
		}
		for _, typ := range []string{"a", "b", "c"} {
			if err := tx.AppendEvent(ctx, domain.Event{TS: ts, Type: typ, ProjectID: "p1", EntityKind: "project", EntityID: "p1", ActorID: "emp", Payload: "{}"}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, r.Update(ctx, func(tx store.Tx) error {
		return tx.SwapTimelineEvent(ctx, domain.TimelineEvent{ID: "e1", Completed: true, UpdatedAt: ts, Version: 2}, 1)
	}))
	require.NoError(t, r.View(ctx, func(tx store.Tx) error {
		tasks, err := tx.ListTasks(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, due, *tasks[0].DueDate)
		assert.Nil(t, tasks[0].AssigneeID)

		tl, err := tx.ListTimeline(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, tl, 1)
		assert.True(t, tl[0].Completed)

		newest, err := tx.ListEvents(ctx, store.EventFilter{ProjectID: "p1", Limit: 2})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		assert.Equal(t, "c", newest[0].Type)

		after, err := tx.ListEvents(ctx, store.EventFilter{After: newest[1].ID})
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, "c", after[0].Type)

		latest, err := tx.LatestEventID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, newest[0].ID, latest)
		return nil
	}))
}

func TestUpdateRollsBackOnError(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := r.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertReservation(ctx, reservation("r1", "stu-a", domain.ReservationPending)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	err = r.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetReservation(ctx, "r1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
