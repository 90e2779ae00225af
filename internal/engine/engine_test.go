package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"projectflow/internal/db"
	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/migrate"
	"projectflow/internal/repo"
	"projectflow/internal/store"
)

type sent struct {
	userID  string
	message string
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (r *recorder) Notify(_ context.Context, userID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID, message})
	if r.fail {
		return errors.New("notification sink down")
	}
	return nil
}

func (r *recorder) to(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.userID == userID {
			n++
		}
	}
	return n
}

type testEnv struct {
	Engine engine.Engine
	Store  repo.Repo
	Notes  *recorder
	Ctx    context.Context
}

// newTestEnv opens a fresh workspace with one actor per role:
// admin, pm, sup, lec, emp, stu-a, stu-b.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := repo.Repo{DB: conn, Dialect: dialect}
	notes := &recorder{}
	eng := engine.New(st, nil)
	eng.Notifier = notes
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	eng.Retry.InitialBackoff = time.Millisecond
	ctx := context.Background()
	if _, err := eng.Bootstrap(ctx, "admin", "Admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for id, role := range map[string]domain.Role{
		"pm":    domain.RoleProjectManager,
		"sup":   domain.RoleSupervisor,
		"sup2":  domain.RoleSupervisor,
		"lec":   domain.RoleLecturer,
		"emp":   domain.RoleEmployer,
		"stu-a": domain.RoleStudent,
		"stu-b": domain.RoleStudent,
	} {
		if _, err := eng.RegisterActor(ctx, "admin", domain.Actor{ID: id, Role: role}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Store: st, Notes: notes, Ctx: ctx}
}

// newProject creates an employer-owned project supervised by "sup".
func (env testEnv) newProject(t *testing.T, id string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: id, Title: "Project " + id, OwnerID: "emp", SupervisorID: "sup"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func wantKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestScenarioHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")

	r, err := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if r.Status != domain.ReservationPending || deref(r.SupervisorID) != "sup" {
		t.Fatalf("unexpected reservation %+v", r)
	}
	r, err = env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, "welcome")
	if err != nil {
		t.Fatalf("approve reservation: %v", err)
	}
	p, err := env.Engine.GetProject(env.Ctx, "p1")
	if err != nil || p.Status != domain.ProjectNotSubmitted {
		t.Fatalf("project should still be not_submitted: %+v %v", p, err)
	}
	p, err = env.Engine.SubmitProject(env.Ctx, "p1", "stu-a", "ready for review")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Status != domain.ProjectPending || p.Note != "ready for review" || p.SubmittedAt == nil {
		t.Fatalf("unexpected project after submit %+v", p)
	}
	p, err = env.Engine.DecideProject(env.Ctx, "p1", "sup", engine.DecisionApprove, "great")
	if err != nil {
		t.Fatalf("approve project: %v", err)
	}
	if p.Status != domain.ProjectApproved || p.Feedback != "great" || deref(p.ReviewedBy) != "sup" || p.DecidedAt == nil {
		t.Fatalf("unexpected project after approve %+v", p)
	}
	r, err = env.Engine.GetReservation(env.Ctx, r.ID)
	if err != nil || r.Status != domain.ReservationApproved {
		t.Fatalf("reservation should stay approved: %+v %v", r, err)
	}
	if env.Notes.to("emp") != 1 || env.Notes.to("stu-a") != 2 {
		t.Fatalf("unexpected notifications %+v", env.Notes.sent)
	}
}

func TestScenarioSecondApprovalConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")

	var wg sync.WaitGroup
	res := make(map[string]domain.Reservation)
	var mu sync.Mutex
	for _, stu := range []string{"stu-a", "stu-b"} {
		wg.Add(1)
		go func(stu string) {
			defer wg.Done()
			r, err := env.Engine.ReserveProject(env.Ctx, "p1", stu)
			if err != nil {
				t.Errorf("reserve %s: %v", stu, err)
				return
			}
			mu.Lock()
			res[stu] = r
			mu.Unlock()
		}(stu)
	}
	wg.Wait()
	if t.Failed() {
		return
	}
	if _, err := env.Engine.DecideReservation(env.Ctx, res["stu-a"].ID, "sup", engine.DecisionApprove, ""); err != nil {
		t.Fatalf("approve a: %v", err)
	}
	_, err := env.Engine.DecideReservation(env.Ctx, res["stu-b"].ID, "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindConflictingApproval)
	var de *domain.Error
	if !errors.As(err, &de) || de.Details["holder_reservation_id"] != res["stu-a"].ID || de.Details["holder_student_id"] != "stu-a" {
		t.Fatalf("conflict should name the holder: %#v", err)
	}
	b, _ := env.Engine.GetReservation(env.Ctx, res["stu-b"].ID)
	if b.Status != domain.ReservationPending {
		t.Fatalf("b must be left pending, got %s", b.Status)
	}
}

func TestScenarioUnrelatedSubmitIsDenied(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	_, err := env.Engine.SubmitProject(env.Ctx, "p1", "stu-b", "")
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.SubmitProject(env.Ctx, "p1", "nobody", "")
	wantKind(t, err, domain.KindPermissionDenied)
}

func TestScenarioDecideUnsubmittedIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	for _, d := range []engine.Decision{engine.DecisionApprove, engine.DecisionReject} {
		_, err := env.Engine.DecideProject(env.Ctx, "p1", "sup", d, "")
		wantKind(t, err, domain.KindInvalidTransition)
	}
	// unrelated supervisors are refused before the state is looked at
	_, err := env.Engine.DecideProject(env.Ctx, "p1", "sup2", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindPermissionDenied)
}

func TestConcurrentReserveKeepsOneLive(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		wantKind(t, err, domain.KindDuplicateReservation)
	}
	if ok != 1 {
		t.Fatalf("expected exactly one reservation, got %d", ok)
	}
	live, err := env.Engine.ListReservations(env.Ctx, store.ReservationFilter{ProjectID: "p1", StudentID: "stu-a"})
	if err != nil || len(live) != 1 {
		t.Fatalf("expected one stored reservation, got %d (%v)", len(live), err)
	}
}

func TestConcurrentApprovalsKeepOneApproved(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	var ids []string
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("stu-%d", i)
		if _, err := env.Engine.RegisterActor(env.Ctx, "admin", domain.Actor{ID: id, Role: domain.RoleStudent}); err != nil {
			t.Fatal(err)
		}
		r, err := env.Engine.ReserveProject(env.Ctx, "p1", id)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.Engine.DecideReservation(env.Ctx, id, "pm", engine.DecisionApprove, "")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		wantKind(t, err, domain.KindConflictingApproval)
	}
	approved, _ := env.Engine.ListReservations(env.Ctx, store.ReservationFilter{ProjectID: "p1", Status: domain.ReservationApproved})
	if ok != 1 || len(approved) != 1 {
		t.Fatalf("expected one approval, got %d successes and %d approved rows", ok, len(approved))
	}
}

func TestApproveReservationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	r, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	first, err := env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, "ok")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, "ok again")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if first.Status != second.Status || first.Version != second.Version || first.Feedback != second.Feedback || first.UpdatedAt != second.UpdatedAt {
		t.Fatalf("second approve changed state:\n%+v\n%+v", first, second)
	}
	evts, _ := env.Engine.ProjectHistory(env.Ctx, "p1", 0, 0)
	approvals := 0
	for _, e := range evts {
		if e.Type == "reservation.approved" {
			approvals++
		}
	}
	if approvals != 1 || env.Notes.to("stu-a") != 1 {
		t.Fatalf("expected one event and one notification, got %d and %d", approvals, env.Notes.to("stu-a"))
	}
	// a non-reviewer still may not see it as a success
	_, err = env.Engine.DecideReservation(env.Ctx, r.ID, "emp", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindPermissionDenied)
}

func TestRejectRules(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	a, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	b, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	if _, err := env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionApprove, ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionReject, "")
	wantKind(t, err, domain.KindInvalidTransition)

	rb, err := env.Engine.DecideReservation(env.Ctx, b.ID, "emp", engine.DecisionReject, "")
	wantKind(t, err, domain.KindPermissionDenied)
	rb, err = env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionReject, "project is taken")
	if err != nil || rb.Status != domain.ReservationRejected || rb.Feedback != "project is taken" {
		t.Fatalf("reject b: %+v %v", rb, err)
	}
	_, err = env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindInvalidTransition)

	// a rejected reservation frees the student to try again
	if _, err := env.Engine.ReserveProject(env.Ctx, "p1", "stu-b"); err != nil {
		t.Fatalf("re-reserve after reject: %v", err)
	}
	_, err = env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	wantKind(t, err, domain.KindDuplicateReservation)
}

func TestRevokeResolvesConflict(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	a, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	b, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	if _, err := env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionApprove, ""); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindConflictingApproval)
	ra, err := env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionRevoke, "moving on")
	if err != nil || ra.Status != domain.ReservationRejected {
		t.Fatalf("revoke: %+v %v", ra, err)
	}
	if _, err := env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionApprove, ""); err != nil {
		t.Fatalf("approve b after revoke: %v", err)
	}
	// no revoking while the project is under review
	if _, err := env.Engine.SubmitProject(env.Ctx, "p1", "stu-b", ""); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionRevoke, "")
	wantKind(t, err, domain.KindInvalidTransition)
}

func TestResubmitRoundTripKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	r, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	if _, err := env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProject(env.Ctx, "p1", "stu-a", "first draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DecideProject(env.Ctx, "p1", "pm", engine.DecisionReject, "needs a test plan"); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.SubmitProject(env.Ctx, "p1", "emp", "second draft")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if p.Status != domain.ProjectPending || p.Note != "second draft" {
		t.Fatalf("unexpected project %+v", p)
	}
	evts, err := env.Engine.ProjectHistory(env.Ctx, "p1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	var notes, feedback []string
	for _, e := range evts {
		switch e.Type {
		case "project.submitted":
			notes = append(notes, e.Payload)
		case "project.rejected":
			feedback = append(feedback, e.Payload)
		}
	}
	if len(notes) != 2 || len(feedback) != 1 {
		t.Fatalf("expected 2 submissions and 1 rejection in history, got %d/%d", len(notes), len(feedback))
	}
	if !strings.Contains(notes[1], "first draft") || !strings.Contains(notes[0], "second draft") || !strings.Contains(feedback[0], "needs a test plan") {
		t.Fatalf("history lost notes: %v %v", notes, feedback)
	}
}

func TestSubmitNeedsApprovedReservation(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	_, err := env.Engine.SubmitProject(env.Ctx, "p1", "emp", "")
	wantKind(t, err, domain.KindInvalidTransition)

	// a supervisor owner may submit directly
	p, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "p2", Title: "Research", OwnerID: "lec"})
	if err != nil {
		t.Fatal(err)
	}
	p, err = env.Engine.SubmitProject(env.Ctx, p.ID, "lec", "self")
	if err != nil || p.Status != domain.ProjectPending {
		t.Fatalf("self submit: %+v %v", p, err)
	}
	_, err = env.Engine.SubmitProject(env.Ctx, p.ID, "lec", "again")
	wantKind(t, err, domain.KindInvalidTransition)
	_, err = env.Engine.ReserveProject(env.Ctx, p.ID, "stu-a")
	wantKind(t, err, domain.KindInvalidTransition)
}

func TestUnsupervisedProjectReservationsCanBeDecided(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "p1", Title: "Open call", OwnerID: "emp"}); err != nil {
		t.Fatal(err)
	}
	a, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	b, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	if a.SupervisorID != nil {
		t.Fatalf("expected no supervisor, got %q", *a.SupervisorID)
	}
	rb, err := env.Engine.DecideReservation(env.Ctx, b.ID, "sup", engine.DecisionReject, "")
	if err != nil || rb.Status != domain.ReservationRejected {
		t.Fatalf("reject: %+v %v", rb, err)
	}
	ra, err := env.Engine.DecideReservation(env.Ctx, a.ID, "lec", engine.DecisionApprove, "")
	if err != nil || ra.Status != domain.ReservationApproved || deref(ra.DecidedBy) != "lec" {
		t.Fatalf("approve: %+v %v", ra, err)
	}
	_, err = env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
}

func TestLeftoverReservationAfterReview(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "p1", Title: "Research", OwnerID: "lec"}); err != nil {
		t.Fatal(err)
	}
	a, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	b, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	if _, err := env.Engine.SubmitProject(env.Ctx, "p1", "lec", "self"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindInvalidTransition)
	if _, err := env.Engine.DecideProject(env.Ctx, "p1", "pm", engine.DecisionApprove, ""); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.DecideReservation(env.Ctx, a.ID, "pm", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindInvalidTransition)
	if got, _ := env.Engine.GetReservation(env.Ctx, a.ID); got.Status != domain.ReservationPending {
		t.Fatalf("leftover reservation moved to %s", got.Status)
	}
	// turning a leftover down is still allowed
	rb, err := env.Engine.DecideReservation(env.Ctx, b.ID, "pm", engine.DecisionReject, "project is closed")
	if err != nil || rb.Status != domain.ReservationRejected {
		t.Fatalf("reject leftover: %+v %v", rb, err)
	}
}

func TestConcurrentProjectApprovalsOneWins(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "p1", Title: "x", OwnerID: "sup", SupervisorID: "sup"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitProject(env.Ctx, "p1", "sup", ""); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for _, who := range []string{"sup", "pm", "admin", "pm"} {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			_, err := env.Engine.DecideProject(env.Ctx, "p1", who, engine.DecisionApprove, "")
			errs <- err
		}(who)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		wantKind(t, err, domain.KindInvalidTransition)
	}
	if ok != 1 {
		t.Fatalf("expected one successful approval, got %d", ok)
	}
}

func TestAssignSupervisorFollowsLiveReservations(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateProject(env.Ctx, engine.NewProject{ID: "p1", Title: "x", OwnerID: "emp"}); err != nil {
		t.Fatal(err)
	}
	r, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	if r.SupervisorID != nil {
		t.Fatalf("no supervisor yet, got %v", *r.SupervisorID)
	}
	_, err := env.Engine.AssignSupervisor(env.Ctx, "p1", "emp", "sup")
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.AssignSupervisor(env.Ctx, "p1", "pm", "stu-b")
	wantKind(t, err, domain.KindInvalidArgument)
	if _, err := env.Engine.AssignSupervisor(env.Ctx, "p1", "pm", "sup2"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	r, _ = env.Engine.GetReservation(env.Ctx, r.ID)
	if deref(r.SupervisorID) != "sup2" {
		t.Fatalf("reservation supervisor not updated: %v", r.SupervisorID)
	}
	if _, err := env.Engine.DecideReservation(env.Ctx, r.ID, "sup2", engine.DecisionApprove, ""); err != nil {
		t.Fatalf("new supervisor approves: %v", err)
	}
	if env.Notes.to("sup2") != 1 {
		t.Fatalf("supervisor should hear about the assignment")
	}
}

func TestArchivedProjectIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	r, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	task, err := env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Title: "scope"})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "emp", Date: "2024-02-01", Description: "kickoff"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ArchiveProject(env.Ctx, "p1", "pm")
	wantKind(t, err, domain.KindPermissionDenied)
	if _, err := env.Engine.ArchiveProject(env.Ctx, "p1", "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ArchiveProject(env.Ctx, "p1", "admin"); err != nil {
		t.Fatalf("second archive should be a no-op: %v", err)
	}

	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Title: "more"})
	wantKind(t, err, domain.KindProjectArchived)
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "admin", Status: domain.TaskCompleted})
	wantKind(t, err, domain.KindProjectArchived)
	_, err = env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Date: "2024-03-01", Description: "x"})
	wantKind(t, err, domain.KindProjectArchived)
	_, err = env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpSetCompleted, EventID: ev.ID, ActorID: "sup", Completed: true})
	wantKind(t, err, domain.KindProjectArchived)
	_, err = env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindProjectArchived)
	_, err = env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	wantKind(t, err, domain.KindProjectArchived)

	// reads keep working
	if tasks, err := env.Engine.ListTasks(env.Ctx, "p1"); err != nil || len(tasks) != 1 {
		t.Fatalf("list tasks on archived project: %v %v", tasks, err)
	}
}

func TestTaskTransitionsAndOverdue(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	task, err := env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Title: "write report", AssigneeID: "stu-a", DueDate: "2023-12-31"})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.TaskPending || task.EffectiveStatus != domain.TaskOverdue {
		t.Fatalf("expected stored pending, shown overdue: %+v", task)
	}
	if env.Notes.to("stu-a") != 1 {
		t.Fatalf("assignee should be told about the task")
	}
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "sup", Status: domain.TaskOverdue})
	wantKind(t, err, domain.KindInvalidTransition)

	steps := []domain.TaskStatus{domain.TaskInProgress, domain.TaskPending, domain.TaskCompleted, domain.TaskInProgress, domain.TaskCompleted}
	for _, s := range steps {
		task, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "emp", Status: s})
		if err != nil || task.Status != s {
			t.Fatalf("to %s: %+v %v", s, task, err)
		}
	}
	if task.EffectiveStatus != domain.TaskCompleted {
		t.Fatalf("completed tasks are never overdue")
	}
	before := task.Version
	task, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "emp", Status: domain.TaskCompleted})
	if err != nil || task.Version != before {
		t.Fatalf("same status should be a no-op: %+v %v", task, err)
	}
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "emp", Status: domain.TaskPending})
	wantKind(t, err, domain.KindInvalidTransition)

	// the assignee is not an editor
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpSetStatus, TaskID: task.ID, ActorID: "stu-a", Status: domain.TaskInProgress})
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", DueDate: "soon", Title: "x"})
	wantKind(t, err, domain.KindInvalidArgument)
	_, err = env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: "delete", TaskID: task.ID, ActorID: "sup"})
	wantKind(t, err, domain.KindInvalidArgument)
}

func TestTimelineAndSummary(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	a, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	env.Engine.ReserveProject(env.Ctx, "p1", "stu-b")
	env.Engine.DecideReservation(env.Ctx, a.ID, "sup", engine.DecisionApprove, "")
	for _, d := range []string{"2024-03-01", "2024-01-15"} {
		if _, err := env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Date: d, Description: "milestone " + d}); err != nil {
			t.Fatal(err)
		}
	}
	tl, err := env.Engine.ListTimeline(env.Ctx, "p1")
	if err != nil || len(tl) != 2 || tl[0].Date != "2024-01-15" {
		t.Fatalf("timeline should be ordered by date: %+v %v", tl, err)
	}
	done, err := env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpSetCompleted, EventID: tl[0].ID, ActorID: "emp", Completed: true})
	if err != nil || !done.Completed {
		t.Fatalf("mark completed: %+v %v", done, err)
	}
	_, err = env.Engine.MutateTimelineEvent(env.Ctx, engine.TimelineMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Date: "next week", Description: "x"})
	wantKind(t, err, domain.KindInvalidArgument)

	env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Title: "late", DueDate: "2023-06-01"})
	env.Engine.MutateTask(env.Ctx, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "sup", Title: "fine", DueDate: "2024-06-01"})

	s, err := env.Engine.ProjectSummary(env.Ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if s.TaskCounts[domain.TaskOverdue] != 1 || s.TaskCounts[domain.TaskPending] != 1 {
		t.Fatalf("task counts %+v", s.TaskCounts)
	}
	if s.ReservationCounts[domain.ReservationApproved] != 1 || s.ReservationCounts[domain.ReservationPending] != 1 {
		t.Fatalf("reservation counts %+v", s.ReservationCounts)
	}
	if deref(s.AssigneeID) != "stu-a" || s.TimelineTotal != 2 || s.TimelineCompleted != 1 {
		t.Fatalf("summary %+v", s)
	}
}

func TestNotFoundAndUnknownActor(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ReserveProject(env.Ctx, "missing", "stu-a")
	wantKind(t, err, domain.KindNotFound)
	_, err = env.Engine.DecideReservation(env.Ctx, "missing", "sup", engine.DecisionApprove, "")
	wantKind(t, err, domain.KindNotFound)
	_, err = env.Engine.CreateProject(env.Ctx, engine.NewProject{Title: "x", OwnerID: "ghost"})
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.CreateProject(env.Ctx, engine.NewProject{Title: " ", OwnerID: "emp"})
	wantKind(t, err, domain.KindInvalidArgument)
	_, err = env.Engine.RegisterActor(env.Ctx, "pm", domain.Actor{ID: "x", Role: domain.RoleStudent})
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.Bootstrap(env.Ctx, "second-admin", "")
	wantKind(t, err, domain.KindPermissionDenied)
	_, err = env.Engine.DecideProject(env.Ctx, "missing", "admin", engine.DecisionRevoke, "")
	wantKind(t, err, domain.KindInvalidArgument)
}

func TestNotificationFailureKeepsTransition(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	env.Notes.fail = true
	r, err := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	if err != nil {
		t.Fatalf("notification failure must not fail the operation: %v", err)
	}
	if got, _ := env.Engine.GetReservation(env.Ctx, r.ID); got.Status != domain.ReservationPending {
		t.Fatalf("reservation not committed")
	}
}

func TestAuditEventPerMutation(t *testing.T) {
	env := newTestEnv(t)
	env.newProject(t, "p1")
	r, _ := env.Engine.ReserveProject(env.Ctx, "p1", "stu-a")
	env.Engine.DecideReservation(env.Ctx, r.ID, "sup", engine.DecisionApprove, "")
	evts, err := env.Engine.ProjectHistory(env.Ctx, "p1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"reservation.approved", "reservation.created", "project.created"}
	if len(evts) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(evts))
	}
	for i, e := range evts {
		if e.Type != want[i] {
			t.Fatalf("event %d: want %s got %s", i, want[i], e.Type)
		}
	}
	if evts[0].ActorID != "sup" || evts[0].EntityID != r.ID {
		t.Fatalf("unexpected approval event %+v", evts[0])
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
