package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectflow/internal/config"
	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/notify"
	"projectflow/internal/outbox"
	"projectflow/internal/store"
)

type inbox struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (b *inbox) Notify(_ context.Context, userID, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = map[string][]string{}
	}
	b.msgs[userID] = append(b.msgs[userID], message)
	return nil
}

func openTestWorkspace(t *testing.T, n notify.Notifier) *Workspace {
	t.Helper()
	w, err := Open(context.Background(), Options{Workspace: t.TempDir(), Notifier: n})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func seed(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	_, err := e.Bootstrap(ctx, "admin", "Admin")
	require.NoError(t, err)
	for id, role := range map[string]domain.Role{"emp": domain.RoleEmployer, "sup": domain.RoleSupervisor, "stu": domain.RoleStudent} {
		_, err := e.RegisterActor(ctx, "admin", domain.Actor{ID: id, Role: role})
		require.NoError(t, err)
	}
	_, err = e.CreateProject(ctx, engine.NewProject{ID: "p1", Title: "Robot arm", OwnerID: "emp", SupervisorID: "sup"})
	require.NoError(t, err)
}

func TestOpenMigratesAndNotifiesAfterCommit(t *testing.T) {
	box := &inbox{}
	w := openTestWorkspace(t, box)
	seed(t, w.Engine)

	_, err := w.Engine.ReserveProject(context.Background(), "p1", "stu")
	require.NoError(t, err)
	w.async.Wait()
	box.mu.Lock()
	defer box.mu.Unlock()
	assert.Len(t, box.msgs["sup"], 1)
	_, err = os.Stat(filepath.Join(w.Dir, ".projectflow", "projectflow.db"))
	assert.NoError(t, err)
}

func TestReplayerDispatchesQueuedCommands(t *testing.T) {
	w := openTestWorkspace(t, notify.Nop{})
	seed(t, w.Engine)
	ctx := context.Background()
	o, err := w.OpenOutbox()
	require.NoError(t, err)
	defer o.Close()

	_, err = o.Enqueue(ctx, outbox.KindReserve, outbox.Reserve{ProjectID: "p1", StudentID: "stu"})
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, outbox.KindTask, engine.TaskMutation{Op: engine.OpAdd, ProjectID: "p1", ActorID: "emp", Title: "Wire motors"})
	require.NoError(t, err)
	// stu is no reviewer: recorded as a dead letter, not retried
	_, err = o.Enqueue(ctx, outbox.KindDecideProject, outbox.Decision{TargetID: "p1", ActorID: "stu", Decision: "approve"})
	require.NoError(t, err)

	rep, err := o.Drain(ctx, Replayer{Engine: w.Engine})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Replayed)
	assert.Equal(t, 1, rep.DeadLettered)

	res, err := w.Engine.ListReservations(ctx, store.ReservationFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	tasks, err := w.Engine.ListTasks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Wire motors", tasks[0].Title)
}

func TestDeferredQueuesOnlyOutages(t *testing.T) {
	w := openTestWorkspace(t, notify.Nop{})
	ctx := context.Background()
	o, err := w.OpenOutbox()
	require.NoError(t, err)
	defer o.Close()

	denied := domain.PermissionDenied("project", "p1", "pending", "nope")
	_, queued, err := Deferred(ctx, o, denied, outbox.KindSubmit, outbox.Submit{ProjectID: "p1"})
	assert.False(t, queued)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	down := domain.Unavailable(errors.New("connection refused"))
	c, queued, err := Deferred(ctx, o, down, outbox.KindSubmit, outbox.Submit{ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NotEmpty(t, c.ID)
}

func TestBuildNotifier(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Log = false
	n, err := BuildNotifier(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, notify.Nop{}, n)

	cfg.Notifications.Log = true
	cfg.Notifications.Webhooks = []config.Webhook{{URL: "http://127.0.0.1:1/hook"}}
	n, err = BuildNotifier(context.Background(), cfg)
	require.NoError(t, err)
	require.IsType(t, notify.Multi{}, n)
	assert.Len(t, n.(notify.Multi), 2)
}

func TestLoadEnvIgnoresMissingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadEnv(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PROJECTFLOW_TEST_ENV=loaded\n"), 0o644))
	t.Setenv("PROJECTFLOW_TEST_ENV", "")
	os.Unsetenv("PROJECTFLOW_TEST_ENV")
	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "loaded", os.Getenv("PROJECTFLOW_TEST_ENV"))
}
