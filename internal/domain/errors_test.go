package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("submit: %w", InvalidTransition("project", "p1", string(ProjectApproved), "already decided"))

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.Equal(t, "invalid transition: project p1 (state approved): already decided", errors.Unwrap(err).Error())
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Unavailable(cause)

	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, Retryable(NotFound("task", "t1")))
	assert.False(t, Retryable(context.Canceled))
	assert.Equal(t, Kind(""), KindOf(context.Canceled))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Project-Manager")
	require.NoError(t, err)
	assert.Equal(t, RoleProjectManager, r)

	_, err = ParseRole("janitor")
	assert.Error(t, err)
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	due := func(s string) *string { return &s }

	cases := []struct {
		name string
		task Task
		want TaskStatus
	}{
		{"no due date", Task{Status: TaskPending}, TaskPending},
		{"past date pending", Task{Status: TaskPending, DueDate: due("2024-03-09")}, TaskOverdue},
		{"due today is not overdue", Task{Status: TaskInProgress, DueDate: due("2024-03-10")}, TaskInProgress},
		{"past timestamp", Task{Status: TaskInProgress, DueDate: due("2024-03-10T11:00:00Z")}, TaskOverdue},
		{"completed never overdue", Task{Status: TaskCompleted, DueDate: due("2024-01-01")}, TaskCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.task.EffectiveStatus(now))
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	d, err := NormalizeDate(" 2024-05-01 ")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", d)

	d, err = NormalizeDate("2024-05-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T08:00:00Z", d)

	_, err = NormalizeDate("next tuesday")
	assert.Error(t, err)
}
