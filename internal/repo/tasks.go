package repo

import (
	"context"
	"database/sql"

	"projectflow/internal/domain"
)

const taskColumns = `id,project_id,title,assignee_id,status,due_date,created_by,created_at,updated_at,version`

func scanTask(row rowScanner) (domain.Task, error) {
	var tk domain.Task
	var assignee, due sql.NullString
	err := row.Scan(&tk.ID, &tk.ProjectID, &tk.Title, &assignee, &tk.Status, &due, &tk.CreatedBy,
		&tk.CreatedAt, &tk.UpdatedAt, &tk.Version)
	if err != nil {
		return tk, err
	}
	tk.AssigneeID = stringPtr(assignee)
	tk.DueDate = stringPtr(due)
	return tk, nil
}

func (t *Tx) GetTask(ctx context.Context, id string) (domain.Task, error) {
	tk, err := scanTask(t.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return tk, domain.NotFound("task", id)
	}
	if err != nil {
		return tk, classify(ctx, err)
	}
	return tk, nil
}

func (t *Tx) InsertTask(ctx context.Context, tk domain.Task) error {
	_, err := t.exec(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		tk.ID, tk.ProjectID, tk.Title, nullableStringPtr(tk.AssigneeID), string(tk.Status), nullableStringPtr(tk.DueDate),
		tk.CreatedBy, tk.CreatedAt, tk.UpdatedAt, tk.Version)
	return err
}

func (t *Tx) SwapTask(ctx context.Context, tk domain.Task, expected int64) error {
	res, err := t.exec(ctx, `UPDATE tasks SET title=?,assignee_id=?,status=?,due_date=?,updated_at=?,version=? WHERE id=? AND version=?`,
		tk.Title, nullableStringPtr(tk.AssigneeID), string(tk.Status), nullableStringPtr(tk.DueDate), tk.UpdatedAt, tk.Version,
		tk.ID, expected)
	if err != nil {
		return err
	}
	return t.swapped(ctx, res, "tasks", "task", tk.ID)
}

func (t *Tx) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	rows, err := t.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		tk, err := scanTask(rows)
		if err != nil {
			return nil, classify(ctx, err)
		}
		res = append(res, tk)
	}
	return res, classify(ctx, rows.Err())
}

const timelineColumns = `id,project_id,date,description,completed,created_by,created_at,updated_at,version`

func scanTimelineEvent(row rowScanner) (domain.TimelineEvent, error) {
	var ev domain.TimelineEvent
	err := row.Scan(&ev.ID, &ev.ProjectID, &ev.Date, &ev.Description, &ev.Completed, &ev.CreatedBy,
		&ev.CreatedAt, &ev.UpdatedAt, &ev.Version)
	return ev, err
}

func (t *Tx) GetTimelineEvent(ctx context.Context, id string) (domain.TimelineEvent, error) {
	ev, err := scanTimelineEvent(t.queryRow(ctx, `SELECT `+timelineColumns+` FROM timeline_events WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return ev, domain.NotFound("timeline_event", id)
	}
	if err != nil {
		return ev, classify(ctx, err)
	}
	return ev, nil
}

func (t *Tx) InsertTimelineEvent(ctx context.Context, ev domain.TimelineEvent) error {
	_, err := t.exec(ctx, `INSERT INTO timeline_events(`+timelineColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.ProjectID, ev.Date, ev.Description, ev.Completed, ev.CreatedBy, ev.CreatedAt, ev.UpdatedAt, ev.Version)
	return err
}

// SwapTimelineEvent only ever writes the completed flag; entries are otherwise append-only.
func (t *Tx) SwapTimelineEvent(ctx context.Context, ev domain.TimelineEvent, expected int64) error {
	res, err := t.exec(ctx, `UPDATE timeline_events SET completed=?,updated_at=?,version=? WHERE id=? AND version=?`,
		ev.Completed, ev.UpdatedAt, ev.Version, ev.ID, expected)
	if err != nil {
		return err
	}
	return t.swapped(ctx, res, "timeline_events", "timeline_event", ev.ID)
}

func (t *Tx) ListTimeline(ctx context.Context, projectID string) ([]domain.TimelineEvent, error) {
	rows, err := t.query(ctx, `SELECT `+timelineColumns+` FROM timeline_events WHERE project_id=? ORDER BY date, created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		ev, err := scanTimelineEvent(rows)
		if err != nil {
			return nil, classify(ctx, err)
		}
		res = append(res, ev)
	}
	return res, classify(ctx, rows.Err())
}
