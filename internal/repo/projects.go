package repo

import (
	"context"
	"database/sql"
	"strings"

	"projectflow/internal/domain"
	"projectflow/internal/store"
)

const projectColumns = `id,title,description,owner_id,supervisor_id,status,note,feedback,reviewed_by,submitted_at,decided_at,archived,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var desc, supervisor, note, feedback, reviewer, submitted, decided sql.NullString
	err := row.Scan(&p.ID, &p.Title, &desc, &p.OwnerID, &supervisor, &p.Status, &note, &feedback,
		&reviewer, &submitted, &decided, &p.Archived, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	p.SupervisorID = stringPtr(supervisor)
	p.Note = note.String
	p.Feedback = feedback.String
	p.ReviewedBy = stringPtr(reviewer)
	p.SubmittedAt = stringPtr(submitted)
	p.DecidedAt = stringPtr(decided)
	return p, nil
}

func (t *Tx) GetProject(ctx context.Context, id string) (domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id=?`
	if t.lock {
		// sqlite serializes writers itself
		query += ` FOR UPDATE`
	}
	p, err := scanProject(t.queryRow(ctx, query, id))
	if err == sql.ErrNoRows {
		return p, domain.NotFound("project", id)
	}
	if err != nil {
		return p, classify(ctx, err)
	}
	return p, nil
}

func (t *Tx) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := t.exec(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), p.OwnerID, nullableStringPtr(p.SupervisorID), string(p.Status),
		nullable(p.Note), nullable(p.Feedback), nullableStringPtr(p.ReviewedBy), nullableStringPtr(p.SubmittedAt),
		nullableStringPtr(p.DecidedAt), p.Archived, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil && uniqueViolation(err) {
		return domain.InvalidArgument("project", p.ID, "project id already exists")
	}
	return err
}

func (t *Tx) SwapProject(ctx context.Context, p domain.Project, expected int64) error {
	res, err := t.exec(ctx, `UPDATE projects SET title=?,description=?,supervisor_id=?,status=?,note=?,feedback=?,reviewed_by=?,
submitted_at=?,decided_at=?,archived=?,version=?,updated_at=? WHERE id=? AND version=?`,
		p.Title, nullable(p.Description), nullableStringPtr(p.SupervisorID), string(p.Status), nullable(p.Note),
		nullable(p.Feedback), nullableStringPtr(p.ReviewedBy), nullableStringPtr(p.SubmittedAt), nullableStringPtr(p.DecidedAt),
		p.Archived, p.Version, p.UpdatedAt, p.ID, expected)
	if err != nil {
		return err
	}
	return t.swapped(ctx, res, "projects", "project", p.ID)
}

func (t *Tx) ListProjects(ctx context.Context, f store.ProjectFilter) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.SupervisorID != "" {
		clauses = append(clauses, "supervisor_id=?")
		args = append(args, f.SupervisorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived=?")
		args = append(args, false)
	}
	rows, err := t.query(ctx, `SELECT `+projectColumns+` FROM projects WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, classify(ctx, err)
		}
		res = append(res, p)
	}
	return res, classify(ctx, rows.Err())
}
