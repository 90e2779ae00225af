package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"projectflow/internal/domain"
	"projectflow/internal/store"
)

func (t *Tx) AppendEvent(ctx context.Context, e domain.Event) error {
	_, err := t.exec(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		e.TS, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, e.Payload)
	return err
}

func (t *Tx) ListEvents(ctx context.Context, f store.EventFilter) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	order := "DESC"
	if f.Ascending || f.After > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.After)
		order = "ASC"
	} else if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id %s LIMIT ?`,
		strings.Join(clauses, " AND "), order)
	args = append(args, limit)
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, classify(ctx, err)
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, classify(ctx, rows.Err())
}

// LatestEventID returns the most recent event ID, optionally scoped to a project.
func (t *Tx) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := t.queryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, classify(ctx, err)
	}
	return id, nil
}
