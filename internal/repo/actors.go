package repo

import (
	"context"
	"database/sql"

	"projectflow/internal/domain"
)

func (t *Tx) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	err := t.queryRow(ctx, `SELECT id,role,display_name,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Role, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, domain.NotFound("actor", id)
	}
	if err != nil {
		return a, classify(ctx, err)
	}
	a.DisplayName = name.String
	return a, nil
}

// UpsertActor registers an actor or updates its role and display name.
func (t *Tx) UpsertActor(ctx context.Context, a domain.Actor) error {
	_, err := t.exec(ctx, `INSERT INTO actors(id,role,display_name,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET role=excluded.role, display_name=excluded.display_name`,
		a.ID, string(a.Role), nullable(a.DisplayName), a.CreatedAt)
	return err
}

func (t *Tx) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := t.query(ctx, `SELECT id,role,display_name,created_at FROM actors ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var name sql.NullString
		if err := rows.Scan(&a.ID, &a.Role, &name, &a.CreatedAt); err != nil {
			return nil, classify(ctx, err)
		}
		a.DisplayName = name.String
		res = append(res, a)
	}
	return res, classify(ctx, rows.Err())
}
