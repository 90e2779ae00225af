package repo

import (
	"context"
	"database/sql"
	"strings"

	"projectflow/internal/domain"
	"projectflow/internal/store"
)

const reservationColumns = `id,project_id,student_id,supervisor_id,status,feedback,decided_by,reserved_at,updated_at,version`

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var r domain.Reservation
	var supervisor, feedback, decidedBy sql.NullString
	err := row.Scan(&r.ID, &r.ProjectID, &r.StudentID, &supervisor, &r.Status, &feedback, &decidedBy,
		&r.ReservedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return r, err
	}
	r.SupervisorID = stringPtr(supervisor)
	r.Feedback = feedback.String
	r.DecidedBy = stringPtr(decidedBy)
	return r, nil
}

func (t *Tx) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	r, err := scanReservation(t.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return r, domain.NotFound("reservation", id)
	}
	if err != nil {
		return r, classify(ctx, err)
	}
	return r, nil
}

// InsertReservation relies on reservations_live_idx, so two racing inserts for
// the same (project, student) cannot both land.
func (t *Tx) InsertReservation(ctx context.Context, r domain.Reservation) error {
	_, err := t.exec(ctx, `INSERT INTO reservations(`+reservationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ProjectID, r.StudentID, nullableStringPtr(r.SupervisorID), string(r.Status), nullable(r.Feedback),
		nullableStringPtr(r.DecidedBy), r.ReservedAt, r.UpdatedAt, r.Version)
	if err != nil && uniqueViolation(err) {
		return &domain.Error{
			Kind:   domain.KindDuplicateReservation,
			Entity: "project",
			ID:     r.ProjectID,
			Msg:    "student " + r.StudentID + " already holds a live reservation",
			Err:    err,
		}
	}
	return err
}

// SwapReservation relies on reservations_approved_idx for the single-claim rule.
func (t *Tx) SwapReservation(ctx context.Context, r domain.Reservation, expected int64) error {
	res, err := t.exec(ctx, `UPDATE reservations SET supervisor_id=?,status=?,feedback=?,decided_by=?,updated_at=?,version=?
WHERE id=? AND version=?`,
		nullableStringPtr(r.SupervisorID), string(r.Status), nullable(r.Feedback), nullableStringPtr(r.DecidedBy),
		r.UpdatedAt, r.Version, r.ID, expected)
	if err != nil {
		if uniqueViolation(err) {
			return &domain.Error{
				Kind:   domain.KindConflictingApproval,
				Entity: "reservation",
				ID:     r.ID,
				State:  string(r.Status),
				Msg:    "project " + r.ProjectID + " already has an approved reservation",
				Err:    err,
			}
		}
		return err
	}
	return t.swapped(ctx, res, "reservations", "reservation", r.ID)
}

func (t *Tx) ApprovedReservation(ctx context.Context, projectID string) (domain.Reservation, error) {
	r, err := scanReservation(t.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE project_id=? AND status=?`,
		projectID, string(domain.ReservationApproved)))
	if err == sql.ErrNoRows {
		return r, &domain.Error{Kind: domain.KindNotFound, Entity: "reservation", Msg: "no approved reservation for project " + projectID}
	}
	if err != nil {
		return r, classify(ctx, err)
	}
	return r, nil
}

func (t *Tx) ListReservations(ctx context.Context, f store.ReservationFilter) ([]domain.Reservation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StudentID != "" {
		clauses = append(clauses, "student_id=?")
		args = append(args, f.StudentID)
	}
	if f.SupervisorID != "" {
		clauses = append(clauses, "supervisor_id=?")
		args = append(args, f.SupervisorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	rows, err := t.query(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE `+strings.Join(clauses, " AND ")+` ORDER BY reserved_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, classify(ctx, err)
		}
		res = append(res, r)
	}
	return res, classify(ctx, rows.Err())
}
