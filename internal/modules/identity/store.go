// README: Driver registry backed by PostgreSQL.
package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

// uniqueViolation is the Postgres error code raised by the unique index
// on drivers.linked_subject_uid.
const uniqueViolation = "23505"

type PGRegistry struct {
	db *pgxpool.Pool
}

func NewPGRegistry(db *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{db: db}
}

func (r *PGRegistry) Create(ctx context.Context, d Driver) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO drivers (id, display_name, linked_subject_uid)
		VALUES ($1, $2, NULLIF($3, ''))`,
		string(d.ID), d.DisplayName, d.LinkedSubjectUID,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *PGRegistry) Get(ctx context.Context, id types.ID) (Driver, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, display_name, COALESCE(linked_subject_uid, '')
		FROM drivers
		WHERE id = $1`, string(id),
	)
	var d Driver
	err := row.Scan(&d.ID, &d.DisplayName, &d.LinkedSubjectUID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Driver{}, ErrNotFound
	}
	if err != nil {
		return Driver{}, err
	}
	return d, nil
}

func (r *PGRegistry) List(ctx context.Context) ([]Driver, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, display_name, COALESCE(linked_subject_uid, '')
		FROM drivers
		ORDER BY display_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		var d Driver
		if err := rows.Scan(&d.ID, &d.DisplayName, &d.LinkedSubjectUID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PGRegistry) SetLink(ctx context.Context, id types.ID, subjectUID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE drivers
		SET linked_subject_uid = NULLIF($1, '')
		WHERE id = $2`,
		subjectUID, string(id),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
