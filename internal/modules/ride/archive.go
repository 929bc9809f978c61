// README: Persistent transition log and terminal-ride archive (PostgreSQL).
package ride

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGArchive persists ride status transitions and terminal snapshots.
// Live ride state stays in memory; this table exists for after-the-fact
// review, not for serving traffic. Location history is deliberately not
// stored.
type PGArchive struct {
	db *pgxpool.Pool
}

func NewPGArchive(db *pgxpool.Pool) *PGArchive {
	return &PGArchive{db: db}
}

func (a *PGArchive) RecordTransition(ctx context.Context, rec TransitionRecord) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO ride_status_events (ride_id, from_status, to_status, actor_uid, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(rec.RideID),
		string(rec.FromStatus),
		string(rec.ToStatus),
		rec.ActorUID,
		rec.At,
	)
	return err
}

func (a *PGArchive) ArchiveRide(ctx context.Context, r Ride) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO rides_archive (
			id, status, driver_id, assigned_subject_uid, driver_name,
			pickup_address, pickup_lat, pickup_lng,
			dropoff_address, dropoff_lat, dropoff_lng,
			owner_subject_uid, owner_contact,
			created_at, modified_at, modified_by
		) VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, ''), $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13,
			$14, $15, $16
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			modified_at = EXCLUDED.modified_at,
			modified_by = EXCLUDED.modified_by`,
		string(r.ID),
		string(r.Status),
		string(r.AssignedDriverID),
		r.AssignedSubjectUID,
		r.DriverName,
		r.Pickup.Address, r.Pickup.Point.Lat, r.Pickup.Point.Lng,
		r.Dropoff.Address, r.Dropoff.Point.Lat, r.Dropoff.Point.Lng,
		r.OwnerSubjectUID, r.OwnerContact,
		r.CreatedAt, r.ModifiedAt, r.ModifiedBy,
	)
	return err
}
