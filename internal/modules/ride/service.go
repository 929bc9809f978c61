// README: Ride service; the only mutation path into the ride store.
package ride

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/location"
	"dispatch/internal/policy"
	"dispatch/internal/types"
)

// AssignmentResolver is the identity-linker slice the ride service
// needs: resolving a driver to its linked subject (ErrNotLinked
// propagates to the caller unchanged) and looking up the display name
// cached onto an assignment.
type AssignmentResolver interface {
	ResolveAssignment(ctx context.Context, driverID types.ID) (string, error)
	DriverName(ctx context.Context, driverID types.ID) (string, error)
}

// Publisher fans events out to the ride's subscriber groups. It must
// never block the caller; the service invokes it outside the per-ride
// lock.
type Publisher interface {
	Publish(ev broadcast.Event, ride policy.RideView)
}

// Archive persists status transitions and terminal ride snapshots.
// Calls are best-effort: failures are logged, never surfaced.
type Archive interface {
	RecordTransition(ctx context.Context, rec TransitionRecord) error
	ArchiveRide(ctx context.Context, r Ride) error
}

type TransitionRecord struct {
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorUID   string
	At         time.Time
}

// GeoMirror receives the assigned driver's latest accepted position.
type GeoMirror interface {
	UpdateDriverPosition(ctx context.Context, driverID types.ID, p types.Point) error
}

// Geocoder resolves an address descriptor to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

type Service struct {
	store  *Store
	links  AssignmentResolver
	checks location.Validator

	// Optional collaborators; each is nil-safe.
	bus     Publisher
	archive Archive
	geo     GeoMirror
	geocode Geocoder

	newID func() types.ID
	now   func() time.Time
}

func NewService(store *Store, links AssignmentResolver, checks location.Validator) *Service {
	return &Service{
		store:  store,
		links:  links,
		checks: checks,
		newID:  func() types.ID { return types.ID(uuid.NewString()) },
		now:    time.Now,
	}
}

// WithPublisher attaches the broadcast router.
func (s *Service) WithPublisher(bus Publisher) *Service {
	s.bus = bus
	return s
}

// WithArchive attaches the persistent transition log.
func (s *Service) WithArchive(a Archive) *Service {
	s.archive = a
	return s
}

// WithGeoMirror attaches the live driver position index.
func (s *Service) WithGeoMirror(g GeoMirror) *Service {
	s.geo = g
	return s
}

// WithGeocoder attaches pickup/dropoff address resolution.
func (s *Service) WithGeocoder(g Geocoder) *Service {
	s.geocode = g
	return s
}

// SetClockForTest overrides the service clock for deterministic tests.
func (s *Service) SetClockForTest(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type CreateCommand struct {
	OwnerSubjectUID string
	OwnerContact    string
	Pickup          Stop
	Dropoff         Stop
}

// Create registers a new ride in Scheduled with no assignment. When a
// stop carries only an address, the geocoder (if configured) resolves
// its coordinates; geocoding failures are not fatal.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (Ride, error) {
	if cmd.OwnerSubjectUID == "" {
		return Ride{}, ErrBadRequest
	}
	if cmd.Pickup.Address == "" && cmd.Pickup.Point == (types.Point{}) {
		return Ride{}, ErrBadRequest
	}

	cmd.Pickup = s.resolveStop(ctx, cmd.Pickup)
	cmd.Dropoff = s.resolveStop(ctx, cmd.Dropoff)

	now := s.now()
	r := Ride{
		ID:              s.newID(),
		Status:          StatusScheduled,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		OwnerSubjectUID: cmd.OwnerSubjectUID,
		OwnerContact:    cmd.OwnerContact,
		CreatedAt:       now,
		ModifiedAt:      now,
		ModifiedBy:      cmd.OwnerSubjectUID,
	}
	if err := s.store.Put(r); err != nil {
		return Ride{}, err
	}
	return r, nil
}

// Get returns a snapshot if the identity may observe the ride.
func (s *Service) Get(ctx context.Context, id types.ID, by policy.Identity) (Ride, error) {
	r, err := s.store.Snapshot(id)
	if err != nil {
		return Ride{}, err
	}
	if !policy.CanObserve(by, r.View()) {
		return Ride{}, ErrForbidden
	}
	return r, nil
}

// AssignDriver binds a linked driver to a Scheduled ride. The driver's
// subject uid is copied onto the ride at this moment; later changes to
// the driver's link do not alter the assignment. Re-assigning the same
// driver is a no-op.
func (s *Service) AssignDriver(ctx context.Context, id, driverID types.ID, by policy.Identity) (Ride, error) {
	if !policy.CanAssign(by) {
		return Ride{}, ErrForbidden
	}
	subject, err := s.links.ResolveAssignment(ctx, driverID)
	if err != nil {
		return Ride{}, err
	}
	name, err := s.links.DriverName(ctx, driverID)
	if err != nil {
		return Ride{}, err
	}

	changed := false
	updated, err := s.store.Update(id, func(r *Ride) error {
		if IsTerminal(r.Status) {
			return ErrTerminalState
		}
		if r.Status != StatusScheduled {
			return ErrInvalidTransition
		}
		if r.AssignedDriverID == driverID && r.AssignedSubjectUID == subject {
			return nil // re-entrant assignment
		}
		r.AssignedDriverID = driverID
		r.AssignedSubjectUID = subject
		r.DriverName = name
		r.ModifiedAt = s.now()
		r.ModifiedBy = by.SubjectUID
		changed = true
		return nil
	})
	if err != nil {
		return Ride{}, err
	}
	if changed {
		s.publish(broadcast.KindStatusChanged, updated, statusPayload(updated))
		s.record(ctx, TransitionRecord{
			RideID:     updated.ID,
			FromStatus: StatusScheduled,
			ToStatus:   StatusScheduled,
			ActorUID:   by.SubjectUID,
			At:         updated.ModifiedAt,
		})
	}
	return updated, nil
}

// ApplyStatus runs one state-machine event against the ride. The access
// policy is checked under the ride lock, against the current snapshot,
// before the machine is consulted.
func (s *Service) ApplyStatus(ctx context.Context, id types.ID, ev Event, by policy.Identity) (Ride, error) {
	var from Status
	updated, err := s.store.Update(id, func(r *Ride) error {
		if !policy.CanMutate(by, r.View()) {
			return ErrForbidden
		}
		next, err := Next(r.Status, ev)
		if err != nil {
			return err
		}
		if ev == EventStart && r.AssignedSubjectUID == "" {
			// An unassigned ride cannot enter OnRoute.
			return ErrInvalidTransition
		}
		from = r.Status
		r.Status = next
		r.ModifiedAt = s.now()
		r.ModifiedBy = by.SubjectUID
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.publish(broadcast.KindStatusChanged, updated, statusPayload(updated))
	s.record(ctx, TransitionRecord{
		RideID:     updated.ID,
		FromStatus: from,
		ToStatus:   updated.Status,
		ActorUID:   by.SubjectUID,
		At:         updated.ModifiedAt,
	})
	if IsTerminal(updated.Status) {
		s.archiveTerminal(ctx, updated)
	}
	return updated, nil
}

// Cancel is ApplyStatus with the cancel event.
func (s *Service) Cancel(ctx context.Context, id types.ID, by policy.Identity) (Ride, error) {
	return s.ApplyStatus(ctx, id, EventCancel, by)
}

// RecordLocation validates and applies a driver position report. The
// rate-limit and staleness checks run under the per-ride lock, so two
// near-simultaneous reports cannot both pass.
func (s *Service) RecordLocation(ctx context.Context, id types.ID, reporterUID string, rep location.Report) (Ride, error) {
	updated, err := s.store.Update(id, func(r *Ride) error {
		if IsTerminal(r.Status) {
			return ErrRideNotActive
		}
		if reporterUID == "" || reporterUID != r.AssignedSubjectUID {
			return ErrForbidden
		}
		var lastAccepted, lastClient time.Time
		if r.LastLocation != nil {
			lastAccepted = r.LastLocation.AcceptedAt
			lastClient = r.LastLocation.ClientTS
		}
		now := s.now()
		if err := s.checks.Check(rep, lastAccepted, lastClient, now); err != nil {
			return err
		}
		r.LastLocation = &Location{
			Point:      rep.Point,
			HeadingDeg: rep.HeadingDeg,
			SpeedKmh:   rep.SpeedKmh,
			AccuracyM:  rep.AccuracyM,
			ClientTS:   rep.ClientTS,
			AcceptedAt: now,
		}
		r.ModifiedAt = now
		r.ModifiedBy = reporterUID
		return nil
	})
	if err != nil {
		return Ride{}, err
	}

	s.publish(broadcast.KindLocationUpdated, updated, locationPayload(updated))
	if s.geo != nil && updated.AssignedDriverID != "" {
		if err := s.geo.UpdateDriverPosition(ctx, updated.AssignedDriverID, updated.LastLocation.Point); err != nil {
			log.Printf("ride: geo mirror update failed for driver %s: %v", updated.AssignedDriverID, err)
		}
	}
	return updated, nil
}

func (s *Service) resolveStop(ctx context.Context, stop Stop) Stop {
	if s.geocode == nil || stop.Address == "" || stop.Point != (types.Point{}) {
		return stop
	}
	p, err := s.geocode.Geocode(ctx, stop.Address)
	if err != nil {
		log.Printf("ride: geocode %q failed: %v", stop.Address, err)
		return stop
	}
	stop.Point = p
	return stop
}

func (s *Service) publish(kind broadcast.Kind, r Ride, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(broadcast.Event{
		RideID:   r.ID,
		Kind:     kind,
		Payload:  payload,
		ServerTS: s.now(),
	}, r.View())
}

func (s *Service) record(ctx context.Context, rec TransitionRecord) {
	if s.archive == nil {
		return
	}
	if err := s.archive.RecordTransition(ctx, rec); err != nil {
		log.Printf("ride: archive transition %s -> %s for %s failed: %v",
			rec.FromStatus, rec.ToStatus, rec.RideID, err)
	}
}

func (s *Service) archiveTerminal(ctx context.Context, r Ride) {
	if s.archive == nil {
		return
	}
	if err := s.archive.ArchiveRide(ctx, r); err != nil {
		log.Printf("ride: archive ride %s failed: %v", r.ID, err)
	}
}

func statusPayload(r Ride) map[string]interface{} {
	return map[string]interface{}{
		"status":      string(r.Status),
		"driver_id":   string(r.AssignedDriverID),
		"driver_name": r.DriverName,
	}
}

func locationPayload(r Ride) map[string]interface{} {
	loc := r.LastLocation
	p := map[string]interface{}{
		"lat":       loc.Point.Lat,
		"lng":       loc.Point.Lng,
		"client_ts": loc.ClientTS,
	}
	if loc.HeadingDeg != nil {
		p["heading_deg"] = *loc.HeadingDeg
	}
	if loc.SpeedKmh != nil {
		p["speed_kmh"] = *loc.SpeedKmh
	}
	if loc.AccuracyM != nil {
		p["accuracy_m"] = *loc.AccuracyM
	}
	return p
}
