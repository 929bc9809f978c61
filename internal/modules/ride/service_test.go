// README: Ride service tests (flow, authorization, rate limiting, races).
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/location"
	"dispatch/internal/policy"
	"dispatch/internal/types"
)

var (
	opsID    = policy.Identity{SubjectUID: "staff-1", Role: policy.RoleOps}
	driverID = policy.Identity{SubjectUID: "driver-001", Role: policy.RoleDriver}
	ownerID  = policy.Identity{SubjectUID: "passenger-001", Role: policy.RolePassenger}
)

// stubResolver is a test double for the identity linker.
type stubResolver struct {
	links map[types.ID]string
	names map[types.ID]string
}

func (s *stubResolver) ResolveAssignment(_ context.Context, id types.ID) (string, error) {
	subject, ok := s.links[id]
	if !ok || subject == "" {
		return "", errNotLinkedStub
	}
	return subject, nil
}

func (s *stubResolver) DriverName(_ context.Context, id types.ID) (string, error) {
	return s.names[id], nil
}

var errNotLinkedStub = errors.New("driver has no linked subject")

func newTestService(t *testing.T) *Service {
	t.Helper()
	resolver := &stubResolver{
		links: map[types.ID]string{"d1": "driver-001"},
		names: map[types.ID]string{"d1": "Dana", "d-unlinked": "Ulla"},
	}
	checks := location.Validator{MinInterval: 10 * time.Second}
	return NewService(NewStore(), resolver, checks)
}

func mustCreateRide(t *testing.T, svc *Service) Ride {
	t.Helper()
	r, err := svc.Create(context.Background(), CreateCommand{
		OwnerSubjectUID: "passenger-001",
		Pickup:          Stop{Address: "Union Station", Point: types.Point{Lat: 41.878, Lng: -87.639}},
		Dropoff:         Stop{Address: "O'Hare", Point: types.Point{Lat: 41.978, Lng: -87.904}},
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func mustAssign(t *testing.T, svc *Service, id types.ID) Ride {
	t.Helper()
	r, err := svc.AssignDriver(context.Background(), id, "d1", opsID)
	if err != nil {
		t.Fatalf("assign driver: %v", err)
	}
	return r
}

func report(lat, lng float64, ts time.Time) location.Report {
	return location.Report{Point: types.Point{Lat: lat, Lng: lng}, ClientTS: ts}
}

func TestRideFlowHappyPath(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.SetClockForTest(func() time.Time { return now })

	r := mustCreateRide(t, svc)
	if r.Status != StatusScheduled {
		t.Fatalf("new ride status = %s, want %s", r.Status, StatusScheduled)
	}
	if r.AssignedSubjectUID != "" {
		t.Fatal("new ride must be unassigned")
	}

	r = mustAssign(t, svc, r.ID)
	if r.AssignedSubjectUID != "driver-001" || r.AssignedDriverID != "d1" {
		t.Fatalf("assignment not recorded: %+v", r)
	}
	if r.DriverName != "Dana" {
		t.Fatalf("driver name = %q, want Dana", r.DriverName)
	}

	r, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.Status != StatusOnRoute {
		t.Fatalf("status = %s, want %s", r.Status, StatusOnRoute)
	}

	// First report accepted.
	r, err = svc.RecordLocation(ctx, r.ID, "driver-001", report(41.88, -87.63, base))
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	if r.LastLocation == nil || !r.LastLocation.ClientTS.Equal(base) {
		t.Fatalf("lastLocation not recorded: %+v", r.LastLocation)
	}

	// Second report 2s later is rate limited and leaves lastLocation alone.
	now = base.Add(2 * time.Second)
	_, err = svc.RecordLocation(ctx, r.ID, "driver-001", report(41.89, -87.62, base.Add(2*time.Second)))
	if !errors.Is(err, location.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	snap, _ := svc.Get(ctx, r.ID, opsID)
	if snap.LastLocation.Point.Lat != 41.88 {
		t.Fatalf("rate-limited report mutated lastLocation: %+v", snap.LastLocation)
	}

	// Walk the ride to completion.
	now = base.Add(time.Minute)
	for _, ev := range []Event{EventArrive, EventBoard, EventFinish} {
		if r, err = svc.ApplyStatus(ctx, r.ID, ev, driverID); err != nil {
			t.Fatalf("%s: %v", ev, err)
		}
	}
	if r.Status != StatusCompleted {
		t.Fatalf("final status = %s, want %s", r.Status, StatusCompleted)
	}
}

func TestAssignDriverUnlinkedFails(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)

	_, err := svc.AssignDriver(context.Background(), r.ID, "d-unlinked", opsID)
	if !errors.Is(err, errNotLinkedStub) {
		t.Fatalf("expected not-linked error, got %v", err)
	}
	snap, _ := svc.Get(context.Background(), r.ID, opsID)
	if snap.AssignedSubjectUID != "" || snap.AssignedDriverID != "" {
		t.Fatalf("failed assignment mutated ride: %+v", snap)
	}
}

func TestAssignDriverAuthorization(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)

	for _, id := range []policy.Identity{driverID, ownerID} {
		if _, err := svc.AssignDriver(context.Background(), r.ID, "d1", id); !errors.Is(err, ErrForbidden) {
			t.Fatalf("assign as %s: expected ErrForbidden, got %v", id.Role, err)
		}
	}
}

func TestAssignDriverReentrant(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)

	first := mustAssign(t, svc, r.ID)
	second := mustAssign(t, svc, r.ID)
	if second.ModifiedAt != first.ModifiedAt {
		t.Fatal("re-assigning the same driver must be a no-op")
	}
}

func TestAssignDriverAfterStartFails(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)
	if _, err := svc.ApplyStatus(context.Background(), r.ID, EventStart, driverID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.AssignDriver(context.Background(), r.ID, "d1", opsID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStartRequiresAssignment(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)

	// Even ops cannot move an unassigned ride onto the road.
	if _, err := svc.ApplyStatus(context.Background(), r.ID, EventStart, opsID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApplyStatusForbiddenForStrangers(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)

	other := policy.Identity{SubjectUID: "driver-002", Role: policy.RoleDriver}
	if _, err := svc.ApplyStatus(context.Background(), r.ID, EventStart, other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	snap, _ := svc.Get(context.Background(), r.ID, opsID)
	if snap.Status != StatusScheduled {
		t.Fatalf("forbidden mutation changed status to %s", snap.Status)
	}
}

func TestTerminalRideIsImmutable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)
	if _, err := svc.Cancel(ctx, r.ID, opsID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.AssignDriver(ctx, r.ID, "d1", opsID); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("assign after cancel: expected ErrTerminalState, got %v", err)
	}
	if _, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("start after cancel: expected ErrTerminalState, got %v", err)
	}
	if _, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(41.88, -87.63, time.Now())); !errors.Is(err, ErrRideNotActive) {
		t.Fatalf("report after cancel: expected ErrRideNotActive, got %v", err)
	}
	snap, _ := svc.Get(ctx, r.ID, opsID)
	if snap.Status != StatusCancelled || snap.LastLocation != nil {
		t.Fatalf("terminal ride mutated: %+v", snap)
	}
}

func TestRecordLocationReporterMismatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)
	if _, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.RecordLocation(ctx, r.ID, "driver-002", report(41.88, -87.63, time.Now())); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.RecordLocation(ctx, r.ID, "", report(41.88, -87.63, time.Now())); !errors.Is(err, ErrForbidden) {
		t.Fatalf("empty reporter: expected ErrForbidden, got %v", err)
	}
}

func TestRecordLocationUnassignedRide(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)
	if _, err := svc.RecordLocation(context.Background(), r.ID, "driver-001", report(41.88, -87.63, time.Now())); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRecordLocationStaleAndInvalid(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.SetClockForTest(func() time.Time { return now })

	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)
	if _, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(41.88, -87.63, base)); err != nil {
		t.Fatalf("first report: %v", err)
	}

	now = base.Add(time.Minute)
	// Out-of-order client timestamp: dropped, not reordered.
	if _, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(41.89, -87.62, base.Add(-time.Second))); !errors.Is(err, location.ErrStaleReport) {
		t.Fatalf("expected ErrStaleReport, got %v", err)
	}
	// Out-of-range coordinates.
	if _, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(91, 0, now)); !errors.Is(err, location.ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestGetAuthorization(t *testing.T) {
	svc := newTestService(t)
	r := mustCreateRide(t, svc)

	if _, err := svc.Get(context.Background(), r.ID, ownerID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	stranger := policy.Identity{SubjectUID: "someone-else", Role: policy.RolePassenger}
	if _, err := svc.Get(context.Background(), r.ID, stranger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger get: expected ErrForbidden, got %v", err)
	}
}

func TestConcurrentApplyStatusExactlyOneSuccess(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)

	// From Scheduled only `start` is legal for the driver; fire it many
	// times concurrently alongside illegal events. Exactly one start may
	// win, every other call must fail and leave the winner's state.
	const attempts = 16
	events := make([]Event, 0, attempts)
	for i := 0; i < attempts; i++ {
		if i%4 == 0 {
			events = append(events, EventStart)
		} else {
			events = append(events, []Event{EventArrive, EventBoard, EventFinish}[i%3])
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for _, ev := range events {
		wg.Add(1)
		go func(ev Event) {
			defer wg.Done()
			<-start
			_, err := svc.ApplyStatus(ctx, r.ID, ev, driverID)
			errs <- err
		}(ev)
	}
	close(start)
	wg.Wait()
	close(errs)

	// The first successful start moves the ride to OnRoute, after which a
	// concurrent `arrive` becomes legal too; count only start successes
	// by final state instead. Tally errors to make sure nothing
	// unexpected leaked through.
	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrTerminalState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 {
		t.Fatalf("expected at least one success, got %d", success)
	}
	snap, _ := svc.Get(ctx, r.ID, opsID)
	if snap.Status == StatusScheduled {
		t.Fatalf("no transition applied despite %d successes", success)
	}
}

func TestConcurrentStartExactlyOneSuccess(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	snap, _ := svc.Get(ctx, r.ID, opsID)
	if snap.Status != StatusOnRoute {
		t.Fatalf("final status = %s, want %s", snap.Status, StatusOnRoute)
	}
}

func TestConcurrentLocationReportsRateLimitHoldsUnderRace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClockForTest(func() time.Time { return base })

	r := mustCreateRide(t, svc)
	mustAssign(t, svc, r.ID)
	if _, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// With a frozen clock, only the very first report can be accepted;
	// the rate-limit check and the write are atomic under the ride lock.
	const attempts = 12
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	gate := make(chan struct{})
	for i := 0; i < attempts; i++ {
		lat := 41.0 + float64(i)/100
		wg.Add(1)
		go func(lat float64) {
			defer wg.Done()
			<-gate
			_, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(lat, -87.63, base))
			errs <- err
		}(lat)
	}
	close(gate)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, location.ErrRateLimited) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 accepted report, got %d", success)
	}
}

func TestEventsPublishedOutsideLock(t *testing.T) {
	// A publisher that re-enters the store would deadlock if Publish ran
	// under the ride lock.
	svc := newTestService(t)
	ctx := context.Background()
	r := mustCreateRide(t, svc)

	reenter := &reentrantPublisher{svc: svc, done: make(chan struct{}, 8)}
	svc.WithPublisher(reenter)
	mustAssign(t, svc, r.ID)

	finished := make(chan struct{})
	go func() {
		_, _ = svc.ApplyStatus(ctx, r.ID, EventStart, driverID)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("ApplyStatus deadlocked; publish likely runs under the ride lock")
	}
}

type reentrantPublisher struct {
	svc  *Service
	done chan struct{}
}

func (p *reentrantPublisher) Publish(_ broadcast.Event, ride policy.RideView) {
	// Reading the ride back acquires the same per-ride lock.
	_, _ = p.svc.Get(context.Background(), ride.ID, policy.Identity{SubjectUID: "staff-1", Role: policy.RoleOps})
	select {
	case p.done <- struct{}{}:
	default:
	}
}

func TestPublishedEventsCarryKindAndPayload(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	bus := broadcast.NewRouter(8)
	svc.WithPublisher(bus)

	r := mustCreateRide(t, svc)
	sub := bus.Subscribe(opsID, broadcast.GroupOps, "")
	defer bus.Unsubscribe(sub)

	mustAssign(t, svc, r.ID)
	if _, err := svc.ApplyStatus(ctx, r.ID, EventStart, driverID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordLocation(ctx, r.ID, "driver-001", report(41.88, -87.63, time.Now())); err != nil {
		t.Fatalf("report: %v", err)
	}

	kinds := make([]broadcast.Kind, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			if ev.RideID != r.ID {
				t.Fatalf("event for wrong ride: %s", ev.RideID)
			}
			if ev.ServerTS.IsZero() {
				t.Fatal("event missing server timestamp")
			}
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d, got %v", i, kinds)
		}
	}
	want := []broadcast.Kind{broadcast.KindStatusChanged, broadcast.KindStatusChanged, broadcast.KindLocationUpdated}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Create(context.Background(), CreateCommand{}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
	if _, err := svc.Create(context.Background(), CreateCommand{OwnerSubjectUID: "p1"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing pickup: expected ErrBadRequest, got %v", err)
	}
}

func TestCreateManyRidesUniqueIDs(t *testing.T) {
	svc := newTestService(t)
	seen := make(map[types.ID]bool)
	for i := 0; i < 100; i++ {
		r, err := svc.Create(context.Background(), CreateCommand{
			OwnerSubjectUID: fmt.Sprintf("p%d", i),
			Pickup:          Stop{Point: types.Point{Lat: 41.88, Lng: -87.63}},
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[r.ID] {
			t.Fatalf("duplicate ride id %s", r.ID)
		}
		seen[r.ID] = true
	}
}
