// README: Ride aggregate, status state machine, and snapshot views.
package ride

import (
	"errors"
	"time"

	"dispatch/internal/policy"
	"dispatch/internal/types"
)

type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusOnRoute          Status = "on_route"
	StatusArrived          Status = "arrived"
	StatusPassengerOnboard Status = "passenger_onboard"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
)

// Event is a requested status transition. Driver assignment is not an
// event: it is a Scheduled-only mutation handled by the service.
type Event string

const (
	EventStart  Event = "start"
	EventArrive Event = "arrive"
	EventBoard  Event = "board"
	EventFinish Event = "finish"
	EventCancel Event = "cancel"
)

var (
	ErrNotFound          = errors.New("ride not found")
	ErrExists            = errors.New("ride already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminalState     = errors.New("ride is in a terminal state")
	ErrForbidden         = errors.New("forbidden")
	ErrRideNotActive     = errors.New("ride not active")
	ErrBadRequest        = errors.New("bad request")
)

// AllowedTransitions represents the ride status flow as data. Statuses
// absent from the map are terminal.
var AllowedTransitions = map[Status]map[Event]Status{
	StatusScheduled: {
		EventStart:  StatusOnRoute,
		EventCancel: StatusCancelled,
	},
	StatusOnRoute: {
		EventArrive: StatusArrived,
		EventCancel: StatusCancelled,
	},
	StatusArrived: {
		EventBoard:  StatusPassengerOnboard,
		EventCancel: StatusCancelled,
	},
	StatusPassengerOnboard: {
		EventFinish: StatusCompleted,
		EventCancel: StatusCancelled,
	},
}

// Next is the pure transition predicate: it returns the successor status
// or an error, and never has side effects. Authorization is the caller's
// concern.
func Next(current Status, ev Event) (Status, error) {
	if IsTerminal(current) {
		return current, ErrTerminalState
	}
	next, ok := AllowedTransitions[current][ev]
	if !ok {
		return current, ErrInvalidTransition
	}
	return next, nil
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Stop describes a pickup or dropoff point. Point may be zero when only
// an address descriptor was supplied.
type Stop struct {
	Address string
	Point   types.Point
}

// Location is a ride's last accepted position report.
type Location struct {
	Point      types.Point
	HeadingDeg *float64
	SpeedKmh   *float64
	AccuracyM  *float64
	// ClientTS is the device clock at capture; AcceptedAt is the server
	// clock at acceptance and drives the rate limiter.
	ClientTS   time.Time
	AcceptedAt time.Time
}

// Ride is the unit of dispatch work. Instances handed out by the store
// are always deep copies; the authoritative record never leaves the
// store's per-ride lock.
type Ride struct {
	ID     types.ID
	Status Status

	AssignedDriverID   types.ID
	AssignedSubjectUID string // copied from the driver's link at assignment time
	DriverName         string

	Pickup  Stop
	Dropoff Stop

	OwnerSubjectUID string
	OwnerContact    string

	LastLocation *Location

	CreatedAt  time.Time
	ModifiedAt time.Time
	ModifiedBy string
}

// View projects the authorization-relevant fields for the access policy
// and the broadcast router.
func (r *Ride) View() policy.RideView {
	return policy.RideView{
		ID:                 r.ID,
		AssignedDriverID:   r.AssignedDriverID,
		AssignedSubjectUID: r.AssignedSubjectUID,
		OwnerSubjectUID:    r.OwnerSubjectUID,
		OwnerContact:       r.OwnerContact,
	}
}

func (r *Ride) clone() Ride {
	out := *r
	if r.LastLocation != nil {
		loc := *r.LastLocation
		loc.HeadingDeg = clonePtr(r.LastLocation.HeadingDeg)
		loc.SpeedKmh = clonePtr(r.LastLocation.SpeedKmh)
		loc.AccuracyM = clonePtr(r.LastLocation.AccuracyM)
		out.LastLocation = &loc
	}
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
