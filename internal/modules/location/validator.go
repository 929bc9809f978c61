// README: Report acceptance rules: coordinate ranges, rate limit, staleness.
package location

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrRateLimited     = errors.New("report rate limited")
	ErrStaleReport     = errors.New("stale report")
)

// Validator decides whether a report is accepted. It is pure: the caller
// supplies the last-accepted state and the current time, and must hold
// the per-ride lock so that check and acceptance are atomic.
type Validator struct {
	// MinInterval is the minimum elapsed time between accepted reports
	// for the same ride.
	MinInterval time.Duration
	// MaxAge is how far behind now a client timestamp may lag.
	MaxAge time.Duration
}

// Check validates a report against the last accepted one. lastAcceptedAt
// and lastClientTS are zero when the ride has no accepted report yet.
// Rejected reports are dropped, never queued: last-accepted-wins.
func (v Validator) Check(rep Report, lastAcceptedAt, lastClientTS, now time.Time) error {
	if !validCoords(rep.Point.Lat, rep.Point.Lng) {
		return ErrInvalidLocation
	}
	if rep.ClientTS.IsZero() {
		return ErrInvalidLocation
	}
	if v.MinInterval > 0 && !lastAcceptedAt.IsZero() && now.Sub(lastAcceptedAt) < v.MinInterval {
		return ErrRateLimited
	}
	if !lastClientTS.IsZero() && rep.ClientTS.Before(lastClientTS) {
		return ErrStaleReport
	}
	if v.MaxAge > 0 && now.Sub(rep.ClientTS) > v.MaxAge {
		return ErrStaleReport
	}
	return nil
}

func validCoords(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
