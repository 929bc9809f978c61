// README: Broadcast event and subscription-group definitions.
package broadcast

import (
	"time"

	"dispatch/internal/types"
)

type Kind string

const (
	KindStatusChanged   Kind = "status_changed"
	KindLocationUpdated Kind = "location_updated"
)

// Event is an ephemeral message fanned out to a ride's observers. It is
// never persisted; a subscriber that was not connected does not see it
// later.
type Event struct {
	RideID   types.ID    `json:"ride_id"`
	Kind     Kind        `json:"kind"`
	Payload  interface{} `json:"payload"`
	ServerTS time.Time   `json:"server_ts"`
}

type GroupKind string

const (
	GroupRide   GroupKind = "ride"
	GroupDriver GroupKind = "driver"
	GroupOps    GroupKind = "ops"
)

// opsKey is the single key under which all operations observers live.
const opsKey = "ops"
