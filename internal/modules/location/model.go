// README: Canonical location report accepted from driver clients.
package location

import (
	"time"

	"dispatch/internal/types"
)

// Report is a normalized position report. Heading, speed, and accuracy
// are optional; ClientTS is the device clock at capture time.
type Report struct {
	Point      types.Point
	HeadingDeg *float64
	SpeedKmh   *float64
	AccuracyM  *float64
	ClientTS   time.Time
}
