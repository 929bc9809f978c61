// README: Location report handler; ingests driver position reports.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/ride"
	"dispatch/internal/types"
)

type LocationHandler struct {
	rides *ride.Service
}

func NewLocationHandler(svc *ride.Service) *LocationHandler {
	return &LocationHandler{rides: svc}
}

type reportReq struct {
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	HeadingDeg *float64   `json:"heading_deg"`
	SpeedKmh   *float64   `json:"speed_kmh"`
	AccuracyM  *float64   `json:"accuracy_m"`
	ClientTS   *time.Time `json:"client_ts"`
}

// Report handles POST /api/rides/:id/location. The reporter is the
// authenticated subject; a report for a ride whose assigned subject
// differs is rejected.
func (h *LocationHandler) Report(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	rep := location.Report{
		Point:      types.Point{Lat: req.Lat, Lng: req.Lng},
		HeadingDeg: req.HeadingDeg,
		SpeedKmh:   req.SpeedKmh,
		AccuracyM:  req.AccuracyM,
	}
	if req.ClientTS != nil {
		rep.ClientTS = *req.ClientTS
	}
	caller := middleware.CallerIdentity(c)
	r, err := h.rides.RecordLocation(c.Request.Context(), types.ID(c.Param("id")), caller.SubjectUID, rep)
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"ride_id":     r.ID,
		"accepted_at": r.LastLocation.AcceptedAt.Format(time.RFC3339),
	})
}
