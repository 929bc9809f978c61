// README: Ride handlers for create/get/assign/status/cancel.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/ride"
	"dispatch/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type stopReq struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (s stopReq) toStop() ride.Stop {
	return ride.Stop{Address: s.Address, Point: types.Point{Lat: s.Lat, Lng: s.Lng}}
}

type createRideReq struct {
	OwnerContact string  `json:"owner_contact"`
	Pickup       stopReq `json:"pickup"`
	Dropoff      stopReq `json:"dropoff"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	caller := middleware.CallerIdentity(c)
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		OwnerSubjectUID: caller.SubjectUID,
		OwnerContact:    req.OwnerContact,
		Pickup:          req.Pickup.toStop(),
		Dropoff:         req.Dropoff.toStop(),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rideResponse(r))
}

func (h *RideHandler) Get(c *gin.Context) {
	id := types.ID(c.Param("id"))
	r, err := h.rides.Get(c.Request.Context(), id, middleware.CallerIdentity(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rideResponse(r))
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *RideHandler) Assign(c *gin.Context) {
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	r, err := h.rides.AssignDriver(c.Request.Context(),
		types.ID(c.Param("id")), types.ID(req.DriverID), middleware.CallerIdentity(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rideResponse(r))
}

type statusReq struct {
	Event string `json:"event"`
}

func (h *RideHandler) Status(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Event == "" {
		writeError(c, http.StatusBadRequest, "missing event")
		return
	}
	r, err := h.rides.ApplyStatus(c.Request.Context(),
		types.ID(c.Param("id")), ride.Event(req.Event), middleware.CallerIdentity(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rideResponse(r))
}

func (h *RideHandler) Cancel(c *gin.Context) {
	r, err := h.rides.Cancel(c.Request.Context(), types.ID(c.Param("id")), middleware.CallerIdentity(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rideResponse(r))
}

func rideResponse(r ride.Ride) map[string]any {
	resp := map[string]any{
		"ride_id":     r.ID,
		"status":      r.Status,
		"pickup":      stopResponse(r.Pickup),
		"dropoff":     stopResponse(r.Dropoff),
		"created_at":  r.CreatedAt.Format(time.RFC3339),
		"modified_at": r.ModifiedAt.Format(time.RFC3339),
	}
	if r.AssignedDriverID != "" {
		resp["driver_id"] = r.AssignedDriverID
		resp["assigned_subject_uid"] = r.AssignedSubjectUID
		resp["driver_name"] = r.DriverName
	}
	if r.LastLocation != nil {
		resp["last_location"] = map[string]any{
			"lat":       r.LastLocation.Point.Lat,
			"lng":       r.LastLocation.Point.Lng,
			"client_ts": r.LastLocation.ClientTS.Format(time.RFC3339),
		}
	}
	return resp
}

func stopResponse(s ride.Stop) map[string]any {
	return map[string]any{"address": s.Address, "lat": s.Point.Lat, "lng": s.Point.Lng}
}
