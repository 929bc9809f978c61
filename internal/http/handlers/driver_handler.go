// README: Driver roster handlers for create/link/list and nearby lookup.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/location"
	"dispatch/internal/policy"
	"dispatch/internal/types"
)

type DriverHandler struct {
	drivers *identity.Service
	geo     *location.GeoStore // nil when Redis is not configured
}

func NewDriverHandler(drivers *identity.Service, geo *location.GeoStore) *DriverHandler {
	return &DriverHandler{drivers: drivers, geo: geo}
}

type createDriverReq struct {
	DisplayName string `json:"display_name"`
	SubjectUID  string `json:"subject_uid"`
}

func (h *DriverHandler) Create(c *gin.Context) {
	if !policy.CanAssign(middleware.CallerIdentity(c)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	var req createDriverReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DisplayName == "" {
		writeError(c, http.StatusBadRequest, "missing display_name")
		return
	}
	id, err := h.drivers.CreateDriver(c.Request.Context(), identity.CreateDriverCommand{
		DisplayName: req.DisplayName,
		SubjectUID:  req.SubjectUID,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"driver_id": id})
}

type linkReq struct {
	SubjectUID string `json:"subject_uid"`
}

func (h *DriverHandler) Link(c *gin.Context) {
	if !policy.CanAssign(middleware.CallerIdentity(c)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	var req linkReq
	if err := c.ShouldBindJSON(&req); err != nil || req.SubjectUID == "" {
		writeError(c, http.StatusBadRequest, "missing subject_uid")
		return
	}
	if err := h.drivers.LinkDriver(c.Request.Context(), types.ID(c.Param("id")), req.SubjectUID); err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_id": c.Param("id"), "subject_uid": req.SubjectUID})
}

func (h *DriverHandler) Get(c *gin.Context) {
	d, err := h.drivers.GetDriver(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverResponse(d))
}

func (h *DriverHandler) List(c *gin.Context) {
	if !policy.CanAssign(middleware.CallerIdentity(c)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	ds, err := h.drivers.ListDrivers(c.Request.Context())
	if err != nil {
		writeRideError(c, err)
		return
	}
	out := make([]map[string]any, len(ds))
	for i, d := range ds {
		out[i] = driverResponse(d)
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": out})
}

// Nearby handles GET /api/drivers/nearby?lat=..&lng=..&radius_km=..
// against the live position index. Operations only.
func (h *DriverHandler) Nearby(c *gin.Context) {
	if !policy.CanAssign(middleware.CallerIdentity(c)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	if h.geo == nil {
		writeError(c, http.StatusServiceUnavailable, "position index not configured")
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "missing lat/lng")
		return
	}
	radius := 5.0
	if v := c.Query("radius_km"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			radius = r
		}
	}
	ids, err := h.geo.NearbyDrivers(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "position index unavailable")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"driver_ids": ids})
}

func driverResponse(d identity.Driver) map[string]any {
	resp := map[string]any{
		"driver_id":    d.ID,
		"display_name": d.DisplayName,
	}
	if d.LinkedSubjectUID != "" {
		resp["subject_uid"] = d.LinkedSubjectUID
	}
	return resp
}
