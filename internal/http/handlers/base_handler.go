// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/ride"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeRideError maps ride, identity, and location sentinels to HTTP
// statuses. Rejected reports and illegal transitions are conflicts, not
// server errors.
func writeRideError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrBadRequest),
		errors.Is(err, identity.ErrInvalidSubject),
		errors.Is(err, location.ErrInvalidLocation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ride.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, ride.ErrTerminalState),
		errors.Is(err, ride.ErrRideNotActive),
		errors.Is(err, ride.ErrExists),
		errors.Is(err, identity.ErrNotLinked),
		errors.Is(err, identity.ErrConflict),
		errors.Is(err, location.ErrStaleReport):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrRateLimited):
		writeError(c, http.StatusTooManyRequests, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
