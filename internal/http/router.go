// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/config"
	"dispatch/internal/http/handlers"
	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/ride"
)

type RouterDeps struct {
	Rides    *ride.Service
	Drivers  *identity.Service
	Bus      *broadcast.Router
	Geo      *location.GeoStore // optional
	Verifier infra.TokenVerifier
	Stream   config.StreamConfig
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	auth := middleware.Auth(deps.Verifier)

	rideHandler := handlers.NewRideHandler(deps.Rides)
	api := r.Group("/api", auth)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/assign", rideHandler.Assign)
	api.POST("/rides/:id/status", rideHandler.Status)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)

	locationHandler := handlers.NewLocationHandler(deps.Rides)
	api.POST("/rides/:id/location", locationHandler.Report)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Geo)
	api.POST("/drivers", driverHandler.Create)
	api.GET("/drivers", driverHandler.List)
	api.GET("/drivers/nearby", driverHandler.Nearby)
	api.GET("/drivers/:id", driverHandler.Get)
	api.POST("/drivers/:id/link", driverHandler.Link)

	streamHandler := handlers.NewStreamHandler(deps.Bus, deps.Rides, deps.Drivers, deps.Stream)
	ws := r.Group("/ws", auth)
	ws.GET("/rides/:id", streamHandler.Ride)
	ws.GET("/drivers/:id", streamHandler.Driver)
	ws.GET("/ops", streamHandler.Ops)

	return r
}
