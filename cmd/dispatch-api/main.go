// README: Entry point; loads config, wires services, starts the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/maps"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/ride"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier := infra.NewJWTVerifier(cfg.Auth.JWTSecret)

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	drivers := identity.NewService(identity.NewPGRegistry(dbPool))

	bus := broadcast.NewRouter(cfg.Stream.SubscriberBuffer)
	geoStore := location.NewGeoStore(redisClient)

	rides := ride.NewService(ride.NewStore(), drivers, location.Validator{
		MinInterval: cfg.Tracking.MinReportInterval,
		MaxAge:      cfg.Tracking.MaxReportAge,
	})
	rides.WithPublisher(bus)
	rides.WithArchive(ride.NewPGArchive(dbPool))
	rides.WithGeoMirror(geoStore)

	if cfg.Maps.APIKey != "" {
		geocoder, err := maps.NewGeocoder(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		rides.WithGeocoder(geocoder)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rides,
		Drivers:  drivers,
		Bus:      bus,
		Geo:      geoStore,
		Verifier: verifier,
		Stream:   cfg.Stream,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("dispatch-api listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
