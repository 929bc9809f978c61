// README: Websocket stream handlers; live ride/driver/ops event feeds.
package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/config"
	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/broadcast"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/ride"
	"dispatch/internal/policy"
	"dispatch/internal/types"
)

type StreamHandler struct {
	bus     *broadcast.Router
	rides   *ride.Service
	drivers *identity.Service
	cfg     config.StreamConfig

	upgrader websocket.Upgrader
}

func NewStreamHandler(bus *broadcast.Router, rides *ride.Service, drivers *identity.Service, cfg config.StreamConfig) *StreamHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	return &StreamHandler{
		bus:     bus,
		rides:   rides,
		drivers: drivers,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Ride handles GET /ws/rides/:id. The subscription is refused up front
// when the caller may not observe the ride; authorization is re-checked
// at every delivery regardless, so a later revocation quietly stops the
// feed without closing the socket.
func (h *StreamHandler) Ride(c *gin.Context) {
	id := types.ID(c.Param("id"))
	caller := middleware.CallerIdentity(c)
	if _, err := h.rides.Get(c.Request.Context(), id, caller); err != nil {
		writeRideError(c, err)
		return
	}
	h.serve(c, caller, broadcast.GroupRide, string(id))
}

// Driver handles GET /ws/drivers/:id: the feed of all events for rides
// assigned to one driver. Allowed for operations and for the driver's
// own linked subject.
func (h *StreamHandler) Driver(c *gin.Context) {
	id := types.ID(c.Param("id"))
	caller := middleware.CallerIdentity(c)
	if caller.Role != policy.RoleOps {
		subject, err := h.drivers.ResolveAssignment(c.Request.Context(), id)
		if err != nil || subject != caller.SubjectUID {
			writeError(c, http.StatusForbidden, "forbidden")
			return
		}
	}
	h.serve(c, caller, broadcast.GroupDriver, string(id))
}

// Ops handles GET /ws/ops: the firehose of all ride events.
func (h *StreamHandler) Ops(c *gin.Context) {
	caller := middleware.CallerIdentity(c)
	if caller.Role != policy.RoleOps {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	h.serve(c, caller, broadcast.GroupOps, "")
}

func (h *StreamHandler) serve(c *gin.Context, caller policy.Identity, kind broadcast.GroupKind, key string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	sub := h.bus.Subscribe(caller, kind, key)

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// writePump forwards events to the socket and keeps it alive with
// pings. It exits when the subscription channel closes or a write
// fails.
func (h *StreamHandler) writePump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames until the peer goes away, then tears
// the subscription down.
func (h *StreamHandler) readPump(conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer func() {
		h.bus.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("stream: read error: %v", err)
			}
			return
		}
	}
}
