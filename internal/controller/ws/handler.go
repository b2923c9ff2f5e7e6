package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// client serializes writes to one websocket connection; the status router
// and the read-loop echo can push concurrently.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

func NewHandler(registry *Registry, log *logrus.Logger) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.WithField("component", "ws"),
	}
}

// Serve upgrades the request, registers the connection under the client id,
// and echoes inbound messages until the connection drops.
func (h *Handler) Serve(c *gin.Context) {
	clientID := c.Param("client_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &client{conn: conn}
	h.registry.Register(clientID, cl)
	defer h.registry.Release(clientID, cl)
	h.log.WithField("client_id", clientID).Info("client connected")

	if err := cl.WriteJSON(gin.H{
		"type":      "connection",
		"status":    "connected",
		"client_id": clientID,
	}); err != nil {
		h.log.WithError(err).Warn("greeting failed")
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.log.WithField("client_id", clientID).Info("client disconnected")
			return
		}
		if err := cl.WriteJSON(gin.H{
			"type":    "message",
			"content": "Received: " + string(data),
		}); err != nil {
			return
		}
	}
}
