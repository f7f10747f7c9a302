package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Handler upgrades HTTP requests to websocket connections and serves them until they close.
type Handler struct {
	upgrader   websocket.Upgrader
	dispatcher Dispatcher
	logger     hclog.Logger
}

// NewHandler returns a Handler accepting connections from allowedOrigin ("*" or empty accepts any origin).
func NewHandler(dispatcher Dispatcher, allowedOrigin string, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP request to Websocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}
	c, err := NewClient(conn, h.dispatcher, h.logger)
	if err != nil {
		h.logger.Error("could not create client", "error", err)
		conn.Close()
		return
	}
	h.logger.Debug("client connected", "conn", c.Id(), "remote", r.RemoteAddr)
	c.Add(2)
	go c.WriteLoop()
	c.ReadLoop()
	c.Wait()
	h.logger.Debug("client disconnected", "conn", c.Id())
}
