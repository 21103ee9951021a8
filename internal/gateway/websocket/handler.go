package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is checked by the reverse proxy / local-only binding in front
	// of this daemon, not per-connection here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and starts the client's two pumps. It
// returns once the connection closes.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(newClientID(), conn, h, h.log)
	h.register(cl)

	go cl.writePump()
	cl.readPump(c.Request.Context())
}
