package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/relaywire/agentbridge/internal/logger"
)

// Gateway bundles the Hub with the HTTP routes it's reachable from. It is
// the single object cmd/agentbridged wires into a gin.Engine.
type Gateway struct {
	Hub *Hub
}

// New builds a Gateway with a fresh, unwired Hub. Call Hub.SetHooks and
// Hub.SetApprovalHandler before traffic arrives.
func New(log *logger.Logger) *Gateway {
	return &Gateway{Hub: NewHub(log)}
}

// SetupRoutes registers /ws and the hook HTTP endpoints on router.
func (g *Gateway) SetupRoutes(router *gin.Engine, approvals ApprovalRequester) {
	router.GET("/ws", g.Hub.ServeWS)
	g.Hub.RegisterHookRoutes(router, approvals)
}

// Shutdown closes every connected client, used during graceful daemon
// shutdown before the HTTP server itself stops accepting.
func (g *Gateway) Shutdown() {
	g.Hub.closeAllClients()
}
