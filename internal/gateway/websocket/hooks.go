package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaywire/agentbridge/internal/approval"
)

// maxHookBodyBytes bounds the hook POST body, matching the 1 MiB frame cap
// the WebSocket side already enforces.
const maxHookBodyBytes = 1 << 20

// ApprovalRequester is the narrow surface HTTP hook routes need from the
// approval manager.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, input approval.HookInput) approval.Decision
	PendingCount() int
}

// RegisterHookRoutes wires the two HTTP endpoints external hook scripts
// call: the blocking approval decision and a liveness probe.
func (h *Hub) RegisterHookRoutes(router *gin.Engine, approvals ApprovalRequester) {
	router.POST("/api/hooks/approve", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxHookBodyBytes)

		var input approval.HookInput
		if err := c.ShouldBindJSON(&input); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
		if input.SessionID == "" || input.ToolName == "" || input.ToolUseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field"})
			return
		}

		decision := approvals.RequestApproval(c.Request.Context(), input)
		c.JSON(http.StatusOK, gin.H{"decision": decision})
	})

	router.GET("/api/hooks/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"pending": approvals.PendingCount(),
		})
	})
}
