package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pulseboard/pulseboard/internal/engine"
)

type fullRegenerateRequest struct {
	Force bool `json:"force"`
}

type selectiveRegenerateRequest struct {
	Items []engine.SelectiveItem `json:"items" binding:"required,min=1"`
}

// TriggerFull kicks off a full precalculation pass in the background. The
// response is an acknowledgment, never a result.
func (h *Handler) TriggerFull(c *gin.Context) {
	var req fullRegenerateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.scheduler.TriggerFull(req.Force) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine is busy, try again later"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"started": true, "force": req.Force})
}

// TriggerSelective kicks off delete-and-resync for specific (subject, range)
// pairs of one tenant, decoupled from this request.
func (h *Handler) TriggerSelective(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return
	}

	var req selectiveRegenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.scheduler.TriggerSelective(tenantID, req.Items) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to start resync"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"started": true, "items": len(req.Items)})
}
