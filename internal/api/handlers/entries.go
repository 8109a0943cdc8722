package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pulseboard/pulseboard/internal/cache"
	"go.uber.org/zap"
)

// GetEntry serves one precalculated cache entry for the dashboard. The
// subject path segment may be the display name or its slug.
func (h *Handler) GetEntry(c *gin.Context) {
	tenantSlug := c.Param("tenant")
	subjectSlug := cache.Slug(c.Param("subject"))
	rangeName := c.Param("range")

	entry, err := h.store.Get(c.Request.Context(), tenantSlug, subjectSlug, rangeName)
	if errors.Is(err, cache.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no precalculated data for this selection"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read cache entry",
			zap.String("tenant", tenantSlug),
			zap.String("subject", subjectSlug),
			zap.String("range", rangeName),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache"})
		return
	}

	c.JSON(http.StatusOK, entry)
}
