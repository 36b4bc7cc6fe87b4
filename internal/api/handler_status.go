package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetRoomInstanceDetails handles GET /rooms/:roomId/instance_details?userId=..
// The read is idempotent: a missing instance yields a "not created" snapshot
// rather than a 404.
func (h *Handler) GetRoomInstanceDetails(c *gin.Context) {
	roomID := c.Param("roomId")
	userID := c.Query("userId")
	if userID == "" {
		abortWithError(c, http.StatusBadRequest, CodeOperationFailed, "userId is required")
		return
	}

	snapshot, err := h.orch.GetStatusForRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		abortWithMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
