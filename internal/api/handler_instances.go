package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateInstance handles POST /instances/async?roomId=..&userId=..
// It returns an operation handle immediately; provisioning progress arrives
// on the handle's channel address.
func (h *Handler) CreateInstance(c *gin.Context) {
	roomID := c.Query("roomId")
	userID := c.Query("userId")
	if roomID == "" || userID == "" {
		abortWithError(c, http.StatusBadRequest, CodeOperationFailed, "roomId and userId are required")
		return
	}

	handle, err := h.facade.CreateAsync(c.Request.Context(), roomID, userID)
	if err != nil {
		abortWithMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// StartInstance handles POST /instances/:id/start/async.
func (h *Handler) StartInstance(c *gin.Context) {
	handle, err := h.facade.StartAsync(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// StopInstance handles POST /instances/:id/stop/async.
func (h *Handler) StopInstance(c *gin.Context) {
	handle, err := h.facade.StopAsync(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// TerminateInstance handles DELETE /instances/:id/async.
func (h *Handler) TerminateInstance(c *gin.Context) {
	handle, err := h.facade.TerminateAsync(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}
