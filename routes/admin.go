package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"booking-service-server/dispatcher"
	"booking-service-server/middleware"
	"booking-service-server/models"
)

// RegisterAdminRoutes registers the queue operator surface. Admin only.
func RegisterAdminRoutes(router *gin.RouterGroup, d *Deps) {
	h := &adminHandler{dispatcher: d.Dispatcher}

	admin := router.Group("/admin")
	admin.Use(middleware.AuthMiddleware(d.Cfg), middleware.RequireRole(string(models.RoleAdmin)))
	{
		queues := admin.Group("/queues")
		{
			queues.GET("/stats", h.stats)
			queues.POST("/:name/pause", h.pause)
			queues.POST("/:name/resume", h.resume)
			queues.POST("/:name/drain", h.drain)
			queues.POST("/:name/retry-failed", h.retryFailed)
		}
	}
}

type adminHandler struct {
	dispatcher *dispatcher.Dispatcher
}

func (h *adminHandler) stats(c *gin.Context) {
	stats, err := h.dispatcher.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

func (h *adminHandler) pause(c *gin.Context) {
	if err := h.dispatcher.Pause(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Queue paused"})
}

func (h *adminHandler) resume(c *gin.Context) {
	if err := h.dispatcher.Resume(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Queue resumed"})
}

// drain pauses the queue and waits for in-flight deliveries, bounded so a
// stuck delivery cannot hold the request forever.
func (h *adminHandler) drain(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.dispatcher.Drain(ctx, c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Queue drained"})
}

// retryFailed re-arms dead-lettered jobs. This is the only path that makes
// a FAILED job run again.
func (h *adminHandler) retryFailed(c *gin.Context) {
	count, err := h.dispatcher.RetryFailed(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Failed jobs re-queued",
		"count":   count,
	})
}
