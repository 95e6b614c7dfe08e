package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"booking-service-server/middleware"
	"booking-service-server/models"
	"booking-service-server/store"
)

// RegisterNotificationRoutes registers the in-app notification inbox. The
// job rows double as the inbox: a SENT row is unread, READ marks it seen.
func RegisterNotificationRoutes(router *gin.RouterGroup, d *Deps) {
	h := &notificationHandler{store: d.Store}

	notifications := router.Group("/notifications")
	notifications.Use(middleware.AuthMiddleware(d.Cfg))
	{
		notifications.GET("", h.list)
		notifications.GET("/unread-count", h.unreadCount)
		notifications.POST("/mark-read/:id", h.markRead)
		notifications.POST("/mark-all-read", h.markAllRead)
		notifications.POST("/push-token", h.registerPushToken)
	}
}

type notificationHandler struct {
	store store.Store
}

func (h *notificationHandler) list(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs, err := h.store.ListJobsByUser(c.Request.Context(), c.GetUint("user_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": jobs,
		"count":         len(jobs),
	})
}

func (h *notificationHandler) unreadCount(c *gin.Context) {
	count, err := h.store.CountUnread(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *notificationHandler) markRead(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Notification id required"})
		return
	}
	if err := h.store.MarkJobRead(c.Request.Context(), c.GetUint("user_id"), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

func (h *notificationHandler) markAllRead(c *gin.Context) {
	if err := h.store.MarkAllJobsRead(c.Request.Context(), c.GetUint("user_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read"})
}

// registerPushToken upserts a device token for the push channel.
func (h *notificationHandler) registerPushToken(c *gin.Context) {
	var input struct {
		Token    string `json:"token" binding:"required"`
		Platform string `json:"platform" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token := &models.PushToken{
		UserID:   c.GetUint("user_id"),
		Token:    input.Token,
		Platform: input.Platform,
		Active:   true,
	}
	if err := h.store.SavePushToken(c.Request.Context(), token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Push token registered"})
}
