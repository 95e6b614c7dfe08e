// Package routes mounts the HTTP surface: booking lifecycle, provider
// search, notification inbox and the queue admin endpoints.
package routes

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"booking-service-server/apperrors"
	"booking-service-server/config"
	"booking-service-server/dispatcher"
	"booking-service-server/middleware"
	"booking-service-server/models"
	"booking-service-server/services"
	"booking-service-server/store"
	"booking-service-server/websocket"
)

// Deps bundles the wired components the handlers need. Handlers never
// touch the store for booking mutations; those go through the lifecycle.
type Deps struct {
	Cfg        *config.Config
	Store      store.Store
	Lifecycle  *services.BookingLifecycle
	Matcher    *services.GeoMatcher
	Dispatcher *dispatcher.Dispatcher
	Hub        *websocket.Hub
}

// Register mounts all API routes.
func Register(router *gin.Engine, d *Deps) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/api/v1")
	{
		RegisterBookingRoutes(apiV1, d)
		RegisterProviderRoutes(apiV1, d)
		RegisterNotificationRoutes(apiV1, d)
		RegisterAdminRoutes(apiV1, d)

		// WebSocket clients authenticate via query token; headers are not
		// available during the upgrade handshake.
		apiV1.GET("/ws", middleware.WebSocketAuthMiddleware(d.Cfg), func(c *gin.Context) {
			websocket.ServeWebSocket(d.Hub, c.Writer, c.Request, c.GetUint("user_id"), c.GetString("role"))
		})
	}
}

func actorFrom(c *gin.Context) services.Actor {
	return services.Actor{
		UserID: c.GetUint("user_id"),
		Role:   models.Role(c.GetString("role")),
	}
}

// respondError maps a domain error to its HTTP status. Internal causes are
// logged server-side and never serialized to clients.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{
			"error":   "Internal server error",
			"message": "Something went wrong, please try again later",
		})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid id",
			"message": "The " + name + " parameter must be a positive integer",
		})
		return 0, false
	}
	return uint(id), true
}
