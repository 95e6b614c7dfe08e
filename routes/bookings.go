package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"booking-service-server/middleware"
	"booking-service-server/models"
	"booking-service-server/services"
	"booking-service-server/store"
)

// RegisterBookingRoutes registers the booking lifecycle routes.
func RegisterBookingRoutes(router *gin.RouterGroup, d *Deps) {
	h := &bookingHandler{lifecycle: d.Lifecycle}

	bookings := router.Group("/bookings")
	bookings.Use(middleware.AuthMiddleware(d.Cfg))
	{
		bookings.POST("", h.create)
		bookings.GET("", h.list)
		bookings.GET("/:id", h.get)
		bookings.PATCH("/:id", h.update)
		bookings.PATCH("/:id/accept", h.accept)
		bookings.PATCH("/:id/start", h.start)
		bookings.PATCH("/:id/complete", h.complete)
		bookings.PATCH("/:id/cancel", h.cancel)
		bookings.PATCH("/:id/no-show", h.noShow)
	}
}

type bookingHandler struct {
	lifecycle *services.BookingLifecycle
}

func (h *bookingHandler) create(c *gin.Context) {
	var input services.CreateBookingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	booking, err := h.lifecycle.Create(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": booking})
}

func (h *bookingHandler) get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	booking, err := h.lifecycle.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// list returns the actor-visible bookings: customers see their own,
// providers their assigned ones, admins everything the filter matches.
func (h *bookingHandler) list(c *gin.Context) {
	filter := store.BookingFilter{
		Status:    models.BookingStatus(c.Query("status")),
		Type:      models.BookingType(c.Query("type")),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if v := queryInt(c, "providerId", 0); v > 0 {
		filter.ProviderID = uint(v)
	}
	if v := queryInt(c, "customerId", 0); v > 0 {
		filter.CustomerID = uint(v)
	}
	if t, ok := queryTime(c, "from"); ok {
		filter.From = &t
	}
	if t, ok := queryTime(c, "to"); ok {
		filter.To = &t
	}

	bookings, total, err := h.lifecycle.List(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

func (h *bookingHandler) update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input services.UpdateBookingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.lifecycle.Update(c.Request.Context(), actorFrom(c), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func (h *bookingHandler) accept(c *gin.Context) {
	h.transition(c, h.lifecycle.Accept)
}

func (h *bookingHandler) start(c *gin.Context) {
	h.transition(c, h.lifecycle.Start)
}

func (h *bookingHandler) complete(c *gin.Context) {
	h.transition(c, h.lifecycle.Complete)
}

func (h *bookingHandler) noShow(c *gin.Context) {
	h.transition(c, h.lifecycle.MarkNoShow)
}

func (h *bookingHandler) cancel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Cancellation reason required",
			"message": "Provide a reason for cancelling this booking",
		})
		return
	}
	booking, err := h.lifecycle.Cancel(c.Request.Context(), actorFrom(c), id, input.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

// transition runs one parameterless lifecycle transition and renders the
// updated booking.
func (h *bookingHandler) transition(
	c *gin.Context,
	op func(ctx context.Context, actor services.Actor, id uint) (*models.Booking, error),
) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	booking, err := op(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": booking})
}

func queryInt(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func queryTime(c *gin.Context, name string) (time.Time, bool) {
	if v := c.Query(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
