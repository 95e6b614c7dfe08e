package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"booking-service-server/middleware"
	"booking-service-server/models"
	"booking-service-server/services"
	"booking-service-server/store"
	"booking-service-server/utils"
)

// RegisterProviderRoutes registers provider search and self-service routes.
func RegisterProviderRoutes(router *gin.RouterGroup, d *Deps) {
	h := &providerHandler{store: d.Store, matcher: d.Matcher}

	providers := router.Group("/providers")
	{
		// Public discovery endpoint.
		providers.GET("/nearby", h.nearby)

		me := providers.Group("/me")
		me.Use(middleware.AuthMiddleware(d.Cfg), middleware.RequireRole(string(models.RoleProvider)))
		{
			me.POST("", h.register)
			me.GET("", h.getProfile)
			me.PUT("", h.updateProfile)
			me.PUT("/location", h.updateLocation)
			me.PUT("/availability", h.updateOnline)
			me.PUT("/schedule", h.updateSchedule)
		}
	}
}

type providerHandler struct {
	store   store.Store
	matcher *services.GeoMatcher
}

// nearby answers the public proximity search. An empty list is a valid
// answer.
func (h *providerHandler) nearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("latitude"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("longitude"), 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid coordinates",
			"message": "latitude and longitude query parameters are required",
		})
		return
	}

	query := services.NearbyQuery{
		Latitude:   lat,
		Longitude:  lng,
		OnlineOnly: c.Query("onlineOnly") == "true",
		SortBy:     c.Query("sortBy"),
		Page:       queryInt(c, "page", 1),
		Limit:      queryInt(c, "limit", 20),
	}
	if r, err := strconv.ParseFloat(c.Query("radius"), 64); err == nil {
		query.RadiusKm = r
	}
	if v := queryInt(c, "serviceId", 0); v > 0 {
		query.ServiceID = uint(v)
	}

	matches, err := h.matcher.FindNearby(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"providers": matches,
		"count":     len(matches),
	})
}

// register creates the caller's provider profile. One profile per user.
func (h *providerHandler) register(c *gin.Context) {
	var input struct {
		ServiceRadiusKm float64 `json:"service_radius_km"`
		HourlyRate      float64 `json:"hourly_rate"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetUint("user_id")
	if _, err := h.store.GetProviderByUser(c.Request.Context(), userID); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Profile already exists",
			"message": "Use PUT /providers/me to update your profile",
		})
		return
	}

	provider := &models.ProviderProfile{
		UserID:          userID,
		IsActive:        true,
		ServiceRadiusKm: input.ServiceRadiusKm,
		HourlyRate:      input.HourlyRate,
	}
	if provider.ServiceRadiusKm <= 0 {
		provider.ServiceRadiusKm = 10
	}
	if err := h.store.SaveProvider(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"provider": provider})
}

func (h *providerHandler) getProfile(c *gin.Context) {
	provider, err := h.store.GetProviderByUser(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

func (h *providerHandler) updateProfile(c *gin.Context) {
	var input struct {
		ServiceRadiusKm *float64 `json:"service_radius_km"`
		HourlyRate      *float64 `json:"hourly_rate"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.store.GetProviderByUser(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if input.ServiceRadiusKm != nil {
		if *input.ServiceRadiusKm <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "service_radius_km must be positive"})
			return
		}
		provider.ServiceRadiusKm = *input.ServiceRadiusKm
	}
	if input.HourlyRate != nil {
		provider.HourlyRate = *input.HourlyRate
	}
	if err := h.store.SaveProvider(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

// updateLocation records the provider's live position for proximity search.
func (h *providerHandler) updateLocation(c *gin.Context) {
	var input struct {
		Latitude  float64 `json:"latitude" binding:"required"`
		Longitude float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !utils.IsLocationValid(input.Latitude, input.Longitude) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid coordinates",
			"message": "Coordinates must be finite and within valid ranges",
		})
		return
	}

	provider, err := h.store.GetProviderByUser(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	now := time.Now()
	provider.CurrentLat = &input.Latitude
	provider.CurrentLng = &input.Longitude
	provider.LastLocationUpdate = &now
	if err := h.store.SaveProvider(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Location updated",
		"provider": provider,
	})
}

func (h *providerHandler) updateOnline(c *gin.Context) {
	var input struct {
		IsOnline *bool `json:"is_online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.store.GetProviderByUser(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	provider.IsOnline = *input.IsOnline
	if err := h.store.SaveProvider(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Availability updated",
		"is_online": provider.IsOnline,
	})
}

// updateSchedule replaces the weekly availability template.
func (h *providerHandler) updateSchedule(c *gin.Context) {
	var input struct {
		Week models.WeekAvailability `json:"week" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	provider, err := h.store.GetProviderByUser(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := provider.SetWeek(input.Week); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SaveProvider(c.Request.Context(), provider); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Schedule updated",
		"provider": provider,
	})
}
