package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service-server/apperrors"
	"booking-service-server/models"
	"booking-service-server/store"
)

func addProvider(t *testing.T, st *store.MemoryStore, userID uint, lat, lng float64, mut func(p *models.ProviderProfile)) uint {
	t.Helper()
	p := &models.ProviderProfile{
		UserID:     userID,
		IsActive:   true,
		IsOnline:   true,
		CurrentLat: &lat,
		CurrentLng: &lng,
	}
	if mut != nil {
		mut(p)
	}
	require.NoError(t, st.SaveProvider(context.Background(), p))
	return p.ID
}

// Search origin and surroundings: central Berlin, with providers at
// increasing distances north.
const (
	originLat = 52.5200
	originLng = 13.4050
)

func TestFindNearbyRadiusBound(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	near := addProvider(t, st, 1, originLat+0.01, originLng, nil)  // ~1.1 km
	mid := addProvider(t, st, 2, originLat+0.05, originLng, nil)   // ~5.6 km
	addProvider(t, st, 3, originLat+0.5, originLng, nil)           // ~56 km, out of range

	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:  originLat,
		Longitude: originLng,
		RadiusKm:  10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Default sort is nearest first and distances respect the radius.
	assert.Equal(t, near, matches[0].Provider.ID)
	assert.Equal(t, mid, matches[1].Provider.ID)
	for _, match := range matches {
		assert.LessOrEqual(t, match.DistanceKm, 10.0)
	}
	assert.LessOrEqual(t, matches[0].DistanceKm, matches[1].DistanceKm)
}

func TestFindNearbyClampsRadius(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	addProvider(t, st, 1, originLat+0.7, originLng, nil) // ~78 km

	// Requested radius beyond the maximum is clamped to 50 km.
	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:  originLat,
		Longitude: originLng,
		RadiusKm:  500,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindNearbyRespectsProviderServiceRadius(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	// ~5.6 km away but only willing to travel 2 km.
	addProvider(t, st, 1, originLat+0.05, originLng, func(p *models.ProviderProfile) {
		p.ServiceRadiusKm = 2
	})

	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:  originLat,
		Longitude: originLng,
		RadiusKm:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindNearbySortByRating(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	low := addProvider(t, st, 1, originLat+0.005, originLng, func(p *models.ProviderProfile) {
		p.Rating = 3.2
	})
	high := addProvider(t, st, 2, originLat+0.02, originLng, func(p *models.ProviderProfile) {
		p.Rating = 4.9
	})

	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:  originLat,
		Longitude: originLng,
		SortBy:    SortByRating,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// The farther but better-rated provider ranks first.
	assert.Equal(t, high, matches[0].Provider.ID)
	assert.Equal(t, low, matches[1].Provider.ID)
}

func TestFindNearbyOnlineOnly(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	addProvider(t, st, 1, originLat+0.005, originLng, func(p *models.ProviderProfile) {
		p.IsOnline = false
	})
	online := addProvider(t, st, 2, originLat+0.01, originLng, nil)

	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:   originLat,
		Longitude:  originLng,
		OnlineOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, online, matches[0].Provider.ID)
}

func TestFindNearbyInvalidCoordinates(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	_, err := m.FindNearby(context.Background(), NearbyQuery{Latitude: 91, Longitude: 0})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestFindNearbyEmptyResultIsValid(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	matches, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude:  originLat,
		Longitude: originLng,
	})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindNearbyPagination(t *testing.T) {
	st := store.NewMemoryStore()
	m := NewGeoMatcher(st, 10, 50)

	for i := 0; i < 5; i++ {
		addProvider(t, st, uint(i+1), originLat+float64(i)*0.002, originLng, nil)
	}

	page1, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude: originLat, Longitude: originLng, Page: 1, Limit: 2,
	})
	require.NoError(t, err)
	page2, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude: originLat, Longitude: originLng, Page: 2, Limit: 2,
	})
	require.NoError(t, err)
	page3, err := m.FindNearby(context.Background(), NearbyQuery{
		Latitude: originLat, Longitude: originLng, Page: 3, Limit: 2,
	})
	require.NoError(t, err)

	assert.Len(t, page1, 2)
	assert.Len(t, page2, 2)
	assert.Len(t, page3, 1)
	// Pages never overlap and stay distance-ordered across boundaries.
	assert.LessOrEqual(t, page1[1].DistanceKm, page2[0].DistanceKm)
	assert.LessOrEqual(t, page2[1].DistanceKm, page3[0].DistanceKm)
}
