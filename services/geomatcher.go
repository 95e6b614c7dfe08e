package services

import (
	"context"
	"sort"

	"booking-service-server/apperrors"
	"booking-service-server/models"
	"booking-service-server/store"
	"booking-service-server/utils"
)

// Nearby sort keys.
const (
	SortByDistance = "distance"
	SortByRating   = "rating"
	SortByPrice    = "price"
)

// NearbyQuery describes a proximity search. Radius is clamped to the
// configured maximum; a zero radius uses the default.
type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	ServiceID uint
	// OnlineOnly restricts to providers currently online; general search
	// matches any active provider.
	OnlineOnly bool
	SortBy     string
	Page       int
	Limit      int
}

// ProviderMatch is a ranked search hit.
type ProviderMatch struct {
	Provider   models.ProviderProfile `json:"provider"`
	DistanceKm float64                `json:"distance_km"`
}

// GeoMatcher ranks candidate providers around a customer location.
type GeoMatcher struct {
	providers       store.ProviderStore
	defaultRadiusKm float64
	maxRadiusKm     float64
}

func NewGeoMatcher(providers store.ProviderStore, defaultRadiusKm, maxRadiusKm float64) *GeoMatcher {
	return &GeoMatcher{
		providers:       providers,
		defaultRadiusKm: defaultRadiusKm,
		maxRadiusKm:     maxRadiusKm,
	}
}

// FindNearby returns providers within the radius sorted by the requested
// key, distance as tiebreak. An empty result is a valid answer, not an
// error.
func (m *GeoMatcher) FindNearby(ctx context.Context, q NearbyQuery) ([]ProviderMatch, error) {
	if !utils.IsLocationValid(q.Latitude, q.Longitude) {
		return nil, apperrors.Validation("invalid search coordinates")
	}
	radius := q.RadiusKm
	if radius <= 0 {
		radius = m.defaultRadiusKm
	}
	if radius > m.maxRadiusKm {
		radius = m.maxRadiusKm
	}

	providers, err := m.providers.ListActiveProviders(ctx, q.OnlineOnly, q.ServiceID)
	if err != nil {
		return nil, err
	}

	matches := make([]ProviderMatch, 0, len(providers))
	for _, p := range providers {
		if !p.HasLocation() {
			continue
		}
		distance := utils.HaversineDistance(q.Latitude, q.Longitude, *p.CurrentLat, *p.CurrentLng)
		if distance > radius {
			continue
		}
		// Provider-side radius: an on-site provider only serves customers
		// it is willing to travel to.
		if p.ServiceRadiusKm > 0 && distance > p.ServiceRadiusKm {
			continue
		}
		matches = append(matches, ProviderMatch{Provider: p, DistanceKm: distance})
	}

	sortMatches(matches, q.SortBy, q.ServiceID)

	return paginate(matches, q.Page, q.Limit), nil
}

// InRange reports whether a provider can serve a customer location, using
// both the search radius and the provider's own service radius.
func (m *GeoMatcher) InRange(provider *models.ProviderProfile, lat, lng float64) bool {
	if !provider.HasLocation() {
		// Providers without a live location are not range-restricted.
		return true
	}
	distance := utils.HaversineDistance(lat, lng, *provider.CurrentLat, *provider.CurrentLng)
	radius := provider.ServiceRadiusKm
	if radius <= 0 {
		radius = m.defaultRadiusKm
	}
	return distance <= radius
}

func sortMatches(matches []ProviderMatch, sortBy string, serviceID uint) {
	sort.Slice(matches, func(i, j int) bool {
		switch sortBy {
		case SortByRating:
			if matches[i].Provider.Rating != matches[j].Provider.Rating {
				return matches[i].Provider.Rating > matches[j].Provider.Rating
			}
		case SortByPrice:
			pi := priceFor(matches[i].Provider, serviceID)
			pj := priceFor(matches[j].Provider, serviceID)
			if pi != pj {
				return pi < pj
			}
		}
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
}

func priceFor(p models.ProviderProfile, serviceID uint) float64 {
	if serviceID != 0 {
		for _, o := range p.Offerings {
			if o.ServiceID == serviceID {
				return o.Price
			}
		}
	}
	return p.HourlyRate
}

func paginate(matches []ProviderMatch, page, limit int) []ProviderMatch {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(matches) {
		return []ProviderMatch{}
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end]
}
