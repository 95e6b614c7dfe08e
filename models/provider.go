package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BreakInterval is a pause inside a working day, minutes from midnight.
type BreakInterval struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// DayAvailability is one weekday of the provider's weekly template.
// OpenMinute/CloseMinute are minutes from midnight; a closed day has
// Open == Close == 0 and Closed set.
type DayAvailability struct {
	Closed      bool            `json:"closed"`
	OpenMinute  int             `json:"open_minute"`
	CloseMinute int             `json:"close_minute"`
	Breaks      []BreakInterval `json:"breaks,omitempty"`
}

// WeekAvailability indexes days by time.Weekday (Sunday = 0).
type WeekAvailability [7]DayAvailability

// Validate rejects templates with inverted or overlapping windows.
func (w WeekAvailability) Validate() error {
	for day, d := range w {
		if d.Closed {
			continue
		}
		if d.OpenMinute < 0 || d.CloseMinute > 24*60 || d.OpenMinute >= d.CloseMinute {
			return fmt.Errorf("day %d: invalid open/close window", day)
		}
		prevEnd := d.OpenMinute
		for i, b := range d.Breaks {
			if b.StartMinute >= b.EndMinute || b.StartMinute < d.OpenMinute || b.EndMinute > d.CloseMinute {
				return fmt.Errorf("day %d: break %d outside working window", day, i)
			}
			if b.StartMinute < prevEnd && i > 0 {
				return fmt.Errorf("day %d: break %d overlaps previous break", day, i)
			}
			prevEnd = b.EndMinute
		}
	}
	return nil
}

// ProviderProfile is the service-supplying actor: location, radius,
// availability template, commission terms and live presence.
type ProviderProfile struct {
	ID     uint `json:"id" gorm:"primaryKey"`
	UserID uint `json:"user_id" gorm:"uniqueIndex;not null"`

	CurrentLat         *float64   `json:"current_lat" gorm:"type:decimal(10,8)"`
	CurrentLng         *float64   `json:"current_lng" gorm:"type:decimal(11,8)"`
	LastLocationUpdate *time.Time `json:"last_location_update"`

	ServiceRadiusKm float64 `json:"service_radius_km" gorm:"type:decimal(5,2);default:10"`
	IsActive        bool    `json:"is_active" gorm:"default:true"`
	IsOnline        bool    `json:"is_online" gorm:"default:false"`

	CommissionRate float64 `json:"commission_rate" gorm:"type:decimal(4,3);default:0.15"`
	HourlyRate     float64 `json:"hourly_rate" gorm:"type:decimal(10,2);default:0"`
	Rating         float64 `json:"rating" gorm:"type:decimal(3,2);default:0"`
	CompletedJobs  int     `json:"completed_jobs" gorm:"default:0"`

	// Weekly availability template, serialized as JSON.
	Availability datatypes.JSON `json:"availability" gorm:"type:jsonb"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	User      User                      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Offerings []ProviderServiceOffering `json:"offerings,omitempty" gorm:"foreignKey:ProviderID"`
}

func (ProviderProfile) TableName() string {
	return "provider_profiles"
}

// Week decodes the availability template. An empty column means
// always-open, so a provider without a template is never rejected on
// working hours.
func (p *ProviderProfile) Week() (WeekAvailability, error) {
	var week WeekAvailability
	if len(p.Availability) == 0 {
		for i := range week {
			week[i] = DayAvailability{OpenMinute: 0, CloseMinute: 24 * 60}
		}
		return week, nil
	}
	if err := json.Unmarshal(p.Availability, &week); err != nil {
		return week, fmt.Errorf("decode availability template: %w", err)
	}
	return week, nil
}

// SetWeek validates and stores the availability template.
func (p *ProviderProfile) SetWeek(week WeekAvailability) error {
	if err := week.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(week)
	if err != nil {
		return err
	}
	p.Availability = raw
	return nil
}

// HasLocation reports whether the profile carries a usable point.
func (p *ProviderProfile) HasLocation() bool {
	return p.CurrentLat != nil && p.CurrentLng != nil
}
