package models

import (
	"time"
)

// Service is a bookable service definition. A booking references one or
// more services through its line items; providers advertise the services
// they offer through ProviderServiceOffering.
type Service struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"type:varchar(200);not null"`
	Description     string    `json:"description" gorm:"type:text"`
	BasePrice       float64   `json:"base_price" gorm:"type:decimal(10,2);not null"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null;default:30"`
	IsActive        bool      `json:"is_active" gorm:"default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Service) TableName() string {
	return "services"
}

// ProviderServiceOffering links a provider to a service they perform, with
// the provider's own price for it.
type ProviderServiceOffering struct {
	ID         uint    `json:"id" gorm:"primaryKey"`
	ProviderID uint    `json:"provider_id" gorm:"not null;uniqueIndex:idx_provider_service"`
	ServiceID  uint    `json:"service_id" gorm:"not null;uniqueIndex:idx_provider_service"`
	Price      float64 `json:"price" gorm:"type:decimal(10,2);not null"`

	Service Service `json:"service,omitempty" gorm:"foreignKey:ServiceID"`
}

func (ProviderServiceOffering) TableName() string {
	return "provider_service_offerings"
}
