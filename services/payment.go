package services

import (
	"context"
	"log"
)

// PaymentProvider is the external payment collaborator. Implementations
// are expected to be idempotent per booking id; the lifecycle only triggers
// charges and payouts, it never executes them.
type PaymentProvider interface {
	Charge(ctx context.Context, bookingID uint, amount float64) error
	Refund(ctx context.Context, bookingID uint, amount float64) error
	Payout(ctx context.Context, bookingID uint, providerID uint, amount float64) error
}

// LogPaymentProvider stands in for the real payment gateway integration.
type LogPaymentProvider struct{}

func NewLogPaymentProvider() *LogPaymentProvider {
	return &LogPaymentProvider{}
}

func (p *LogPaymentProvider) Charge(ctx context.Context, bookingID uint, amount float64) error {
	log.Printf("💳 Charge triggered: booking=%d amount=%.2f", bookingID, amount)
	return nil
}

func (p *LogPaymentProvider) Refund(ctx context.Context, bookingID uint, amount float64) error {
	log.Printf("💳 Refund triggered: booking=%d amount=%.2f", bookingID, amount)
	return nil
}

func (p *LogPaymentProvider) Payout(ctx context.Context, bookingID uint, providerID uint, amount float64) error {
	log.Printf("💳 Payout triggered: booking=%d provider=%d amount=%.2f", bookingID, providerID, amount)
	return nil
}
