package config

import (
	"os"
	"strconv"
	"time"
)

// Config is built once at startup and passed by reference to every
// component. Nothing reads the environment after Load returns.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Booking    BookingConfig
	Dispatcher DispatcherConfig
}

type ServerConfig struct {
	Port    string
	GinMode string
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
}

type BookingConfig struct {
	// BufferMinutes is the symmetric conflict window around a requested
	// slot. Two non-terminal bookings for the same provider may never be
	// scheduled closer than this.
	BufferMinutes   int
	DefaultRadiusKm float64
	MaxRadiusKm     float64
}

type DispatcherConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	Retention      time.Duration

	BookingConcurrency      int
	NotificationConcurrency int
	PaymentConcurrency      int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    getEnv("PORT", "8080"),
			GinMode: getEnv("GIN_MODE", "debug"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DB_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-in-production"),
		},
		Booking: BookingConfig{
			BufferMinutes:   getEnvAsInt("BOOKING_BUFFER_MINUTES", 30),
			DefaultRadiusKm: getEnvAsFloat("BOOKING_DEFAULT_RADIUS_KM", 10),
			MaxRadiusKm:     getEnvAsFloat("BOOKING_MAX_RADIUS_KM", 50),
		},
		Dispatcher: DispatcherConfig{
			MaxRetries:     getEnvAsInt("DISPATCH_MAX_RETRIES", 3),
			BaseDelay:      getEnvAsDuration("DISPATCH_BASE_DELAY", 2*time.Second),
			PollInterval:   getEnvAsDuration("DISPATCH_POLL_INTERVAL", time.Second),
			AttemptTimeout: getEnvAsDuration("DISPATCH_ATTEMPT_TIMEOUT", 15*time.Second),
			Retention:      getEnvAsDuration("DISPATCH_RETENTION", 7*24*time.Hour),

			BookingConcurrency:      getEnvAsInt("DISPATCH_BOOKING_WORKERS", 4),
			NotificationConcurrency: getEnvAsInt("DISPATCH_NOTIFICATION_WORKERS", 4),
			PaymentConcurrency:      getEnvAsInt("DISPATCH_PAYMENT_WORKERS", 2),
		},
	}
}

// Buffer returns the conflict buffer as a duration.
func (c BookingConfig) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
