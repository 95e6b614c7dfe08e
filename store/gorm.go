package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"booking-service-server/apperrors"
	"booking-service-server/models"
)

// bookingLockClass namespaces the per-provider advisory locks so they never
// collide with other advisory-lock users of the same database.
const bookingLockClass = 42101

// pgUniqueViolation is the Postgres error code for duplicate keys.
const pgUniqueViolation = "23505"

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// --- bookings ---

// CreateBooking takes a transaction-scoped advisory lock on the provider,
// runs the guard, then inserts. Two concurrent creates for one provider
// serialize on the lock; anything that still slips through lands on the
// partial unique slot index and is converted to the same Conflict error as
// a pre-check rejection.
func (s *GormStore) CreateBooking(ctx context.Context, booking *models.Booking, guard func(tx BookingStore) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)",
			bookingLockClass, int64(booking.ProviderID)).Error; err != nil {
			return fmt.Errorf("acquire provider lock: %w", err)
		}
		if guard != nil {
			if err := guard(&GormStore{db: tx}); err != nil {
				return err
			}
		}
		return tx.Create(booking).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("provider is already booked in this time window")
		}
		return err
	}
	return nil
}

func (s *GormStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("Provider").
		First(&booking, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("booking %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *GormStore) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	return s.db.WithContext(ctx).Save(booking).Error
}

func (s *GormStore) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Booking{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.CustomerID != 0 {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.ProviderID != 0 {
		q = q.Where("provider_id = ?", f.ProviderID)
	}
	if f.From != nil {
		q = q.Where("scheduled_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("scheduled_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := f.SortBy
	switch sortBy {
	case "scheduled_at", "created_at", "status":
	default:
		sortBy = "created_at"
	}
	order := "DESC"
	if f.SortOrder == "asc" {
		order = "ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}

	var bookings []models.Booking
	err := q.Preload("Items").
		Order(fmt.Sprintf("%s %s", sortBy, order)).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&bookings).Error
	return bookings, total, err
}

func (s *GormStore) CountActiveInWindow(ctx context.Context, providerID uint, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Booking{}).
		Where("provider_id = ? AND status IN ? AND scheduled_at BETWEEN ? AND ?",
			providerID, models.ActiveBookingStatuses, from, to).
		Count(&count).Error
	return count, err
}

// --- providers ---

func (s *GormStore) GetProvider(ctx context.Context, id uint) (*models.ProviderProfile, error) {
	var provider models.ProviderProfile
	err := s.db.WithContext(ctx).Preload("Offerings").First(&provider, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("provider %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (s *GormStore) GetProviderByUser(ctx context.Context, userID uint) (*models.ProviderProfile, error) {
	var provider models.ProviderProfile
	err := s.db.WithContext(ctx).Preload("Offerings").
		Where("user_id = ?", userID).First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("provider profile for user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (s *GormStore) SaveProvider(ctx context.Context, p *models.ProviderProfile) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *GormStore) ListActiveProviders(ctx context.Context, onlineOnly bool, serviceID uint) ([]models.ProviderProfile, error) {
	q := s.db.WithContext(ctx).Model(&models.ProviderProfile{}).
		Preload("User").
		Preload("Offerings").
		Where("is_active = ? AND current_lat IS NOT NULL AND current_lng IS NOT NULL", true)
	if onlineOnly {
		q = q.Where("is_online = ?", true)
	}
	if serviceID != 0 {
		q = q.Joins("JOIN provider_service_offerings pso ON pso.provider_id = provider_profiles.id").
			Where("pso.service_id = ?", serviceID)
	}

	var providers []models.ProviderProfile
	err := q.Find(&providers).Error
	return providers, err
}

func (s *GormStore) GetOffering(ctx context.Context, providerID, serviceID uint) (*models.ProviderServiceOffering, error) {
	var offering models.ProviderServiceOffering
	err := s.db.WithContext(ctx).Preload("Service").
		Where("provider_id = ? AND service_id = ?", providerID, serviceID).
		First(&offering).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("provider %d does not offer service %d", providerID, serviceID)
	}
	if err != nil {
		return nil, err
	}
	return &offering, nil
}

// --- notification jobs ---

func (s *GormStore) EnqueueJob(ctx context.Context, job *models.NotificationJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// ClaimDueJobs selects due pending jobs with SKIP LOCKED so concurrent
// workers never claim the same row, then pushes their next_attempt_at past
// the lease window so crashed workers release the job by timeout.
func (s *GormStore) ClaimDueJobs(ctx context.Context, queue string, limit int, now time.Time, lease time.Duration) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND status = ? AND next_attempt_at <= ?",
				queue, models.JobStatusPending, now).
			Order("priority DESC, next_attempt_at ASC").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]string, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		return tx.Model(&models.NotificationJob{}).
			Where("id IN ?", ids).
			Update("next_attempt_at", now.Add(lease)).Error
	})
	return jobs, err
}

func (s *GormStore) UpdateJob(ctx context.Context, job *models.NotificationJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*models.NotificationJob, error) {
	var job models.NotificationJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("notification job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *GormStore) ListJobsByUser(ctx context.Context, userID uint, limit int) ([]models.NotificationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var jobs []models.NotificationJob
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]models.JobStatus{models.JobStatusSent, models.JobStatusRead}).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *GormStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("user_id = ? AND status = ?", userID, models.JobStatusSent).
		Count(&count).Error
	return count, err
}

func (s *GormStore) MarkJobRead(ctx context.Context, userID uint, id string) error {
	result := s.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.JobStatusSent).
		Update("status", models.JobStatusRead)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("notification %s not found", id)
	}
	return nil
}

func (s *GormStore) MarkAllJobsRead(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("user_id = ? AND status = ?", userID, models.JobStatusSent).
		Update("status", models.JobStatusRead).Error
}

func (s *GormStore) ResetFailedJobs(ctx context.Context, queue string, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("queue = ? AND status = ?", queue, models.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":          models.JobStatusPending,
			"attempts":        0,
			"last_error":      "",
			"next_attempt_at": now,
		})
	return result.RowsAffected, result.Error
}

func (s *GormStore) PurgeTerminalJobs(ctx context.Context, queue string, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("queue = ? AND status IN ? AND updated_at < ?", queue,
			[]models.JobStatus{models.JobStatusSent, models.JobStatusRead, models.JobStatusFailed}, before).
		Delete(&models.NotificationJob{})
	return result.RowsAffected, result.Error
}

func (s *GormStore) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Queue: queue}
	type row struct {
		Status models.JobStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Select("status, count(*) as n").
		Where("queue = ?", queue).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, r := range rows {
		switch r.Status {
		case models.JobStatusPending:
			stats.Pending = r.N
		case models.JobStatusSent, models.JobStatusRead:
			stats.Sent += r.N
		case models.JobStatusFailed:
			stats.Failed = r.N
		}
	}
	return stats, nil
}

// --- users / tokens ---

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) SavePushToken(ctx context.Context, token *models.PushToken) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "active", "updated_at"}),
		}).
		Create(token).Error
}

func (s *GormStore) ActivePushTokens(ctx context.Context, userID uint) ([]models.PushToken, error) {
	var tokens []models.PushToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&tokens).Error
	return tokens, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
