package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"booking-service-server/apperrors"
	"booking-service-server/models"
)

// MemoryStore is the in-memory Store used by tests and local development.
// One mutex guards everything, which gives CreateBooking the same
// check-then-insert atomicity the Postgres store gets from its advisory
// lock.
type MemoryStore struct {
	mu sync.Mutex

	nextBookingID uint
	bookings      map[uint]*models.Booking
	// slots mirrors the Postgres partial unique index: provider -> slot
	// bucket -> booking id, active bookings only.
	slots map[uint]map[int64]uint

	nextProviderID  uint
	providers       map[uint]*models.ProviderProfile
	providersByUser map[uint]uint
	offerings       map[uint]map[uint]*models.ProviderServiceOffering

	jobs   map[string]*models.NotificationJob
	users  map[uint]*models.User
	tokens map[string]*models.PushToken

	// BucketSize mirrors the slot-bucket width of the unique index.
	BucketSize time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:        make(map[uint]*models.Booking),
		slots:           make(map[uint]map[int64]uint),
		providers:       make(map[uint]*models.ProviderProfile),
		providersByUser: make(map[uint]uint),
		offerings:       make(map[uint]map[uint]*models.ProviderServiceOffering),
		jobs:            make(map[string]*models.NotificationJob),
		users:           make(map[uint]*models.User),
		tokens:          make(map[string]*models.PushToken),
		BucketSize:      30 * time.Minute,
	}
}

// memTx is the transaction view handed to CreateBooking guards. The parent
// already holds the mutex, so it calls the locked variants directly.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) CreateBooking(ctx context.Context, b *models.Booking, guard func(tx BookingStore) error) error {
	return apperrors.Validation("nested booking create not supported")
}

func (t *memTx) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	return t.s.getBookingLocked(id)
}

func (t *memTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	return t.s.updateBookingLocked(b)
}

func (t *memTx) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, int64, error) {
	return t.s.listBookingsLocked(f)
}

func (t *memTx) CountActiveInWindow(ctx context.Context, providerID uint, from, to time.Time) (int64, error) {
	return t.s.countActiveInWindowLocked(providerID, from, to), nil
}

// --- bookings ---

func (s *MemoryStore) CreateBooking(ctx context.Context, booking *models.Booking, guard func(tx BookingStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if guard != nil {
		if err := guard(&memTx{s: s}); err != nil {
			return err
		}
	}

	bucket := models.BucketFor(booking.ScheduledAt, s.BucketSize)
	if providerSlots := s.slots[booking.ProviderID]; providerSlots != nil {
		if _, taken := providerSlots[bucket]; taken {
			return apperrors.Conflict("provider is already booked in this time window")
		}
	}

	s.nextBookingID++
	booking.ID = s.nextBookingID
	booking.SlotBucket = bucket
	now := time.Now()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	for i := range booking.Items {
		booking.Items[i].ID = uint(i + 1)
		booking.Items[i].BookingID = booking.ID
	}

	cp := cloneBooking(booking)
	s.bookings[booking.ID] = &cp
	if s.slots[booking.ProviderID] == nil {
		s.slots[booking.ProviderID] = make(map[int64]uint)
	}
	s.slots[booking.ProviderID][bucket] = booking.ID
	return nil
}

func (s *MemoryStore) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBookingLocked(id)
}

func (s *MemoryStore) getBookingLocked(id uint) (*models.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, apperrors.NotFound("booking %d not found", id)
	}
	cp := cloneBooking(b)
	return &cp, nil
}

func (s *MemoryStore) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBookingLocked(booking)
}

func (s *MemoryStore) updateBookingLocked(booking *models.Booking) error {
	if _, ok := s.bookings[booking.ID]; !ok {
		return apperrors.NotFound("booking %d not found", booking.ID)
	}
	booking.UpdatedAt = time.Now()
	cp := cloneBooking(booking)
	s.bookings[booking.ID] = &cp

	// Terminal bookings release their slot.
	if booking.Status.IsTerminal() {
		if providerSlots := s.slots[booking.ProviderID]; providerSlots != nil {
			if providerSlots[booking.SlotBucket] == booking.ID {
				delete(providerSlots, booking.SlotBucket)
			}
		}
	}
	return nil
}

func (s *MemoryStore) ListBookings(ctx context.Context, f BookingFilter) ([]models.Booking, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBookingsLocked(f)
}

func (s *MemoryStore) listBookingsLocked(f BookingFilter) ([]models.Booking, int64, error) {
	var all []models.Booking
	for _, b := range s.bookings {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.Type != "" && b.Type != f.Type {
			continue
		}
		if f.CustomerID != 0 && b.CustomerID != f.CustomerID {
			continue
		}
		if f.ProviderID != 0 && b.ProviderID != f.ProviderID {
			continue
		}
		if f.From != nil && b.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && b.ScheduledAt.After(*f.To) {
			continue
		}
		all = append(all, cloneBooking(b))
	}

	asc := f.SortOrder == "asc"
	sort.Slice(all, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "scheduled_at":
			less = all[i].ScheduledAt.Before(all[j].ScheduledAt)
		case "status":
			less = all[i].Status < all[j].Status
		default:
			less = all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})

	total := int64(len(all))
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(all) {
		return []models.Booking{}, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) CountActiveInWindow(ctx context.Context, providerID uint, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveInWindowLocked(providerID, from, to), nil
}

func (s *MemoryStore) countActiveInWindowLocked(providerID uint, from, to time.Time) int64 {
	var count int64
	for _, b := range s.bookings {
		if b.ProviderID != providerID {
			continue
		}
		if b.Status.IsTerminal() {
			continue
		}
		if b.ScheduledAt.Before(from) || b.ScheduledAt.After(to) {
			continue
		}
		count++
	}
	return count
}

// --- providers ---

func (s *MemoryStore) GetProvider(ctx context.Context, id uint) (*models.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, apperrors.NotFound("provider %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetProviderByUser(ctx context.Context, userID uint) (*models.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.providersByUser[userID]
	if !ok {
		return nil, apperrors.NotFound("provider profile for user %d not found", userID)
	}
	cp := *s.providers[id]
	return &cp, nil
}

func (s *MemoryStore) SaveProvider(ctx context.Context, p *models.ProviderProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextProviderID++
		p.ID = s.nextProviderID
	}
	cp := *p
	s.providers[p.ID] = &cp
	s.providersByUser[p.UserID] = p.ID
	return nil
}

func (s *MemoryStore) ListActiveProviders(ctx context.Context, onlineOnly bool, serviceID uint) ([]models.ProviderProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProviderProfile
	for _, p := range s.providers {
		if !p.IsActive || !p.HasLocation() {
			continue
		}
		if onlineOnly && !p.IsOnline {
			continue
		}
		if serviceID != 0 {
			if s.offerings[p.ID] == nil || s.offerings[p.ID][serviceID] == nil {
				continue
			}
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *MemoryStore) GetOffering(ctx context.Context, providerID, serviceID uint) (*models.ProviderServiceOffering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byService := s.offerings[providerID]; byService != nil {
		if o, ok := byService[serviceID]; ok {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("provider %d does not offer service %d", providerID, serviceID)
}

// AddOffering registers a provider/service pair, test setup helper.
func (s *MemoryStore) AddOffering(o models.ProviderServiceOffering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offerings[o.ProviderID] == nil {
		s.offerings[o.ProviderID] = make(map[uint]*models.ProviderServiceOffering)
	}
	cp := o
	s.offerings[o.ProviderID][o.ServiceID] = &cp
}

// --- notification jobs ---

func (s *MemoryStore) EnqueueJob(ctx context.Context, job *models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) ClaimDueJobs(ctx context.Context, queue string, limit int, now time.Time, lease time.Duration) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.NotificationJob
	for _, j := range s.jobs {
		if j.Queue == queue && j.Status == models.JobStatusPending && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]models.NotificationJob, 0, len(due))
	for _, j := range due {
		j.NextAttemptAt = now.Add(lease)
		out = append(out, *j)
	}
	return out, nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return apperrors.NotFound("notification job %s not found", job.ID)
	}
	job.UpdatedAt = time.Now()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("notification job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListJobsByUser(ctx context.Context, userID uint, limit int) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationJob
	for _, j := range s.jobs {
		if j.UserID == userID && (j.Status == models.JobStatusSent || j.Status == models.JobStatusRead) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, j := range s.jobs {
		if j.UserID == userID && j.Status == models.JobStatusSent {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkJobRead(ctx context.Context, userID uint, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != userID || j.Status != models.JobStatusSent {
		return apperrors.NotFound("notification %s not found", id)
	}
	j.Status = models.JobStatusRead
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkAllJobsRead(ctx context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.UserID == userID && j.Status == models.JobStatusSent {
			j.Status = models.JobStatusRead
			j.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *MemoryStore) ResetFailedJobs(ctx context.Context, queue string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Queue == queue && j.Status == models.JobStatusFailed {
			j.Status = models.JobStatusPending
			j.Attempts = 0
			j.LastError = ""
			j.NextAttemptAt = now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeTerminalJobs(ctx context.Context, queue string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case models.JobStatusSent, models.JobStatusRead, models.JobStatusFailed:
			if j.UpdatedAt.Before(before) {
				delete(s.jobs, id)
				n++
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{Queue: queue}
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.Status {
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusSent, models.JobStatusRead:
			stats.Sent++
		case models.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// --- users / tokens ---

func (s *MemoryStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user %d not found", id)
	}
	cp := *u
	return &cp, nil
}

// AddUser registers a user record, test setup helper.
func (s *MemoryStore) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

func (s *MemoryStore) SavePushToken(ctx context.Context, token *models.PushToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

func (s *MemoryStore) ActivePushTokens(ctx context.Context, userID uint) ([]models.PushToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PushToken
	for _, t := range s.tokens {
		if t.UserID == userID && t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func cloneBooking(b *models.Booking) models.Booking {
	cp := *b
	cp.Items = make([]models.BookingLineItem, len(b.Items))
	copy(cp.Items, b.Items)
	return cp
}
