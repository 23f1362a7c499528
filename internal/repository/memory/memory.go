// Package memory is an in-process implementation of the repository
// contracts. It backs the service in development (STORE=memory) and in
// tests. Every conditional write runs under one mutex, which gives it the
// same exactly-once guarantees as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

type storedMessage struct {
	seq int64
	msg model.Message
}

type subscriber struct {
	key string
	ch  chan model.Message
}

// Store holds every entity in maps guarded by mu.
type Store struct {
	mu sync.Mutex

	enrollments map[string]model.Enrollment
	channels    map[string]string // key -> last reset academic year
	messages    map[string][]storedMessage
	seq         int64
	clubs       map[string]model.Club
	admins      map[string]mapset.Set[string]
	events      map[string]model.Event
	tickets     map[string]model.Ticket
	ads         map[string]model.Ad

	subs map[*subscriber]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		enrollments: make(map[string]model.Enrollment),
		channels:    make(map[string]string),
		messages:    make(map[string][]storedMessage),
		clubs:       make(map[string]model.Club),
		admins:      make(map[string]mapset.Set[string]),
		events:      make(map[string]model.Event),
		tickets:     make(map[string]model.Ticket),
		ads:         make(map[string]model.Ad),
		subs:        make(map[*subscriber]struct{}),
	}
}

// ─── Enrollments ──────────────────────────────────────────────────────────────

func copyEnrollment(e model.Enrollment) *model.Enrollment {
	overrides := make(map[string]int, len(e.SessionOverrides))
	for k, v := range e.SessionOverrides {
		overrides[k] = v
	}
	e.SessionOverrides = overrides
	return &e
}

// CreateEnrollment stores e, failing with ErrAlreadyExists for a second enrollment.
func (s *Store) CreateEnrollment(_ context.Context, e model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[e.UserID]; ok {
		return repository.ErrAlreadyExists
	}
	s.enrollments[e.UserID] = *copyEnrollment(e)
	return nil
}

// GetEnrollment returns a copy of the user's enrollment.
func (s *Store) GetEnrollment(_ context.Context, userID string) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyEnrollment(e), nil
}

// ConfirmLevel records level for academicYear unless one is already stored, and returns the stored level.
func (s *Store) ConfirmLevel(_ context.Context, userID, academicYear string, level int, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if stored, ok := e.SessionOverrides[academicYear]; ok {
		return stored, nil
	}
	if e.SessionOverrides == nil {
		e.SessionOverrides = make(map[string]int)
	}
	e.SessionOverrides[academicYear] = level
	s.enrollments[userID] = e
	return level, nil
}

// ─── Chat ─────────────────────────────────────────────────────────────────────

// ResetChannelIfStale clears the channel when its reset marker differs from academicYear.
func (s *Store) ResetChannelIfStale(_ context.Context, key, academicYear string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.channels[key]; ok && last == academicYear {
		return false, nil
	}
	s.channels[key] = academicYear
	delete(s.messages, key)
	return true, nil
}

// GetChannel returns the latest limit messages of key in chronological order.
func (s *Store) GetChannel(_ context.Context, key string, limit int) (*model.ChatChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := append([]storedMessage(nil), s.messages[key]...)
	sort.SliceStable(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
			return a.msg.Timestamp.Before(b.msg.Timestamp)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	ch := &model.ChatChannel{
		Key:                   key,
		LastResetAcademicYear: s.channels[key],
		Messages:              make([]model.Message, 0, len(stored)),
	}
	for _, sm := range stored {
		ch.Messages = append(ch.Messages, sm.msg)
	}
	return ch, nil
}

// AppendMessage stores m and hands it to the channel's subscribers.
func (s *Store) AppendMessage(_ context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.messages[m.ChannelKey] = append(s.messages[m.ChannelKey], storedMessage{seq: s.seq, msg: m})
	for sub := range s.subs {
		if sub.key != m.ChannelKey {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			// Slow subscriber; it will see the message on its next full read.
		}
	}
	return nil
}

// SubscribeChannel streams messages appended to key until ctx is done.
func (s *Store) SubscribeChannel(ctx context.Context, key string) (<-chan model.Message, error) {
	sub := &subscriber{key: key, ch: make(chan model.Message, 16)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

// ─── Clubs ────────────────────────────────────────────────────────────────────

// CreateClub stores c and its admin roster.
func (s *Store) CreateClub(_ context.Context, c model.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clubs[c.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.admins[c.ID] = mapset.NewSet(c.Admins...)
	c.Admins = nil
	s.clubs[c.ID] = c
	return nil
}

// GetClub returns a club with its admins sorted.
func (s *Store) GetClub(_ context.Context, id string) (*model.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clubs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c.Admins = s.admins[id].ToSlice()
	sort.Strings(c.Admins)
	return &c, nil
}

// AddClubAdmin adds userID to the club's roster.
func (s *Store) AddClubAdmin(_ context.Context, clubID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clubs[clubID]; !ok {
		return repository.ErrNotFound
	}
	s.admins[clubID].Add(userID)
	return nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent stores e.
func (s *Store) CreateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.events[e.ID] = e
	return nil
}

// ListEvents returns every event by date.
func (s *Store) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// GetEvent returns a single event.
func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

// ─── Tickets ──────────────────────────────────────────────────────────────────

// IssueTicket creates t unless the user already holds a ticket for the event
// or no seat is free. Unpaid tickets hold a seat until HoldExpiresAt.
func (s *Store) IssueTicket(_ context.Context, t model.Ticket) (*model.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[t.EventID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	now := t.CreatedAt

	var existing *model.Ticket
	for _, other := range s.tickets {
		if other.EventID == t.EventID && other.UserID == t.UserID {
			existing = &other
			break
		}
	}
	if existing != nil && existing.Status == model.TicketValid {
		return nil, false, repository.ErrAlreadyRegistered
	}
	if e.Capacity > 0 && (existing == nil || !existing.HoldsSeat(now)) {
		taken := e.RegistrationCount
		for _, other := range s.tickets {
			if other.EventID == t.EventID && other.HoldsSeat(now) && (existing == nil || other.ID != existing.ID) {
				taken++
			}
		}
		if taken >= e.Capacity {
			return nil, false, repository.ErrEventFull
		}
	}

	if existing != nil {
		existing.HoldExpiresAt = t.HoldExpiresAt
		existing.UpdatedAt = now
		s.tickets[existing.ID] = *existing
		return existing, false, nil
	}
	s.tickets[t.ID] = t
	if t.Status == model.TicketValid {
		e.RegistrationCount++
		s.events[e.ID] = e
	}
	return &t, true, nil
}

// GetTicket returns a single ticket.
func (s *Store) GetTicket(_ context.Context, id string) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

// ListTicketsByEvent returns an event's tickets in creation order.
func (s *Store) ListTicketsByEvent(_ context.Context, eventID string) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []model.Ticket
	for _, t := range s.tickets {
		if t.EventID == eventID {
			tickets = append(tickets, t)
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
	return tickets, nil
}

// ValidateTicket moves an awaiting_payment ticket to valid and counts the registration.
func (s *Store) ValidateTicket(_ context.Context, id, sessionID string, now time.Time) (*model.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if t.Status != model.TicketAwaitingPayment {
		return &t, false, nil
	}
	t.Status = model.TicketValid
	t.Paid = true
	t.PaymentSessionID = sessionID
	t.HoldExpiresAt = nil
	t.UpdatedAt = now
	s.tickets[id] = t
	if e, ok := s.events[t.EventID]; ok {
		e.RegistrationCount++
		s.events[e.ID] = e
	}
	return &t, true, nil
}

// CheckInTicket admits a valid ticket of clubID once.
func (s *Store) CheckInTicket(_ context.Context, clubID, id, operator string, now time.Time) (*model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.ClubID != clubID {
		return nil, repository.ErrNotFound
	}
	if t.Status != model.TicketValid {
		return &t, repository.ErrTicketNotValid
	}
	if t.CheckedIn {
		return &t, repository.ErrTicketAlreadyUsed
	}
	at := now
	t.CheckedIn = true
	t.CheckedInAt = &at
	t.CheckedInBy = operator
	t.UpdatedAt = now
	s.tickets[id] = t
	return &t, nil
}

// ─── Ads ──────────────────────────────────────────────────────────────────────

// CreateAd stores a draft ad.
func (s *Store) CreateAd(_ context.Context, a model.Ad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ads[a.ID]; ok {
		return repository.ErrAlreadyExists
	}
	s.ads[a.ID] = a
	return nil
}

// GetAd returns a single ad.
func (s *Store) GetAd(_ context.Context, id string) (*model.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

// ListLiveAds returns ads visible at now, most recently updated first.
func (s *Store) ListLiveAds(_ context.Context, now time.Time) ([]model.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ads []model.Ad
	for _, a := range s.ads {
		if a.IsVisible(now) {
			ads = append(ads, a)
		}
	}
	sort.SliceStable(ads, func(i, j int) bool {
		return ads[i].UpdatedAt.After(ads[j].UpdatedAt)
	})
	return ads, nil
}

// SubmitAd moves the owner's draft ad to under_review.
func (s *Store) SubmitAd(_ context.Context, id, ownerID string, now time.Time) (*model.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok || a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	if a.Status != model.AdDraft {
		return nil, repository.ErrInvalidTransition
	}
	a.Status = model.AdUnderReview
	a.UpdatedAt = now
	s.ads[id] = a
	return &a, nil
}

// ReserveAdCheckout claims the ad's single pending checkout slot for token.
func (s *Store) ReserveAdCheckout(_ context.Context, id, ownerID, token string, expiresAt, now time.Time) (*model.Ad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok || a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	if !a.Activatable() {
		return nil, repository.ErrAdNotActivatable
	}
	if a.HasPendingSession(now) {
		return nil, repository.ErrCheckoutPending
	}
	a.PendingSessionID = token
	a.PendingSessionExpiresAt = &expiresAt
	a.UpdatedAt = now
	s.ads[id] = a
	return &a, nil
}

// AttachAdSession replaces the reservation token with the provider session id.
func (s *Store) AttachAdSession(_ context.Context, id, token, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok || a.PendingSessionID != token {
		return repository.ErrNotFound
	}
	a.PendingSessionID = sessionID
	s.ads[id] = a
	return nil
}

// ReleaseAdCheckout frees the reservation held by token.
func (s *Store) ReleaseAdCheckout(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok || a.PendingSessionID != token {
		return nil
	}
	a.PendingSessionID = ""
	a.PendingSessionExpiresAt = nil
	s.ads[id] = a
	return nil
}

// ActivateAd makes an activatable ad live and fixes its expiration date.
func (s *Store) ActivateAd(_ context.Context, id, sessionID, invoiceID string, now time.Time) (*model.Ad, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ads[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if !a.Activatable() {
		return &a, false, nil
	}
	expires := now.AddDate(0, 0, a.DurationDays)
	a.Status = model.AdLive
	a.ExpirationDate = &expires
	a.InvoiceID = invoiceID
	a.PaymentSessionID = sessionID
	a.PendingSessionID = ""
	a.PendingSessionExpiresAt = nil
	a.UpdatedAt = now
	s.ads[id] = a
	return &a, true, nil
}
