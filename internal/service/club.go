package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

// ClubService manages clubs, their admin rosters and their events.
type ClubService struct {
	clubs    ClubStore
	tickets  TicketStore
	currency string
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewClubService constructs a ClubService. currency is the default for
// events created without one.
func NewClubService(clubs ClubStore, tickets TicketStore, currency string, log logrus.FieldLogger) *ClubService {
	return &ClubService{
		clubs:    clubs,
		tickets:  tickets,
		currency: strings.ToLower(currency),
		log:      log,
		now:      time.Now,
	}
}

// roster returns the club's admins as a set.
func roster(c *model.Club) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(c.Admins...)
}

// requireAdmin loads the club and checks the caller is on its roster.
func requireAdmin(ctx context.Context, clubs ClubStore, clubID string, user auth.User) (*model.Club, error) {
	if err := checkID(clubID); err != nil {
		return nil, err
	}
	club, err := clubs.GetClub(ctx, clubID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get club: %w", err)
	}
	if !roster(club).Contains(user.ID) {
		return nil, ErrForbidden
	}
	return club, nil
}

// CreateClub creates a club with the caller as its first admin. Only
// platform admins may create clubs.
func (s *ClubService) CreateClub(ctx context.Context, user auth.User, req model.CreateClubRequest) (*model.Club, error) {
	if !user.HasRole(auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	c := model.Club{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Admins:      []string{user.ID},
		CreatedAt:   s.now().UTC(),
	}
	if err := s.clubs.CreateClub(ctx, c); err != nil {
		return nil, fmt.Errorf("create club: %w", err)
	}
	return &c, nil
}

// GetClub returns a club by ID.
func (s *ClubService) GetClub(ctx context.Context, id string) (*model.Club, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	c, err := s.clubs.GetClub(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get club: %w", err)
	}
	return c, nil
}

// AddAdmin puts userID on the club's roster. The caller must already be on it.
func (s *ClubService) AddAdmin(ctx context.Context, user auth.User, clubID, userID string) (*model.Club, error) {
	club, err := requireAdmin(ctx, s.clubs, clubID, user)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id is required")
	}
	admins := roster(club)
	if !admins.Add(userID) {
		return club, nil
	}
	if err := s.clubs.AddClubAdmin(ctx, clubID, userID); err != nil {
		return nil, fmt.Errorf("add club admin: %w", err)
	}
	club.Admins = admins.ToSlice()
	s.log.WithFields(logrus.Fields{"club_id": clubID, "admin": userID, "by": user.ID}).Info("club admin added")
	return club, nil
}

// CreateEvent validates the request and creates an event for the club.
func (s *ClubService) CreateEvent(ctx context.Context, user auth.User, clubID string, req model.CreateEventRequest) (*model.Event, error) {
	if _, err := requireAdmin(ctx, s.clubs, clubID, user); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, invalid("event name is required")
	}
	if req.Capacity < 0 {
		return nil, invalid("capacity cannot be negative")
	}
	if req.Capacity > 100_000 {
		return nil, invalid("capacity cannot exceed 100,000")
	}
	if req.PriceCents < 0 {
		return nil, invalid("price cannot be negative")
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.currency
	}
	now := s.now().UTC()
	e := model.Event{
		ID:          uuid.NewString(),
		ClubID:      clubID,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Location:    strings.TrimSpace(req.Location),
		Date:        req.Date,
		PriceCents:  req.PriceCents,
		Currency:    currency,
		Capacity:    req.Capacity,
		CreatedAt:   now,
	}
	if err := s.clubs.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return &e, nil
}

// ListEvents returns all events.
func (s *ClubService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.clubs.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *ClubService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	event, err := s.clubs.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListTickets returns the tickets of one of the club's events. Only club
// admins see them.
func (s *ClubService) ListTickets(ctx context.Context, user auth.User, clubID, eventID string) ([]model.Ticket, error) {
	if _, err := requireAdmin(ctx, s.clubs, clubID, user); err != nil {
		return nil, err
	}
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.ClubID != clubID {
		return nil, repository.ErrNotFound
	}
	return s.tickets.ListTicketsByEvent(ctx, eventID)
}
