package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository/memory"
)

func TestClubService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	s := NewClubService(store, store, "MAD", discard)

	_, err := s.CreateClub(ctx, student, model.CreateClubRequest{Name: "Chess"})
	assert.ErrorIs(t, err, ErrForbidden)

	club, err := s.CreateClub(ctx, operator, model.CreateClubRequest{Name: "  Chess  "})
	require.NoError(t, err)
	assert.Equal(t, "Chess", club.Name)
	assert.Equal(t, []string{operator.ID}, club.Admins)

	_, err = s.AddAdmin(ctx, student, club.ID, student.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	club, err = s.AddAdmin(ctx, operator, club.ID, student.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{operator.ID, student.ID}, club.Admins)

	got, err := s.GetClub(ctx, club.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{operator.ID, student.ID}, got.Admins)

	// New admins may run the club's events.
	event, err := s.CreateEvent(ctx, student, club.ID, model.CreateEventRequest{
		Name: "Blitz", Date: time.Date(2025, 12, 1, 18, 0, 0, 0, time.UTC), PriceCents: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "mad", event.Currency)
	assert.Equal(t, club.ID, event.ClubID)

	_, err = s.CreateEvent(ctx, student2, club.ID, model.CreateEventRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = s.CreateEvent(ctx, operator, club.ID, model.CreateEventRequest{Name: "x", Capacity: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = s.GetEvent(ctx, "bogus")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.GetClub(ctx, "0b7f3c1e-5a2d-4c7e-9a51-8f1f6d2b9c10")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	tickets, err := s.ListTickets(ctx, operator, club.ID, event.ID)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	_, err = s.ListTickets(ctx, student2, club.ID, event.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}
