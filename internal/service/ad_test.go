package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/payment"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository/memory"
)

type adFixture struct {
	store    *memory.Store
	provider *fakeProvider
	notifier *recordingNotifier
	clock    *clock
	ads      *AdService
}

func newAdFixture(t *testing.T) *adFixture {
	t.Helper()
	f := &adFixture{
		store:    memory.New(),
		provider: newFakeProvider(),
		notifier: &recordingNotifier{},
		clock:    newClock(time.Date(2025, time.September, 1, 10, 0, 0, 0, time.UTC)),
	}
	f.ads = NewAdService(f.store, f.provider, f.notifier, testCheckout, 500, "MAD", discard)
	f.ads.now = f.clock.Now
	return f
}

func (f *adFixture) draft(t *testing.T) *model.Ad {
	t.Helper()
	a, err := f.ads.CreateAd(context.Background(), student, model.CreateAdRequest{
		Title:        "Used calculator",
		Description:  "TI-83, works fine",
		DurationDays: 7,
	})
	require.NoError(t, err)
	return a
}

func TestAd_CreateAndSubmit(t *testing.T) {
	f := newAdFixture(t)
	ctx := context.Background()

	_, err := f.ads.CreateAd(ctx, student, model.CreateAdRequest{Title: "x", DurationDays: 10})
	assert.ErrorIs(t, err, ErrInvalidInput)

	a := f.draft(t)
	assert.Equal(t, model.AdDraft, a.Status)

	_, err = f.ads.SubmitAd(ctx, student2, a.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	a, err = f.ads.SubmitAd(ctx, student, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdUnderReview, a.Status)

	_, err = f.ads.SubmitAd(ctx, student, a.ID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestAd_Checkout(t *testing.T) {
	f := newAdFixture(t)
	ctx := context.Background()
	a := f.draft(t)

	resp, err := f.ads.Checkout(ctx, student, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, resp.AdID)
	assert.NotEmpty(t, resp.URL)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, int64(7*500), req.Total())
	assert.Equal(t, "mad", req.LineItems[0].Currency)
	assert.Equal(t, a.ID, req.Metadata[payment.MetaAdID])

	stored, err := f.store.GetAd(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, stored.PendingSessionID)

	// One pending session per ad.
	_, err = f.ads.Checkout(ctx, student, a.ID)
	assert.ErrorIs(t, err, repository.ErrCheckoutPending)

	f.clock.Advance(testCheckout.SessionTTL + time.Minute)
	_, err = f.ads.Checkout(ctx, student, a.ID)
	assert.NoError(t, err)

	_, err = f.ads.Checkout(ctx, student2, a.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAd_CheckoutFailureReleasesReservation(t *testing.T) {
	f := newAdFixture(t)
	ctx := context.Background()
	a := f.draft(t)

	f.provider.createErr = payment.ErrUnavailable
	_, err := f.ads.Checkout(ctx, student, a.ID)
	assert.ErrorIs(t, err, payment.ErrUnavailable)

	f.provider.createErr = nil
	_, err = f.ads.Checkout(ctx, student, a.ID)
	assert.NoError(t, err)
}

func TestAd_ActivationIsComputedOnce(t *testing.T) {
	f := newAdFixture(t)
	ctx := context.Background()
	a := f.draft(t)
	resp, err := f.ads.Checkout(ctx, student, a.ID)
	require.NoError(t, err)

	outcome, _, err := f.ads.ActivateAd(ctx, a.ID, payment.Session{ID: resp.SessionID, Status: payment.StatusUnpaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)

	session := f.provider.pay(resp.SessionID)
	outcome, live, err := f.ads.ActivateAd(ctx, a.ID, session)
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, outcome)
	assert.Equal(t, model.AdLive, live.Status)
	require.NotNil(t, live.ExpirationDate)
	assert.True(t, f.clock.Now().AddDate(0, 0, 7).Equal(*live.ExpirationDate))
	assert.Regexp(t, regexp.MustCompile(`^INV-20250901-[0-9A-F]{8}$`), live.InvoiceID)

	// A webhook retry a day later changes nothing.
	f.clock.Advance(24 * time.Hour)
	outcome, again, err := f.ads.ActivateAd(ctx, a.ID, session)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyLive, outcome)
	assert.True(t, live.ExpirationDate.Equal(*again.ExpirationDate))
	assert.Equal(t, live.InvoiceID, again.InvoiceID)

	assert.Equal(t, 1, f.notifier.count(KindAdInvoice))

	_, err = f.ads.Checkout(ctx, student, a.ID)
	assert.ErrorIs(t, err, repository.ErrAdNotActivatable)
}

func TestAd_Visibility(t *testing.T) {
	f := newAdFixture(t)
	ctx := context.Background()
	a := f.draft(t)

	_, err := f.ads.GetAd(ctx, student2, a.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.ads.GetAd(ctx, student, a.ID)
	assert.NoError(t, err)

	_, _, err = f.ads.ActivateAd(ctx, a.ID, payment.Session{ID: "cs_1", Status: payment.StatusPaid})
	require.NoError(t, err)

	_, err = f.ads.GetAd(ctx, student2, a.ID)
	assert.NoError(t, err)
	live, err := f.ads.ListLiveAds(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	f.clock.Advance(8 * 24 * time.Hour)
	live, err = f.ads.ListLiveAds(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
	_, err = f.ads.GetAd(ctx, student2, a.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
