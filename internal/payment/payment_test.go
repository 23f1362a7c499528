package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	v, err := WithTimeout(ctx, time.Second, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	boom := errors.New("boom")
	_, err = WithTimeout(ctx, time.Second, func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnavailable)

	_, err = WithTimeout(ctx, 10*time.Millisecond, func(context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = WithTimeout(ctx, 10*time.Millisecond, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCheckoutRequest_Total(t *testing.T) {
	req := CheckoutRequest{LineItems: []LineItem{
		{AmountCents: 1000, Quantity: 2},
		{AmountCents: 250},
	}}
	assert.Equal(t, int64(2250), req.Total())
}

func TestReference(t *testing.T) {
	ref := NewReference(TypeTicket, "0b7f3c1e-5a2d-4c7e-9a51-8f1f6d2b9c10", "a1b2c3d4")
	assert.Equal(t, "T.0b7f3c1e-5a2d-4c7e-9a51-8f1f6d2b9c10.a1b2c3d4", ref)
	assert.LessOrEqual(t, len(ref), 50)

	md, ok := ParseReference(ref)
	require.True(t, ok)
	assert.Equal(t, TypeTicket, md[MetaType])
	assert.Equal(t, "0b7f3c1e-5a2d-4c7e-9a51-8f1f6d2b9c10", md[MetaTicketID])

	md, ok = ParseReference(NewReference(TypeAd, "ad1", "n"))
	require.True(t, ok)
	assert.Equal(t, "ad1", md[MetaAdID])

	for _, bad := range []string{"", "T", "T..n", "Z.x.n", "DONATION-123"} {
		_, ok := ParseReference(bad)
		assert.False(t, ok, bad)
	}
}
