package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	u := User{ID: "u1", Email: "amina@example.com", Name: "Amina", Roles: []string{RoleMentor}}

	raw, err := v.Issue(u, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, u, got)
	assert.True(t, got.IsMentor())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret")

	other, err := NewVerifier("other").Issue(User{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := v.Issue(User{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	v.now = time.Now
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Email: "x@example.com"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(noSub)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("s3cret")
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(u.ID))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, err := v.Issue(User{ID: "u42"}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u42", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?access_token="+raw, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Amina", User{Name: "Amina", Email: "a@x.com"}.DisplayName())
	assert.Equal(t, "amina", User{Email: "amina@x.com"}.DisplayName())
	assert.Equal(t, "u1", User{ID: "u1"}.DisplayName())
}
