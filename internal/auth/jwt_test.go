package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/territorios-app/territorios/internal/model"
)

var testUser = &model.AppUser{
	UID:         "user-1",
	PhoneNumber: "5551234567",
	Email:       "ana@example.org",
	Role:        model.RoleConductor,
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", "territorios", time.Minute)

	token, exp, err := issuer.NewAccessToken(testUser)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	session, err := issuer.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, &model.Session{
		UID:   "user-1",
		Role:  model.RoleConductor,
		Phone: "5551234567",
		Email: "ana@example.org",
	}, session)
}

func TestParseToken_Rejects(t *testing.T) {
	issuer := NewIssuer("secret", "territorios", time.Minute)

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewIssuer("other", "territorios", time.Minute).NewAccessToken(testUser)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, _, err := NewIssuer("secret", "someone-else", time.Minute).NewAccessToken(testUser)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewIssuer("secret", "territorios", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := old.NewAccessToken(testUser)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("unknown role", func(t *testing.T) {
		u := *testUser
		u.Role = model.Role("owner")
		token, _, err := issuer.NewAccessToken(&u)
		require.NoError(t, err)
		_, err = issuer.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
