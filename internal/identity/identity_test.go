package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/api-monitor/api-monitor/internal/db/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

// ---------------------------------------------------------------------------
// ResolveSecret
// ---------------------------------------------------------------------------

func TestResolveSecret(t *testing.T) {
	t.Run("configured secret is returned", func(t *testing.T) {
		s, err := ResolveSecret(testSecret)
		require.NoError(t, err)
		assert.Equal(t, testSecret, s)
	})

	t.Run("production requires a secret", func(t *testing.T) {
		t.Setenv("DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		_, err := ResolveSecret("")
		assert.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("dev mode generates a random secret", func(t *testing.T) {
		t.Setenv("DEV_MODE", "true")
		a, err := ResolveSecret("")
		require.NoError(t, err)
		b, err := ResolveSecret("")
		require.NoError(t, err)
		assert.Len(t, a, 64)
		assert.NotEqual(t, a, b)
	})
}

// ---------------------------------------------------------------------------
// TokenIssuer
// ---------------------------------------------------------------------------

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour, "api-monitor")

	token, expiresAt, err := issuer.Issue("user-1", "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer(testSecret, time.Hour, "api-monitor").Issue("user-1", "alice")
	require.NoError(t, err)

	_, err = NewTokenIssuer("another-secret-that-is-32-chars-long", time.Hour, "api-monitor").Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsWrongIssuer(t *testing.T) {
	token, _, err := NewTokenIssuer(testSecret, time.Hour, "someone-else").Issue("user-1", "alice")
	require.NoError(t, err)

	_, err = NewTokenIssuer(testSecret, time.Hour, "api-monitor").Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	claims := &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "api-monitor",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenIssuer(testSecret, time.Hour, "api-monitor").Validate(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenIssuer_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{UserID: "user-1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "api-monitor"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer(testSecret, time.Hour, "api-monitor").Validate(token)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsGarbage(t *testing.T) {
	_, err := NewTokenIssuer(testSecret, time.Hour, "api-monitor").Validate("not.a.token")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Passwords
// ---------------------------------------------------------------------------

type fakeUsers struct {
	user *models.User
	err  error
}

func (f fakeUsers) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.user != nil && f.user.Username == username {
		return f.user, nil
	}
	return nil, nil
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestAuthenticate(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	users := fakeUsers{user: &models.User{ID: "user-1", Username: "alice", PasswordHash: hash}}

	t.Run("valid credentials", func(t *testing.T) {
		u, err := Authenticate(context.Background(), users, "alice", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "user-1", u.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := Authenticate(context.Background(), users, "alice", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := Authenticate(context.Background(), users, "bob", "s3cret")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("store error is returned", func(t *testing.T) {
		boom := errors.New("db down")
		_, err := Authenticate(context.Background(), fakeUsers{err: boom}, "alice", "s3cret")
		assert.ErrorIs(t, err, boom)
	})
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestEvents_EmitCallsObserversInOrder(t *testing.T) {
	events := NewEvents()
	var got []string

	events.Subscribe(func(_ context.Context, ev SessionEvent) { got = append(got, "first:"+string(ev.Kind)) })
	events.Subscribe(func(_ context.Context, ev SessionEvent) { got = append(got, "second:"+ev.UserID) })

	events.Emit(context.Background(), SessionEvent{Kind: SessionLogin, UserID: "user-1"})

	assert.Equal(t, []string{"first:login", "second:user-1"}, got)
}

func TestEvents_PanickingObserverDoesNotStopOthers(t *testing.T) {
	events := NewEvents()
	called := false

	events.Subscribe(func(context.Context, SessionEvent) { panic("observer bug") })
	events.Subscribe(func(context.Context, SessionEvent) { called = true })

	assert.NotPanics(t, func() {
		events.Emit(context.Background(), SessionEvent{Kind: SessionLogout})
	})
	assert.True(t, called)
}

func TestEvents_EmitWithoutObservers(t *testing.T) {
	assert.NotPanics(t, func() {
		NewEvents().Emit(context.Background(), SessionEvent{Kind: SessionLogin})
	})
}
