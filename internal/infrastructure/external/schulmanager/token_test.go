package schulmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_ValidWindow(t *testing.T) {
	store := NewTokenStore()
	now := time.Now()

	assert.False(t, store.Valid(now), "empty store is never valid")

	store.Replace(Token{Bearer: "tok", ExpiresAt: now.Add(time.Hour), Institution: 7})

	assert.True(t, store.Valid(now))
	assert.True(t, store.Valid(now.Add(54*time.Minute)))
	// Inside the five-minute renewal margin the token counts as expiring.
	assert.False(t, store.Valid(now.Add(56*time.Minute)))
	assert.False(t, store.Valid(now.Add(2*time.Hour)))
}

func TestTokenStore_ReplaceAndInvalidate(t *testing.T) {
	store := NewTokenStore()
	now := time.Now()

	store.Replace(Token{Bearer: "first", ExpiresAt: now.Add(time.Hour), Institution: 7})
	store.Replace(Token{Bearer: "second", ExpiresAt: now.Add(time.Hour), Institution: 9})

	token, held := store.Current()
	require.True(t, held)
	assert.Equal(t, "second", token.Bearer)
	assert.Equal(t, store.Scope(), token.Institution)

	store.Invalidate()
	_, held = store.Current()
	assert.False(t, held)
	assert.False(t, store.Valid(now))
	assert.Zero(t, store.Scope())
}

func TestTokenExpiry_ReadsJWTExpClaim(t *testing.T) {
	issued := time.Now()
	exp := issued.Add(45 * time.Minute)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "parent-account",
	})
	bearer, err := token.SignedString([]byte("irrelevant-key"))
	require.NoError(t, err)

	got := tokenExpiry(bearer, issued)
	assert.WithinDuration(t, exp, got, time.Second)
}

func TestTokenExpiry_FallbackForOpaqueToken(t *testing.T) {
	issued := time.Now()

	got := tokenExpiry("not-a-jwt-at-all", issued)
	assert.Equal(t, issued.Add(time.Hour), got)
}

func TestTokenExpiry_FallbackForPastExpClaim(t *testing.T) {
	issued := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": issued.Add(-time.Minute).Unix(),
	})
	bearer, err := token.SignedString([]byte("irrelevant-key"))
	require.NoError(t, err)

	// An exp claim in the past is nonsense for a fresh token; the fixed
	// lifetime applies.
	got := tokenExpiry(bearer, issued)
	assert.Equal(t, issued.Add(time.Hour), got)
}
