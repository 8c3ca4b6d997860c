package schulmanager

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// Token lifetime defaults. The platform hands out short-lived JWTs; when the
// exp claim is unreadable the original one-hour rule applies. Renewal starts
// five minutes before expiry.
const (
	defaultTokenLifetime = time.Hour
	expiryMargin         = 5 * time.Minute
)

// Token is the bearer credential for one institution scope. A token is valid
// only for requests concerning students of its institution. Tokens live in
// memory for the process lifetime and are never persisted.
type Token struct {
	Bearer      string
	ExpiresAt   time.Time
	Institution student.InstitutionID
}

// TokenStore holds the current token and answers validity checks. It is safe
// for concurrent use; replacement and invalidation are atomic.
type TokenStore struct {
	mu    sync.RWMutex
	token *Token
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Current returns the held token. The second return is false when no token
// is held.
func (s *TokenStore) Current() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// Valid reports whether the held token can still back requests at the given
// time, applying the safety margin before actual expiry.
func (s *TokenStore) Valid(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil && now.Before(s.token.ExpiresAt.Add(-expiryMargin))
}

// Scope returns the institution the held token was issued for, or zero when
// no token is held.
func (s *TokenStore) Scope() student.InstitutionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return 0
	}
	return s.token.Institution
}

// Replace installs a new token, discarding any previous one.
func (s *TokenStore) Replace(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = &t
}

// Invalidate drops the held token. Called on a server-reported authorization
// failure so that the next EnsureValid renews.
func (s *TokenStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

// tokenExpiry determines when a freshly issued bearer expires. The upstream
// token is a JWT, so the exp claim is read without signature verification
// (we only schedule renewal with it, we never trust it for authorization).
// Tokens without a readable exp claim fall back to a fixed lifetime.
func tokenExpiry(bearer string, issuedAt time.Time) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(bearer, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.After(issuedAt) {
			return exp.Time
		}
	}
	return issuedAt.Add(defaultTokenLifetime)
}
