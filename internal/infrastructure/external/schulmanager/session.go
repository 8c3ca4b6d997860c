package schulmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// API paths, relative to the configured base URL.
const (
	saltPath  = "/api/get-salt"
	loginPath = "/api/login"
	callsPath = "/api/calls"
)

// DefaultBaseURL is the production endpoint of the platform.
const DefaultBaseURL = "https://login.schulmanager-online.de"

// ══════════════════════════════════════════════════════════════════════════════
// AUTH STATE
// ══════════════════════════════════════════════════════════════════════════════

// AuthState is the session's position in its lifecycle.
type AuthState int

const (
	// StateUnauthenticated means no token is held.
	StateUnauthenticated AuthState = iota
	// StateAuthenticating means a login is in flight.
	StateAuthenticating
	// StateAuthenticated means a valid token is held.
	StateAuthenticated
	// StateExpiring means the held token is inside the renewal margin and a
	// renewal is due.
	StateExpiring
)

// String returns the string representation of the state.
func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpiring:
		return "expiring"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// SessionConfig contains configuration for the auth session.
type SessionConfig struct {
	// BaseURL is the platform base URL.
	BaseURL string

	// EmailOrUsername and Password are the account credentials. They are
	// held for the process lifetime and never logged.
	EmailOrUsername string
	Password        string

	// HTTPClient is the client used for all requests.
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

// Session owns the credential flow: salt retrieval, hashing, login, token
// renewal, and the student roster resolved from the login payload. One
// session is scoped to exactly one institution at a time.
//
// The token is the single shared mutable resource of the whole client;
// renewal is serialized through a single-flight group so that N concurrent
// callers hitting an expired token await one login instead of issuing N.
type Session struct {
	config SessionConfig
	http   *http.Client
	logger *slog.Logger
	mapper *Mapper
	tokens *TokenStore

	renewal singleflight.Group

	mu          sync.RWMutex
	state       AuthState
	institution student.InstitutionID
	roster      *Roster
}

// NewSession creates a new auth session.
func NewSession(config SessionConfig) *Session {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Session{
		config: config,
		http:   config.HTTPClient,
		logger: config.Logger,
		mapper: NewMapper(),
		tokens: NewTokenStore(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Tokens exposes the token store to the scoped API client.
func (s *Session) Tokens() *TokenStore {
	return s.tokens
}

// Roster returns the students resolved from the last successful login, or
// nil before the first one.
func (s *Session) Roster() *Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster
}

// Institution returns the scope recorded from the last successful login.
func (s *Session) Institution() student.InstitutionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.institution
}

// Logout drops the token and roster and returns to Unauthenticated.
func (s *Session) Logout() {
	s.tokens.Invalidate()
	s.mu.Lock()
	s.state = StateUnauthenticated
	s.roster = nil
	s.mu.Unlock()
	s.logger.Info("session logged out")
}

// Authenticate runs the full login flow: fetch a fresh salt, derive the
// hash, submit the login. institution selects the scope; zero lets the
// platform decide, which only works for single-institution accounts.
//
// When the account spans several institutions the platform answers with a
// disambiguation payload instead of a token; that surfaces here as an
// *InstitutionChoiceError and the caller must call Authenticate again with
// one of the listed institutions.
func (s *Session) Authenticate(ctx context.Context, institution student.InstitutionID) error {
	s.setState(StateAuthenticating)

	salt, err := s.fetchSalt(ctx, institution)
	if err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	hash, err := DeriveLoginHash(s.config.Password, salt)
	if err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	login, err := s.submitLogin(ctx, institution, hash)
	if err != nil {
		s.setState(StateUnauthenticated)
		return err
	}

	if len(login.MultipleAccounts) > 0 && login.BearerToken() == "" {
		s.setState(StateUnauthenticated)
		s.logger.Info("login requires institution selection",
			"institutions", len(login.MultipleAccounts),
		)
		return &InstitutionChoiceError{
			Institutions: s.mapper.InstitutionsFromDTO(login.MultipleAccounts),
		}
	}

	bearer := login.BearerToken()
	if bearer == "" {
		s.setState(StateUnauthenticated)
		return &AuthError{Step: "login", Status: http.StatusOK, Err: ErrNoToken}
	}

	scope := institution
	if !scope.IsValid() {
		scope = student.InstitutionID(login.User.InstitutionID)
	}

	now := time.Now()
	s.tokens.Replace(Token{
		Bearer:      bearer,
		ExpiresAt:   tokenExpiry(bearer, now),
		Institution: scope,
	})

	roster, resolveErr := ResolveRoster(login, scope, s.mapper)

	s.mu.Lock()
	s.state = StateAuthenticated
	s.institution = scope
	s.roster = roster
	s.mu.Unlock()

	if resolveErr != nil {
		s.logger.Warn("login succeeded but yielded no students", "institution", int64(scope))
		return resolveErr
	}

	s.logger.Info("authenticated",
		"institution", int64(scope),
		"students", roster.Len(),
	)
	return nil
}

// EnsureValid renews the token when it is missing or inside the expiry
// margin, reusing the institution scope recorded from the prior successful
// login. It is the sole renewal path and is safe to call before every
// outbound request; concurrent callers share a single in-flight renewal.
func (s *Session) EnsureValid(ctx context.Context) error {
	if s.tokens.Valid(time.Now()) {
		return nil
	}

	if _, held := s.tokens.Current(); held {
		s.setState(StateExpiring)
	}

	_, err, _ := s.renewal.Do("renew", func() (any, error) {
		// A caller that queued behind the winning renewal sees a fresh
		// token here and must not trigger another login.
		if s.tokens.Valid(time.Now()) {
			return nil, nil
		}
		return nil, s.Authenticate(ctx, s.Institution())
	})
	return err
}

// InvalidateToken drops the current token so the next EnsureValid renews.
// The scoped API client calls this on a server-reported 401.
func (s *Session) InvalidateToken() {
	s.tokens.Invalidate()
	s.setState(StateUnauthenticated)
}

func (s *Session) setState(state AuthState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGIN FLOW REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// fetchSalt requests a login salt. The endpoint has answered with a raw
// string body, a JSON-quoted string, and a {"salt": ...} object over the
// years; all three are accepted.
func (s *Session) fetchSalt(ctx context.Context, institution student.InstitutionID) (string, error) {
	body := saltRequest{
		EmailOrUsername: s.config.EmailOrUsername,
		MobileApp:       false,
		InstitutionID:   institutionPtr(institution),
	}

	status, respBody, err := s.postJSON(ctx, s.config.BaseURL+saltPath, body)
	if err != nil {
		return "", &AuthError{Step: "salt", Err: err}
	}
	if status != http.StatusOK {
		return "", &AuthError{Step: "salt", Status: status}
	}

	salt := parseSaltBody(respBody)
	if salt == "" {
		return "", &AuthError{Step: "salt", Status: status, Err: ErrEmptySalt}
	}
	return salt, nil
}

func (s *Session) submitLogin(ctx context.Context, institution student.InstitutionID, hash string) (*LoginResponse, error) {
	body := loginRequest{
		EmailOrUsername: s.config.EmailOrUsername,
		Password:        s.config.Password,
		Hash:            hash,
		MobileApp:       false,
		InstitutionID:   institutionPtr(institution),
	}

	status, respBody, err := s.postJSON(ctx, s.config.BaseURL+loginPath, body)
	if err != nil {
		return nil, &AuthError{Step: "login", Err: err}
	}
	if status != http.StatusOK {
		return nil, &AuthError{Step: "login", Status: status}
	}

	var login LoginResponse
	if err := json.Unmarshal(respBody, &login); err != nil {
		return nil, &AuthError{Step: "login", Status: status, Err: fmt.Errorf("parse login response: %w", err)}
	}
	return &login, nil
}

// postJSON issues one JSON POST and returns the status and body. Transport
// errors are returned as-is so callers can classify them as transient.
func (s *Session) postJSON(ctx context.Context, url string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func parseSaltBody(body []byte) string {
	var asString string
	if err := json.Unmarshal(body, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asObject struct {
		Salt string `json:"salt"`
	}
	if err := json.Unmarshal(body, &asObject); err == nil && asObject.Salt != "" {
		return strings.TrimSpace(asObject.Salt)
	}
	return strings.Trim(strings.TrimSpace(string(body)), `"`)
}

func institutionPtr(id student.InstitutionID) *int64 {
	if !id.IsValid() {
		return nil
	}
	v := int64(id)
	return &v
}
