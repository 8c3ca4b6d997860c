package schulmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

const testSalt = "fe3d0c34aa8f"

// fakePlatform is a minimal stand-in for the login endpoints.
type fakePlatform struct {
	mu          sync.Mutex
	saltCalls   int32
	loginCalls  int32
	password    string
	bearer      string
	loginStatus int
	loginBody   func() any
}

func newFakePlatform(password string) *fakePlatform {
	f := &fakePlatform{password: password, bearer: "bearer-token-1", loginStatus: http.StatusOK}
	f.loginBody = f.defaultLoginBody
	return f
}

func (f *fakePlatform) defaultLoginBody() any {
	return map[string]any{
		"jwt": f.bearer,
		"user": map[string]any{
			"id":            1,
			"institutionId": 77,
			"associatedParents": []any{
				map[string]any{"student": map[string]any{
					"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b",
				}},
			},
		},
	}
}

func (f *fakePlatform) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(saltPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.saltCalls, 1)
		var body saltRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.MobileApp)
		_ = json.NewEncoder(w).Encode(testSalt)
	})
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.loginCalls, 1)
		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		expected, err := DeriveLoginHash(f.password, testSalt)
		require.NoError(t, err)
		assert.Equal(t, expected, body.Hash)

		f.mu.Lock()
		status, payload := f.loginStatus, f.loginBody()
		f.mu.Unlock()

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	})
	return mux
}

func newTestSession(t *testing.T, f *fakePlatform) (*Session, *httptest.Server) {
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	session := NewSession(SessionConfig{
		BaseURL:         server.URL,
		EmailOrUsername: "parent@example.com",
		Password:        "secret!",
	})
	return session, server
}

func TestSession_Authenticate(t *testing.T) {
	platform := newFakePlatform("secret!")
	session, _ := newTestSession(t, platform)

	require.NoError(t, session.Authenticate(context.Background(), 0))

	assert.Equal(t, StateAuthenticated, session.State())
	assert.Equal(t, student.InstitutionID(77), session.Institution())

	token, held := session.Tokens().Current()
	require.True(t, held)
	assert.Equal(t, "bearer-token-1", token.Bearer)
	assert.Equal(t, student.InstitutionID(77), token.Institution)

	roster := session.Roster()
	require.NotNil(t, roster)
	require.Equal(t, 1, roster.Len())
	st, ok := roster.Get(501)
	require.True(t, ok)
	assert.Equal(t, "Lena Berg", st.DisplayName())
}

func TestSession_Authenticate_InstitutionChoice(t *testing.T) {
	platform := newFakePlatform("secret!")
	platform.loginBody = func() any {
		return map[string]any{
			"multipleAccounts": []any{
				map[string]any{"id": 10, "label": "Gymnasium Nord"},
				map[string]any{"id": 20, "label": "Realschule Süd"},
			},
		}
	}
	session, _ := newTestSession(t, platform)

	err := session.Authenticate(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstitutionChoiceRequired)

	var choice *InstitutionChoiceError
	require.ErrorAs(t, err, &choice)
	require.Len(t, choice.Institutions, 2)
	assert.Equal(t, "Gymnasium Nord", choice.Institutions[0].Label)

	_, held := session.Tokens().Current()
	assert.False(t, held, "no token may be stored on a disambiguation response")
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestSession_Authenticate_LoginRejected(t *testing.T) {
	platform := newFakePlatform("secret!")
	platform.loginStatus = http.StatusUnauthorized
	session, _ := newTestSession(t, platform)

	err := session.Authenticate(context.Background(), 0)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "login", authErr.Step)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, StateUnauthenticated, session.State())
}

func TestSession_Authenticate_NoStudents(t *testing.T) {
	platform := newFakePlatform("secret!")
	platform.loginBody = func() any {
		return map[string]any{
			"jwt":  platform.bearer,
			"user": map[string]any{"id": 1, "institutionId": 77},
		}
	}
	session, _ := newTestSession(t, platform)

	err := session.Authenticate(context.Background(), 0)
	require.ErrorIs(t, err, ErrNoEntitiesFound)

	// The login itself succeeded; the token stays usable so the caller can
	// inspect the account.
	_, held := session.Tokens().Current()
	assert.True(t, held)
}

func TestSession_EnsureValid_SingleFlight(t *testing.T) {
	platform := newFakePlatform("secret!")
	session, _ := newTestSession(t, platform)

	require.NoError(t, session.Authenticate(context.Background(), 0))
	require.EqualValues(t, 1, atomic.LoadInt32(&platform.loginCalls))

	session.InvalidateToken()

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = session.EnsureValid(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// All twenty callers share one renewal login.
	assert.EqualValues(t, 2, atomic.LoadInt32(&platform.loginCalls))
	assert.True(t, session.Tokens().Valid(time.Now()))
}

func TestSession_EnsureValid_NoRenewalWhileValid(t *testing.T) {
	platform := newFakePlatform("secret!")
	session, _ := newTestSession(t, platform)

	require.NoError(t, session.Authenticate(context.Background(), 0))
	require.NoError(t, session.EnsureValid(context.Background()))
	require.NoError(t, session.EnsureValid(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&platform.loginCalls))
}

func TestSession_Logout(t *testing.T) {
	platform := newFakePlatform("secret!")
	session, _ := newTestSession(t, platform)

	require.NoError(t, session.Authenticate(context.Background(), 0))
	session.Logout()

	assert.Equal(t, StateUnauthenticated, session.State())
	assert.Nil(t, session.Roster())
	_, held := session.Tokens().Current()
	assert.False(t, held)
}

func TestParseSaltBody_AcceptedShapes(t *testing.T) {
	cases := map[string]string{
		"raw text":    testSalt,
		"json string": `"` + testSalt + `"`,
		"json object": `{"salt":"` + testSalt + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, testSalt, parseSaltBody([]byte(body)))
		})
	}
}

func TestSession_Authenticate_EmptySalt(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(saltPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	session := NewSession(SessionConfig{
		BaseURL:         server.URL,
		EmailOrUsername: "parent@example.com",
		Password:        "secret!",
	})

	err := session.Authenticate(context.Background(), 0)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "salt", authErr.Step)
	assert.ErrorIs(t, err, ErrEmptySalt)
}
