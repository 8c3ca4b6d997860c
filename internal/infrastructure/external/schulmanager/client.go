package schulmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
	"github.com/schulmanager-hub/schulmanager-sync/pkg/circuitbreaker"
	"github.com/schulmanager-hub/schulmanager-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the scoped API client.
type ClientConfig struct {
	// Session is the auth session the client wraps. Required.
	Session *Session

	// RateLimiterConfig paces calls against the platform.
	RateLimiterConfig RateLimiterConfig

	// BreakerConfig protects the platform while it is failing.
	BreakerConfig circuitbreaker.Config

	// Retrier handles transient network failures inside one request. Only
	// transport errors are retried; upstream rejections never are.
	Retrier *retry.Retrier

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults around the given session.
func DefaultClientConfig(session *Session) ClientConfig {
	return ClientConfig{
		Session:           session,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		BreakerConfig:     circuitbreaker.DefaultConfig("schulmanager"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client issues domain requests (schedule, homework, grades, exams,
// letters) scoped to the session's institution. Every request runs the same
// algorithm: ensure the token is valid, check the student against the
// resolved roster before any network I/O, issue the batch call, and on an
// authorization failure re-authenticate once and retry exactly once.
type Client struct {
	session *Session
	http    *http.Client
	logger  *slog.Logger
	limiter *RateLimiter
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	bundles *bundleResolver
	mapper  *Mapper
}

// NewClient creates a new scoped API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Retrier == nil {
		config.Retrier = retry.UpstreamRetrier()
	}
	if config.BreakerConfig.Name == "" {
		config.BreakerConfig = circuitbreaker.DefaultConfig("schulmanager")
	}
	if config.BreakerConfig.IsFailure == nil {
		config.BreakerConfig.IsFailure = isUpstreamFailure
	}

	return &Client{
		session: config.Session,
		http:    config.Session.http,
		logger:  config.Logger,
		limiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.New(config.BreakerConfig),
		retrier: config.Retrier,
		bundles: newBundleResolver(config.Session.http, config.Session.config.BaseURL, config.Logger),
		mapper:  NewMapper(),
	}
}

// Session returns the wrapped auth session.
func (c *Client) Session() *Session {
	return c.session
}

// Students returns the roster resolved by the last successful login, sorted
// by ID. Empty until the session authenticated once.
func (c *Client) Students() []student.Student {
	roster := c.session.Roster()
	if roster == nil {
		return nil
	}
	return roster.List()
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Schedule fetches the actual lessons of a student for a date range.
func (c *Client) Schedule(ctx context.Context, id student.ID, start, end time.Time) (snapshot.DomainSnapshot, error) {
	return c.fetchDomain(ctx, snapshot.DomainSchedule, id,
		func(roster *Roster) ([]moduleRequest, int, error) {
			raw, ok := roster.RawStudent(id)
			if !ok {
				return nil, 0, &EntityNotFoundError{Student: id, Scope: roster.Scope()}
			}
			return []moduleRequest{{
				ModuleName:   moduleName("schedules"),
				EndpointName: "get-actual-lessons",
				Parameters: map[string]any{
					// The endpoint wants the complete student object from
					// the login payload echoed back, not just the ID.
					"student": json.RawMessage(raw),
					"start":   start.Format("2006-01-02"),
					"end":     end.Format("2006-01-02"),
				},
			}}, 0, nil
		},
		func(data json.RawMessage) ([]snapshot.Entry, error) {
			var lessons []LessonDTO
			if err := json.Unmarshal(data, &lessons); err != nil {
				return nil, fmt.Errorf("parse lessons: %w", err)
			}
			return c.mapper.LessonsToEntries(lessons), nil
		},
	)
}

// Homework fetches the homework assignments of a student.
func (c *Client) Homework(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error) {
	return c.fetchDomain(ctx, snapshot.DomainHomework, id,
		func(*Roster) ([]moduleRequest, int, error) {
			return []moduleRequest{{
				ModuleName:   moduleName("classbook"),
				EndpointName: "get-homework",
				Parameters:   map[string]any{"student": map[string]any{"id": int64(id)}},
			}}, 0, nil
		},
		func(data json.RawMessage) ([]snapshot.Entry, error) {
			var payload homeworkPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, fmt.Errorf("parse homework: %w", err)
			}
			return c.mapper.HomeworkToEntries(payload.Homeworks), nil
		},
	)
}

// Exams fetches the exams of a student for a date range.
func (c *Client) Exams(ctx context.Context, id student.ID, start, end time.Time) (snapshot.DomainSnapshot, error) {
	return c.fetchDomain(ctx, snapshot.DomainExams, id,
		func(*Roster) ([]moduleRequest, int, error) {
			return []moduleRequest{{
				ModuleName:   moduleName("exams"),
				EndpointName: "get-exams",
				Parameters: map[string]any{
					"student": map[string]any{"id": int64(id)},
					"start":   start.Format("2006-01-02"),
					"end":     end.Format("2006-01-02"),
				},
			}}, 0, nil
		},
		func(data json.RawMessage) ([]snapshot.Entry, error) {
			var payload examsPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, fmt.Errorf("parse exams: %w", err)
			}
			return c.mapper.ExamsToEntries(payload.Exams), nil
		},
	)
}

// Grades fetches the recorded grades of a student.
func (c *Client) Grades(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error) {
	return c.fetchDomain(ctx, snapshot.DomainGrades, id,
		func(*Roster) ([]moduleRequest, int, error) {
			return []moduleRequest{{
				ModuleName:   moduleName("grades"),
				EndpointName: "get-grades",
				Parameters:   map[string]any{"student": map[string]any{"id": int64(id)}},
			}}, 0, nil
		},
		func(data json.RawMessage) ([]snapshot.Entry, error) {
			var payload gradesPayload
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, fmt.Errorf("parse grades: %w", err)
			}
			return c.mapper.GradesToEntries(payload.Grades), nil
		},
	)
}

// Letters fetches the account-wide parent letters. Letters are not
// per-student upstream, but the snapshot is attributed to the requesting
// student so consumers see one uniform (student, domain) surface.
func (c *Client) Letters(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error) {
	return c.fetchDomain(ctx, snapshot.DomainLetters, id,
		func(*Roster) ([]moduleRequest, int, error) {
			// The platform's own client probes notification permission
			// first; the letters payload is the second result.
			return []moduleRequest{
				{ModuleName: nil, EndpointName: "user-can-get-notifications"},
				{ModuleName: moduleName("letters"), EndpointName: "get-letters"},
			}, 1, nil
		},
		func(data json.RawMessage) ([]snapshot.Entry, error) {
			var letters []LetterDTO
			if err := json.Unmarshal(data, &letters); err != nil {
				return nil, fmt.Errorf("parse letters: %w", err)
			}
			return c.mapper.LettersToEntries(letters), nil
		},
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ALGORITHM
// ══════════════════════════════════════════════════════════════════════════════

// fetchDomain runs the uniform request algorithm for one (student, domain)
// pair.
func (c *Client) fetchDomain(
	ctx context.Context,
	domain snapshot.Domain,
	id student.ID,
	build func(*Roster) ([]moduleRequest, int, error),
	parse func(json.RawMessage) ([]snapshot.Entry, error),
) (snapshot.DomainSnapshot, error) {
	if err := c.session.EnsureValid(ctx); err != nil {
		return snapshot.DomainSnapshot{}, err
	}

	// Scope guard: reject students outside the resolved roster before any
	// network I/O. The upstream filters too, but that is not relied upon.
	roster := c.session.Roster()
	if roster == nil || !roster.Contains(id) {
		return snapshot.DomainSnapshot{}, &EntityNotFoundError{Student: id, Scope: c.session.Institution()}
	}

	requests, resultIndex, err := build(roster)
	if err != nil {
		return snapshot.DomainSnapshot{}, err
	}

	data, err := c.call(ctx, domain, id, requests, resultIndex)
	if err != nil {
		return snapshot.DomainSnapshot{}, err
	}

	entries, err := parse(data)
	if err != nil {
		return snapshot.DomainSnapshot{}, fmt.Errorf("%s for student %d: %w", domain, id, err)
	}

	return snapshot.DomainSnapshot{
		Domain:    domain,
		Student:   id,
		FetchedAt: time.Now(),
		Entries:   entries,
	}, nil
}

// call issues one batch request and unwraps the addressed result. On a 401
// the token is invalidated, the session re-authenticates once, and the
// request is retried exactly once; a second 401 is fatal for this call.
func (c *Client) call(ctx context.Context, domain snapshot.Domain, id student.ID, requests []moduleRequest, resultIndex int) (json.RawMessage, error) {
	payload, err := json.Marshal(batchRequest{
		BundleVersion: c.bundles.Version(ctx),
		Requests:      requests,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch request: %w", err)
	}

	status, body, err := c.doBatch(ctx, domain, id, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Debug("batch call unauthorized, re-authenticating once",
			"domain", string(domain), "student", int64(id))

		c.session.InvalidateToken()
		if err := c.session.EnsureValid(ctx); err != nil {
			return nil, err
		}

		status, body, err = c.doBatch(ctx, domain, id, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{Step: "renewal", Status: status}
		}
	}

	if status != http.StatusOK {
		return nil, &APICallError{Status: status, Domain: domain, Student: id}
	}

	var batch batchResponse
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}
	if resultIndex >= len(batch.Results) {
		return nil, &APICallError{Status: status, Domain: domain, Student: id}
	}

	result := batch.Results[resultIndex]
	if result.Status != http.StatusOK {
		return nil, &APICallError{Status: result.Status, Domain: domain, Student: id}
	}
	return result.Data, nil
}

// doBatch performs one paced, breaker-guarded POST to /api/calls. Transport
// errors are retried with backoff. Server failures (5xx) and throttling
// (429) surface as errors from inside the breaker so they count against its
// failure streak; every other HTTP status is returned to the caller
// undisturbed for classification, so 401 still reaches the re-auth path and
// deterministic 4xx rejections never trip the breaker.
func (c *Client) doBatch(ctx context.Context, domain snapshot.Domain, id student.ID, payload []byte) (int, []byte, error) {
	var status int
	var body []byte

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}

			token, held := c.session.Tokens().Current()
			if !held {
				return retry.Permanent(ErrNoToken)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.session.config.BaseURL+callsPath, bytes.NewReader(payload))
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Authorization", "Bearer "+token.Bearer)

			resp, err := c.http.Do(req)
			if err != nil {
				return retry.Retryable(err)
			}
			defer resp.Body.Close()

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return retry.Retryable(err)
			}

			status = resp.StatusCode
			body = b

			if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
				return retry.Retryable(&APICallError{Status: status, Domain: domain, Student: id})
			}
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return status, body, nil
}

// isUpstreamFailure classifies errors for the circuit breaker. Only
// failures that indicate the upstream is unhealthy open the circuit;
// deterministic rejections of individual requests do not.
func isUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APICallError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError ||
			apiErr.Status == http.StatusTooManyRequests
	}
	var notFound *EntityNotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func moduleName(name string) *string {
	return &name
}
