// Package coordinator implements the polling loop of the sync worker. It
// drives periodic fetches of every data domain for every tracked student,
// diffs each result against the previous snapshot, and publishes the
// outcome on the event bus. Each (student, domain) pair fails in isolation;
// only an authentication failure aborts a whole cycle, because no fetch can
// succeed without a token.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/external/schulmanager"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/messaging"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/scheduler"
	"github.com/schulmanager-hub/schulmanager-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// APIClient is the surface of the platform client the coordinator consumes.
type APIClient interface {
	Schedule(ctx context.Context, id student.ID, start, end time.Time) (snapshot.DomainSnapshot, error)
	Homework(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error)
	Exams(ctx context.Context, id student.ID, start, end time.Time) (snapshot.DomainSnapshot, error)
	Grades(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error)
	Letters(ctx context.Context, id student.ID) (snapshot.DomainSnapshot, error)
	Students() []student.Student
}

// Config contains configuration for the Coordinator.
type Config struct {
	// Client is the scoped platform client. Required.
	Client APIClient

	// Bus receives snapshot and change events. Optional; nil disables
	// publishing.
	Bus *messaging.EventBus

	// Logger for structured logging.
	Logger *slog.Logger

	// Intervals sets the poll cadence per domain. Domains without an
	// entry use DefaultIntervals.
	Intervals map[snapshot.Domain]time.Duration

	// MaxConcurrent bounds parallel fetches within one cycle.
	MaxConcurrent int

	// EnableGrades switches the grades domain on. Off by default: grade
	// data is sensitive and most deployments only want schedule changes.
	EnableGrades bool

	// ScheduleLookaheadWeeks extends the schedule window beyond the
	// current school week.
	ScheduleLookaheadWeeks int

	// ExamLookaheadWeeks sets how far ahead the exam window reaches.
	ExamLookaheadWeeks int
}

// DefaultIntervals returns the default poll cadence per domain. The
// schedule moves often during a school day; the other domains change on
// the scale of hours.
func DefaultIntervals() map[snapshot.Domain]time.Duration {
	return map[snapshot.Domain]time.Duration{
		snapshot.DomainSchedule: 5 * time.Minute,
		snapshot.DomainHomework: time.Hour,
		snapshot.DomainExams:    time.Hour,
		snapshot.DomainGrades:   time.Hour,
		snapshot.DomainLetters:  time.Hour,
	}
}

// DefaultConfig returns sensible defaults around the given client.
func DefaultConfig(client APIClient) Config {
	return Config{
		Client:                 client,
		Intervals:              DefaultIntervals(),
		MaxConcurrent:          4,
		ScheduleLookaheadWeeks: 1,
		ExamLookaheadWeeks:     8,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Coordinator owns the snapshot store and the per-domain poll jobs.
type Coordinator struct {
	client    APIClient
	bus       *messaging.EventBus
	logger    *slog.Logger
	store     *Store
	scheduler *scheduler.Scheduler

	intervals     map[snapshot.Domain]time.Duration
	maxConcurrent int
	enableGrades  bool
	scheduleWeeks int
	examWeeks     int
}

// New creates a new Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Client == nil {
		return nil, errors.New("coordinator: client is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.ExamLookaheadWeeks <= 0 {
		config.ExamLookaheadWeeks = 8
	}

	intervals := DefaultIntervals()
	for domain, interval := range config.Intervals {
		if interval > 0 {
			intervals[domain] = interval
		}
	}

	return &Coordinator{
		client: config.Client,
		bus:    config.Bus,
		logger: config.Logger,
		store:  NewStore(),
		scheduler: scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   config.Logger,
			Timezone: timeutil.SchoolTZ,
		}),
		intervals:     intervals,
		maxConcurrent: config.MaxConcurrent,
		enableGrades:  config.EnableGrades,
		scheduleWeeks: config.ScheduleLookaheadWeeks,
		examWeeks:     config.ExamLookaheadWeeks,
	}, nil
}

// Domains returns the domains this coordinator polls, in stable order.
func (c *Coordinator) Domains() []snapshot.Domain {
	domains := make([]snapshot.Domain, 0, 5)
	for _, domain := range snapshot.AllDomains() {
		if domain == snapshot.DomainGrades && !c.enableGrades {
			continue
		}
		domains = append(domains, domain)
	}
	return domains
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start registers one poll job per enabled domain, runs an initial cycle
// for each, and starts the scheduler. The initial cycle establishes the
// diff baseline; its errors are logged but do not prevent startup, because
// the periodic jobs will retry anyway.
func (c *Coordinator) Start(ctx context.Context) error {
	for _, domain := range c.Domains() {
		job := &pollJob{coordinator: c, domain: domain}
		interval := c.intervals[domain]
		// A tenth of the interval of jitter keeps same-cadence domains
		// from firing at the same instant.
		schedule := scheduler.NewJitteredSchedule(interval, interval/10)
		if err := c.scheduler.Register(job, schedule); err != nil {
			return fmt.Errorf("register %s poller: %w", domain, err)
		}
	}

	if err := c.scheduler.Start(ctx); err != nil {
		return err
	}

	for _, domain := range c.Domains() {
		if err := c.pollDomain(ctx, domain); err != nil {
			c.logger.Error("initial poll failed", "domain", string(domain), "error", err)
		}
	}
	return nil
}

// Stop gracefully stops the poll jobs. In-flight fetches run to
// completion; snapshot replacement is atomic, so shutdown never leaves a
// torn pair behind.
func (c *Coordinator) Stop() error {
	return c.scheduler.Stop()
}

// pollJob adapts one domain cycle to the scheduler's Job interface.
type pollJob struct {
	coordinator *Coordinator
	domain      snapshot.Domain
}

func (j *pollJob) Name() string {
	return "poll-" + string(j.domain)
}

func (j *pollJob) Description() string {
	return fmt.Sprintf("fetch and diff the %s domain for all tracked students", j.domain)
}

func (j *pollJob) Run(ctx context.Context) error {
	return j.coordinator.pollDomain(ctx, j.domain)
}

// ══════════════════════════════════════════════════════════════════════════════
// POLL CYCLE
// ══════════════════════════════════════════════════════════════════════════════

// pollDomain runs one cycle: fetch the domain for every tracked student
// with bounded concurrency, diff, store, publish. Per-student failures are
// recorded and do not touch the other students; an authentication failure
// cancels the remaining fetches since none of them can succeed.
func (c *Coordinator) pollDomain(ctx context.Context, domain snapshot.Domain) error {
	students := c.client.Students()
	if len(students) == 0 {
		return fmt.Errorf("poll %s: %w", domain, schulmanager.ErrNoEntitiesFound)
	}

	cycleID := uuid.NewString()
	started := time.Now()
	c.logger.Debug("poll cycle started",
		"cycle_id", cycleID, "domain", string(domain), "students", len(students))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.maxConcurrent)

	for _, st := range students {
		st := st
		group.Go(func() error {
			return c.pollOne(groupCtx, cycleID, domain, st.ID)
		})
	}

	err := group.Wait()
	c.logger.Debug("poll cycle finished",
		"cycle_id", cycleID, "domain", string(domain),
		"duration", time.Since(started).String(), "error", err)
	return err
}

// pollOne fetches one (student, domain) pair and installs the result.
// Returning a non-nil error aborts the whole cycle, so only authentication
// failures propagate; everything else is recorded against the pair.
func (c *Coordinator) pollOne(ctx context.Context, cycleID string, domain snapshot.Domain, id student.ID) error {
	snap, err := c.fetch(ctx, domain, id)
	if err != nil {
		c.store.RecordFailure(id, domain, err)

		var authErr *schulmanager.AuthError
		if errors.As(err, &authErr) || errors.Is(err, schulmanager.ErrInstitutionChoiceRequired) {
			return fmt.Errorf("poll %s for student %d: %w", domain, id, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}

		c.logger.Warn("fetch failed, keeping previous snapshot",
			"cycle_id", cycleID, "domain", string(domain),
			"student", int64(id), "error", err)
		return nil
	}

	changes := c.store.Replace(snap)
	c.publish(cycleID, snap, changes)

	if len(changes) > 0 {
		c.logger.Info("changes detected",
			"cycle_id", cycleID, "domain", string(domain),
			"student", int64(id), "count", len(changes))
	}
	return nil
}

// fetch dispatches to the client operation for the domain, computing the
// date window where the domain needs one.
func (c *Coordinator) fetch(ctx context.Context, domain snapshot.Domain, id student.ID) (snapshot.DomainSnapshot, error) {
	now := timeutil.Now()

	switch domain {
	case snapshot.DomainSchedule:
		start, end := timeutil.ScheduleWindow(now, c.scheduleWeeks)
		return c.client.Schedule(ctx, id, start, end)
	case snapshot.DomainHomework:
		return c.client.Homework(ctx, id)
	case snapshot.DomainExams:
		start, end := timeutil.ExamWindow(now, c.examWeeks)
		return c.client.Exams(ctx, id, start, end)
	case snapshot.DomainGrades:
		return c.client.Grades(ctx, id)
	case snapshot.DomainLetters:
		return c.client.Letters(ctx, id)
	default:
		return snapshot.DomainSnapshot{}, fmt.Errorf("unknown domain %q", domain)
	}
}

func (c *Coordinator) publish(cycleID string, snap snapshot.DomainSnapshot, changes []snapshot.ChangeRecord) {
	if c.bus == nil {
		return
	}

	if err := c.bus.Publish(SnapshotUpdatedEvent{
		CycleID:    cycleID,
		Student:    snap.Student,
		Domain:     snap.Domain,
		FetchedAt:  snap.FetchedAt,
		EntryCount: len(snap.Entries),
	}); err != nil {
		c.logger.Error("publish snapshot event", "error", err)
	}

	if len(changes) == 0 {
		return
	}
	if err := c.bus.Publish(ChangesDetectedEvent{
		CycleID:    cycleID,
		Student:    snap.Student,
		Domain:     snap.Domain,
		Changes:    changes,
		DetectedAt: time.Now(),
	}); err != nil {
		c.logger.Error("publish changes event", "error", err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// READ INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot returns the current snapshot of the pair, or ErrUnavailable when
// the pair has never fetched successfully.
func (c *Coordinator) Snapshot(id student.ID, domain snapshot.Domain) (snapshot.DomainSnapshot, error) {
	return c.store.Snapshot(id, domain)
}

// ChangesSince returns the diff computed at the pair's last successful
// fetch.
func (c *Coordinator) ChangesSince(id student.ID, domain snapshot.Domain) []snapshot.ChangeRecord {
	return c.store.Changes(id, domain)
}

// EntitySnapshot returns the student's current snapshots across every
// enabled domain as one consistent view. Domains that never fetched
// successfully are absent from the map.
func (c *Coordinator) EntitySnapshot(id student.ID) snapshot.EntitySnapshot {
	return c.store.EntitySnapshot(id, c.Domains())
}

// Status returns the health of the pair.
func (c *Coordinator) Status(id student.ID, domain snapshot.Domain) DomainStatus {
	return c.store.Status(id, domain)
}

// ListEntities returns the tracked students.
func (c *Coordinator) ListEntities() []student.Student {
	return c.client.Students()
}

// ForceRefresh polls outside the regular cadence. A zero student ID means
// all students; an empty domain means all enabled domains. The refresh runs
// synchronously and returns the first cycle error.
func (c *Coordinator) ForceRefresh(ctx context.Context, id student.ID, domain snapshot.Domain) error {
	domains := c.Domains()
	if domain != "" {
		if !domain.IsValid() {
			return fmt.Errorf("unknown domain %q", domain)
		}
		domains = []snapshot.Domain{domain}
	}

	for _, d := range domains {
		if id == 0 {
			if err := c.pollDomain(ctx, d); err != nil {
				return err
			}
			continue
		}
		cycleID := uuid.NewString()
		if err := c.pollOne(ctx, cycleID, d, id); err != nil {
			return err
		}
	}
	return nil
}
