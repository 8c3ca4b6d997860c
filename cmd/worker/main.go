// Package main is the entry point of the sync worker.
//
// The worker logs into the school platform with a parent or student
// account, resolves the students visible to it, and polls their data
// domains (schedule, homework, exams, letters, optionally grades) on
// independent cadences. Every successful poll is diffed against the
// previous snapshot and the changes are published on the event bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schulmanager-hub/schulmanager-sync/config"
	"github.com/schulmanager-hub/schulmanager-sync/internal/coordinator"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/external/schulmanager"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/messaging"
	"github.com/schulmanager-hub/schulmanager-sync/pkg/circuitbreaker"
	"github.com/schulmanager-hub/schulmanager-sync/pkg/retry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting schulmanager sync worker",
		"env", string(cfg.App.Environment),
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. AUTH SESSION
	// ─────────────────────────────────────────────────────────────────────────
	session := schulmanager.NewSession(schulmanager.SessionConfig{
		BaseURL:         cfg.Platform.BaseURL,
		EmailOrUsername: cfg.Credentials.EmailOrUsername,
		Password:        cfg.Credentials.Password,
		HTTPClient:      &http.Client{Timeout: cfg.Platform.RequestTimeout},
		Logger:          log,
	})

	authCtx, authCancel := context.WithTimeout(ctx, cfg.Platform.RequestTimeout)
	err = session.Authenticate(authCtx, student.InstitutionID(cfg.Credentials.InstitutionID))
	authCancel()
	if err != nil {
		var choice *schulmanager.InstitutionChoiceError
		if errors.As(err, &choice) {
			log.Error("account spans several institutions, set SCHULMANAGER_INSTITUTION_ID")
			for _, inst := range choice.Institutions {
				log.Info("available institution", "id", int64(inst.ID), "label", inst.Label)
			}
			return err
		}
		return fmt.Errorf("initial login failed: %w", err)
	}

	students := session.Roster().List()
	log.Info("login successful",
		"institution", int64(session.Institution()),
		"students", len(students),
	)
	for _, st := range students {
		log.Info("tracking student", "id", int64(st.ID), "name", st.DisplayName(), "class", st.ClassName)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. PLATFORM CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	client := schulmanager.NewClient(schulmanager.ClientConfig{
		Session: session,
		RateLimiterConfig: schulmanager.RateLimiterConfig{
			RequestsPerSecond: cfg.Platform.RequestsPerSecond,
			BurstSize:         cfg.Platform.RateLimitBurst,
		},
		BreakerConfig: circuitbreaker.Config{
			Name:             "schulmanager",
			FailureThreshold: cfg.Platform.CircuitBreakerThreshold,
			Timeout:          cfg.Platform.CircuitBreakerTimeout,
		},
		Retrier: retry.New(
			retry.WithMaxAttempts(cfg.Platform.MaxRetries),
			retry.WithInitialDelay(cfg.Platform.RetryBaseDelay),
			retry.WithMaxDelay(cfg.Platform.RetryMaxDelay),
			retry.WithJitter(0.2),
		),
		Logger: log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultEventBusConfig()
	busConfig.Logger = log
	bus := messaging.NewEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// Log every detected change; downstream consumers subscribe the same way.
	_ = bus.Subscribe(coordinator.EventChangesDetected, func(event messaging.Event) error {
		payload := event.Payload()
		log.Info("change batch",
			"student", event.AggregateID(),
			"domain", payload["domain"],
			"count", payload["count"],
		)
		return nil
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. POLLING COORDINATOR
	// ─────────────────────────────────────────────────────────────────────────
	coord, err := coordinator.New(coordinator.Config{
		Client: client,
		Bus:    bus,
		Logger: log,
		Intervals: map[snapshot.Domain]time.Duration{
			snapshot.DomainSchedule: cfg.Polling.ScheduleInterval,
			snapshot.DomainHomework: cfg.Polling.HomeworkInterval,
			snapshot.DomainExams:    cfg.Polling.ExamsInterval,
			snapshot.DomainGrades:   cfg.Polling.GradesInterval,
			snapshot.DomainLetters:  cfg.Polling.LettersInterval,
		},
		MaxConcurrent:          cfg.Polling.MaxConcurrent,
		EnableGrades:           cfg.Polling.EnableGrades,
		ScheduleLookaheadWeeks: cfg.Polling.ScheduleLookaheadWeeks,
		ExamLookaheadWeeks:     cfg.Polling.ExamLookaheadWeeks,
	})
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	log.Info("polling started", "domains", len(coord.Domains()))

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coord.Stop(); err != nil {
			log.Error("coordinator stop", "error", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(cfg.App.ShutdownTimeout):
		log.Warn("shutdown timeout exceeded, exiting anyway")
	}

	session.Logout()
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.App.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
