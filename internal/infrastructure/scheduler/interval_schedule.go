package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// JitteredSchedule wraps a fixed interval with a random offset so that
// several domain pollers with the same cadence do not all hit the platform
// at the same instant.
type JitteredSchedule struct {
	Interval time.Duration
	Jitter   time.Duration
}

// NewJitteredSchedule creates a schedule with up to jitter of random delay
// added to each interval.
func NewJitteredSchedule(interval, jitter time.Duration) *JitteredSchedule {
	if jitter < 0 {
		jitter = 0
	}
	return &JitteredSchedule{Interval: interval, Jitter: jitter}
}

// Next returns the next scheduled time.
func (s *JitteredSchedule) Next(t time.Time) time.Time {
	next := t.Add(s.Interval)
	if s.Jitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(s.Jitter))))
	}
	return next
}

// String returns the string representation of the schedule.
func (s *JitteredSchedule) String() string {
	if s.Jitter > 0 {
		return fmt.Sprintf("@every %s (jitter %s)", s.Interval, s.Jitter)
	}
	return fmt.Sprintf("@every %s", s.Interval)
}
