// Package snapshot contains the domain model for polled data snapshots and
// the structural diff between two successive snapshots of the same domain.
// This package has zero external dependencies.
package snapshot

import (
	"time"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAINS
// ══════════════════════════════════════════════════════════════════════════════

// Domain names one independently polled data domain of a student.
type Domain string

const (
	// DomainSchedule is the near-term lesson state (actual lessons).
	DomainSchedule Domain = "schedule"
	// DomainHomework is the list of homework assignments.
	DomainHomework Domain = "homework"
	// DomainExams is the list of upcoming exams and tests.
	DomainExams Domain = "exams"
	// DomainGrades is the list of recorded grades.
	DomainGrades Domain = "grades"
	// DomainLetters is the account-wide parent letters (Elternbriefe).
	DomainLetters Domain = "letters"
)

// AllDomains lists every domain in a stable order.
func AllDomains() []Domain {
	return []Domain{DomainSchedule, DomainHomework, DomainExams, DomainGrades, DomainLetters}
}

// IsValid checks that the domain is one of the known domains.
func (d Domain) IsValid() bool {
	switch d {
	case DomainSchedule, DomainHomework, DomainExams, DomainGrades, DomainLetters:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

// Kind classifies an entry within its domain.
type Kind string

const (
	// KindRegular is an unremarkable entry (a regular lesson, a plain
	// homework assignment, a grade).
	KindRegular Kind = "regularLesson"
	// KindSubstitution is a substituted lesson.
	KindSubstitution Kind = "substitution"
	// KindCancelled is a cancelled lesson.
	KindCancelled Kind = "cancelledLesson"
	// KindChanged is a lesson with a modified room, teacher or subject.
	KindChanged Kind = "changedLesson"
	// KindFreePeriod is a free period (no lesson scheduled).
	KindFreePeriod Kind = "freeHour"
)

// Date is a calendar date in ISO format (YYYY-MM-DD). Dates are kept as
// strings because the upstream platform keys everything by ISO date and the
// diff only ever compares them for equality and order.
type Date string

// Time parses the date at midnight UTC. The zero time is returned for
// malformed dates.
func (d Date) Time() time.Time {
	t, err := time.Parse("2006-01-02", string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// DateOf formats a time as a Date.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

// Entry is one item of a domain snapshot, keyed by (date, period) for
// diffing. Schedule entries use the class hour as the period; homework,
// letters and exams without a published class hour fold their upstream ID
// into the period so same-day items keep distinct keys. Grades use period
// zero and carry their identity in the date and subject fields.
type Entry struct {
	Date    Date
	Period  int
	Subject string
	Teacher string
	Room    string
	Kind    Kind
	Comment string
}

// Key identifies an entry for diffing purposes.
type Key struct {
	Date   Date
	Period int
}

// Key returns the (date, period) diff key of the entry.
func (e Entry) Key() Key {
	return Key{Date: e.Date, Period: e.Period}
}

// Equal reports whether two entries carry the same observable state. The key
// fields are not compared; callers only compare entries under the same key.
func (e Entry) Equal(other Entry) bool {
	return e.Subject == other.Subject &&
		e.Teacher == other.Teacher &&
		e.Room == other.Room &&
		e.Kind == other.Kind &&
		e.Comment == other.Comment
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

// DomainSnapshot is the state of one data domain for one student at a point
// in time. Snapshots are immutable once constructed.
type DomainSnapshot struct {
	Domain    Domain
	Student   student.ID
	FetchedAt time.Time
	Entries   []Entry
}

// IsEmpty reports whether the snapshot holds no entries. An empty snapshot
// is a successful fetch that returned nothing; it is distinct from a domain
// that never fetched successfully.
func (s DomainSnapshot) IsEmpty() bool {
	return len(s.Entries) == 0
}

// EntitySnapshot is the union of all domain snapshots for one student at one
// poll cycle. Domains that have not (yet) been fetched are absent from the
// map.
type EntitySnapshot struct {
	Student student.ID
	Taken   time.Time
	Domains map[Domain]DomainSnapshot
}
