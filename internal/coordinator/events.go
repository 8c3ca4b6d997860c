package coordinator

import (
	"time"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
	"github.com/schulmanager-hub/schulmanager-sync/internal/infrastructure/messaging"
)

// Event types published by the coordinator.
const (
	// EventSnapshotUpdated fires after every successful fetch, whether or
	// not anything changed.
	EventSnapshotUpdated messaging.EventType = "snapshot.updated"

	// EventChangesDetected fires only when the diff against the previous
	// snapshot is non-empty.
	EventChangesDetected messaging.EventType = "snapshot.changes"
)

// SnapshotUpdatedEvent announces a freshly installed snapshot.
type SnapshotUpdatedEvent struct {
	CycleID    string
	Student    student.ID
	Domain     snapshot.Domain
	FetchedAt  time.Time
	EntryCount int
}

func (e SnapshotUpdatedEvent) EventType() messaging.EventType {
	return EventSnapshotUpdated
}

func (e SnapshotUpdatedEvent) AggregateID() string {
	return e.Student.String()
}

func (e SnapshotUpdatedEvent) OccurredAt() time.Time {
	return e.FetchedAt
}

func (e SnapshotUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"cycle_id":    e.CycleID,
		"student_id":  int64(e.Student),
		"domain":      string(e.Domain),
		"entry_count": e.EntryCount,
	}
}

// ChangesDetectedEvent announces the diff of one (student, domain) pair.
type ChangesDetectedEvent struct {
	CycleID    string
	Student    student.ID
	Domain     snapshot.Domain
	Changes    []snapshot.ChangeRecord
	DetectedAt time.Time
}

func (e ChangesDetectedEvent) EventType() messaging.EventType {
	return EventChangesDetected
}

func (e ChangesDetectedEvent) AggregateID() string {
	return e.Student.String()
}

func (e ChangesDetectedEvent) OccurredAt() time.Time {
	return e.DetectedAt
}

func (e ChangesDetectedEvent) Payload() map[string]interface{} {
	descriptions := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		descriptions = append(descriptions, c.Describe())
	}
	return map[string]interface{}{
		"cycle_id":   e.CycleID,
		"student_id": int64(e.Student),
		"domain":     string(e.Domain),
		"count":      len(e.Changes),
		"changes":    descriptions,
	}
}
