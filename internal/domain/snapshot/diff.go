package snapshot

import (
	"fmt"
	"sort"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// ChangeType classifies a single difference between two snapshots.
type ChangeType string

const (
	// ChangeAdded marks an entry present only in the new snapshot.
	ChangeAdded ChangeType = "added"
	// ChangeRemoved marks an entry present only in the previous snapshot.
	ChangeRemoved ChangeType = "removed"
	// ChangeModified marks an entry whose observable state differs between
	// the two snapshots under the same (date, period) key.
	ChangeModified ChangeType = "modified"
)

// FieldChange records one differing field of a modified entry.
type FieldChange struct {
	Field    string
	Previous string
	Current  string
}

// ChangeRecord describes one difference between two successive domain
// snapshots of the same student. It carries enough context to render a
// human-readable description without access to the snapshots themselves.
type ChangeRecord struct {
	Type    ChangeType
	Domain  Domain
	Student student.ID
	Date    Date
	Period  int

	// Previous is nil for added entries; Current is nil for removed ones.
	Previous *Entry
	Current  *Entry

	// Fields lists the differing fields of a modified entry.
	Fields []FieldChange
}

// Describe renders a short human-readable description of the change.
func (c ChangeRecord) Describe() string {
	switch c.Type {
	case ChangeAdded:
		return fmt.Sprintf("%s %s period %d: added %s", c.Domain, c.Date, c.Period, c.Current.Subject)
	case ChangeRemoved:
		return fmt.Sprintf("%s %s period %d: removed %s", c.Domain, c.Date, c.Period, c.Previous.Subject)
	case ChangeModified:
		fields := make([]string, 0, len(c.Fields))
		for _, f := range c.Fields {
			fields = append(fields, fmt.Sprintf("%s %q -> %q", f.Field, f.Previous, f.Current))
		}
		desc := fmt.Sprintf("%s %s period %d: %s changed", c.Domain, c.Date, c.Period, c.Current.Subject)
		for i, f := range fields {
			if i == 0 {
				desc += " (" + f
			} else {
				desc += ", " + f
			}
		}
		if len(fields) > 0 {
			desc += ")"
		}
		return desc
	default:
		return string(c.Type)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DIFF
// ══════════════════════════════════════════════════════════════════════════════

// Diff computes the structural difference between a previous and a current
// domain snapshot. Entries are matched by (date, period) key; a matched pair
// with differing subject, teacher, room, kind or comment yields a modified
// record, an unmatched new key yields added, an unmatched prior key yields
// removed. The result is ordered by date, period and change type so that
// consumers see a stable sequence.
//
// When the upstream delivers several entries under the same key the last one
// wins, mirroring the platform's own rendering.
func Diff(previous, current DomainSnapshot) []ChangeRecord {
	prevByKey := entryIndex(previous.Entries)
	currByKey := entryIndex(current.Entries)

	changes := make([]ChangeRecord, 0)

	for key, curr := range currByKey {
		prev, existed := prevByKey[key]
		if !existed {
			c := curr
			changes = append(changes, ChangeRecord{
				Type:    ChangeAdded,
				Domain:  current.Domain,
				Student: current.Student,
				Date:    key.Date,
				Period:  key.Period,
				Current: &c,
			})
			continue
		}
		if curr.Equal(prev) {
			continue
		}
		p, c := prev, curr
		changes = append(changes, ChangeRecord{
			Type:     ChangeModified,
			Domain:   current.Domain,
			Student:  current.Student,
			Date:     key.Date,
			Period:   key.Period,
			Previous: &p,
			Current:  &c,
			Fields:   fieldChanges(prev, curr),
		})
	}

	for key, prev := range prevByKey {
		if _, stillThere := currByKey[key]; stillThere {
			continue
		}
		p := prev
		changes = append(changes, ChangeRecord{
			Type:     ChangeRemoved,
			Domain:   current.Domain,
			Student:  current.Student,
			Date:     key.Date,
			Period:   key.Period,
			Previous: &p,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Date != changes[j].Date {
			return changes[i].Date < changes[j].Date
		}
		if changes[i].Period != changes[j].Period {
			return changes[i].Period < changes[j].Period
		}
		return changes[i].Type < changes[j].Type
	})

	return changes
}

func entryIndex(entries []Entry) map[Key]Entry {
	index := make(map[Key]Entry, len(entries))
	for _, e := range entries {
		index[e.Key()] = e
	}
	return index
}

func fieldChanges(prev, curr Entry) []FieldChange {
	fields := make([]FieldChange, 0, 5)
	compare := func(name, before, after string) {
		if before != after {
			fields = append(fields, FieldChange{Field: name, Previous: before, Current: after})
		}
	}
	compare("subject", prev.Subject, curr.Subject)
	compare("teacher", prev.Teacher, curr.Teacher)
	compare("room", prev.Room, curr.Room)
	compare("kind", string(prev.Kind), string(curr.Kind))
	compare("comment", prev.Comment, curr.Comment)
	return fields
}
