package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(entries ...Entry) DomainSnapshot {
	return DomainSnapshot{
		Domain:    DomainSchedule,
		Student:   42,
		FetchedAt: time.Now(),
		Entries:   entries,
	}
}

func lesson(date Date, period int, subject string) Entry {
	return Entry{
		Date:    date,
		Period:  period,
		Subject: subject,
		Teacher: "MUE",
		Room:    "A113",
		Kind:    KindRegular,
	}
}

func TestDiff_NoChanges(t *testing.T) {
	previous := snap(lesson("2026-03-02", 1, "Mathe"), lesson("2026-03-02", 2, "Deutsch"))
	current := snap(lesson("2026-03-02", 1, "Mathe"), lesson("2026-03-02", 2, "Deutsch"))

	assert.Empty(t, Diff(previous, current))
}

func TestDiff_AddedEntry(t *testing.T) {
	previous := snap(lesson("2026-03-02", 1, "Mathe"))
	current := snap(lesson("2026-03-02", 1, "Mathe"), lesson("2026-03-02", 3, "Sport"))

	changes := Diff(previous, current)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, ChangeAdded, change.Type)
	assert.Equal(t, Date("2026-03-02"), change.Date)
	assert.Equal(t, 3, change.Period)
	assert.Nil(t, change.Previous)
	require.NotNil(t, change.Current)
	assert.Equal(t, "Sport", change.Current.Subject)
}

func TestDiff_RemovedEntry(t *testing.T) {
	previous := snap(lesson("2026-03-02", 1, "Mathe"), lesson("2026-03-02", 2, "Deutsch"))
	current := snap(lesson("2026-03-02", 1, "Mathe"))

	changes := Diff(previous, current)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, ChangeRemoved, change.Type)
	assert.Equal(t, 2, change.Period)
	assert.Nil(t, change.Current)
	require.NotNil(t, change.Previous)
	assert.Equal(t, "Deutsch", change.Previous.Subject)
}

func TestDiff_ModifiedEntry_ExactlyOneRecord(t *testing.T) {
	previous := snap(lesson("2026-03-02", 1, "Mathe"))

	modified := lesson("2026-03-02", 1, "Mathe")
	modified.Room = "B201"
	modified.Kind = KindChanged
	current := snap(modified)

	changes := Diff(previous, current)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, ChangeModified, change.Type)
	require.NotNil(t, change.Previous)
	require.NotNil(t, change.Current)
	assert.Equal(t, "A113", change.Previous.Room)
	assert.Equal(t, "B201", change.Current.Room)

	require.Len(t, change.Fields, 2)
	fieldNames := []string{change.Fields[0].Field, change.Fields[1].Field}
	assert.Contains(t, fieldNames, "room")
	assert.Contains(t, fieldNames, "kind")
}

func TestDiff_CommentChangeIsModification(t *testing.T) {
	previous := snap(lesson("2026-03-02", 4, "Physik"))

	withComment := lesson("2026-03-02", 4, "Physik")
	withComment.Comment = "Raumänderung"
	current := snap(withComment)

	changes := Diff(previous, current)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeModified, changes[0].Type)
	require.Len(t, changes[0].Fields, 1)
	assert.Equal(t, "comment", changes[0].Fields[0].Field)
}

func TestDiff_SamePeriodDifferentDaysAreDistinctKeys(t *testing.T) {
	previous := snap(lesson("2026-03-02", 1, "Mathe"))
	current := snap(lesson("2026-03-03", 1, "Mathe"))

	changes := Diff(previous, current)
	require.Len(t, changes, 2)

	// Ordered by date: the removal on 03-02 precedes the addition on 03-03.
	assert.Equal(t, ChangeRemoved, changes[0].Type)
	assert.Equal(t, Date("2026-03-02"), changes[0].Date)
	assert.Equal(t, ChangeAdded, changes[1].Type)
	assert.Equal(t, Date("2026-03-03"), changes[1].Date)
}

func TestDiff_StableOrdering(t *testing.T) {
	previous := snap(
		lesson("2026-03-04", 2, "Bio"),
		lesson("2026-03-02", 5, "Kunst"),
	)
	current := snap(
		lesson("2026-03-02", 1, "Mathe"),
		lesson("2026-03-04", 3, "Chemie"),
	)

	changes := Diff(previous, current)
	require.Len(t, changes, 4)

	for i := 1; i < len(changes); i++ {
		prev, curr := changes[i-1], changes[i]
		if prev.Date == curr.Date {
			assert.LessOrEqual(t, prev.Period, curr.Period)
		} else {
			assert.Less(t, string(prev.Date), string(curr.Date))
		}
	}
}

func TestDiff_EmptyPrevious_AllAdded(t *testing.T) {
	previous := snap()
	current := snap(lesson("2026-03-02", 1, "Mathe"), lesson("2026-03-02", 2, "Deutsch"))

	changes := Diff(previous, current)
	require.Len(t, changes, 2)
	for _, change := range changes {
		assert.Equal(t, ChangeAdded, change.Type)
	}
}

func TestDiff_DuplicateKeyLastWins(t *testing.T) {
	first := lesson("2026-03-02", 1, "Mathe")
	second := lesson("2026-03-02", 1, "Vertretung")

	previous := snap(first)
	current := snap(first, second)

	changes := Diff(previous, current)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeModified, changes[0].Type)
	assert.Equal(t, "Vertretung", changes[0].Current.Subject)
}

func TestEntry_EqualIgnoresKeyFields(t *testing.T) {
	a := lesson("2026-03-02", 1, "Mathe")
	b := lesson("2026-03-09", 4, "Mathe")

	// Same observable state under different keys still compares equal; the
	// diff only compares entries matched under one key.
	assert.True(t, a.Equal(b))
}
