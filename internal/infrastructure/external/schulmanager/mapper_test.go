package schulmanager

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
)

func TestLessonsToEntries_KindMapping(t *testing.T) {
	mapper := NewMapper()

	cases := map[string]snapshot.Kind{
		"regularLesson":   snapshot.KindRegular,
		"substitution":    snapshot.KindSubstitution,
		"cancelledLesson": snapshot.KindCancelled,
		"changedLesson":   snapshot.KindChanged,
		"freeHour":        snapshot.KindFreePeriod,
		"somethingNew":    snapshot.KindRegular,
	}
	for lessonType, want := range cases {
		entries := mapper.LessonsToEntries([]LessonDTO{{Date: "2026-03-02", Type: lessonType}})
		require.Len(t, entries, 1)
		assert.Equal(t, want, entries[0].Kind, "type %q", lessonType)
	}
}

func TestLessonsToEntries_CancelledLessonHasNoActualLesson(t *testing.T) {
	entries := NewMapper().LessonsToEntries([]LessonDTO{{
		Date:      "2026-03-02",
		Type:      "cancelledLesson",
		Comment:   "Klassenfahrt",
		ClassHour: ClassHourDTO{Number: 4},
	}})

	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].Period)
	assert.Empty(t, entries[0].Subject)
	assert.Equal(t, "Klassenfahrt", entries[0].Comment)
}

func TestTeacherAbbreviations(t *testing.T) {
	assert.Equal(t, "MUE, SCH", teacherAbbreviations([]TeacherDTO{
		{Abbreviation: "MUE"},
		{Abbreviation: "SCH"},
	}))

	// Falls back to the full name when no abbreviation is published.
	assert.Equal(t, "Eva Müller", teacherAbbreviations([]TeacherDTO{
		{FirstName: "Eva", LastName: "Müller"},
	}))

	assert.Empty(t, teacherAbbreviations(nil))
}

func TestExamsToEntries_SubjectShapes(t *testing.T) {
	mapper := NewMapper()

	entries := mapper.ExamsToEntries([]ExamDTO{
		{Date: "2026-03-20", Subject: json.RawMessage(`"Mathematik"`)},
		{Date: "2026-03-21", Subject: json.RawMessage(`{"name":"Physik","abbreviation":"PH"}`)},
		{Date: "2026-03-22"},
	})

	require.Len(t, entries, 3)
	assert.Equal(t, "Mathematik", entries[0].Subject)
	assert.Equal(t, "Physik", entries[1].Subject)
	assert.Empty(t, entries[2].Subject)
}

func TestExamsToEntries_StartClassHour(t *testing.T) {
	entries := NewMapper().ExamsToEntries([]ExamDTO{
		{ID: 71, Date: "2026-03-20", StartClassHour: &ClassHourDTO{Number: 2}},
		{ID: 72, Date: "2026-03-20"},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].Period)
	// Without a published class hour the exam ID keys the entry.
	assert.Equal(t, 72, entries[1].Period)
}

func TestHomeworkToEntries_SameDayAssignmentsKeepDistinctKeys(t *testing.T) {
	entries := NewMapper().HomeworkToEntries([]HomeworkDTO{
		{ID: 31, Date: "2026-09-01", Subject: "Englisch", Homework: "essay"},
		{ID: 32, Date: "2026-09-01", Subject: "Mathe", Homework: "S. 12"},
	})

	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].Key(), entries[1].Key())
}

func TestHomeworkToEntries_ReorderingIsNotAChange(t *testing.T) {
	mapper := NewMapper()
	first := []HomeworkDTO{
		{ID: 31, Date: "2026-09-01", Subject: "Englisch", Homework: "essay"},
		{ID: 32, Date: "2026-09-01", Subject: "Mathe", Homework: "S. 12"},
	}
	reordered := []HomeworkDTO{first[1], first[0]}

	prev := snapshot.DomainSnapshot{
		Domain:  snapshot.DomainHomework,
		Student: 501,
		Entries: mapper.HomeworkToEntries(first),
	}
	curr := snapshot.DomainSnapshot{
		Domain:  snapshot.DomainHomework,
		Student: 501,
		Entries: mapper.HomeworkToEntries(reordered),
	}

	assert.Empty(t, snapshot.Diff(prev, curr), "reordering identical assignments is not a change")
}

func TestGradesToEntries_ValueInComment(t *testing.T) {
	entries := NewMapper().GradesToEntries([]GradeDTO{
		{Date: "2026-03-10", Subject: "Mathe", Value: "2+", Kind: "Klassenarbeit"},
		{Date: "2026-03-11", Subject: "Sport", Value: "1"},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, "2+ Klassenarbeit", entries[0].Comment)
	assert.Equal(t, "1", entries[1].Comment)
}

func TestLettersToEntries(t *testing.T) {
	entries := NewMapper().LettersToEntries([]LetterDTO{
		{ID: 11, Title: "Elternabend", CreatedAt: "2026-02-20T08:00:00.000Z"},
		{ID: 12, Subject: "Schulfest", CreatedAt: "2026-02-20T12:00:00.000Z"},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, snapshot.Date("2026-02-20"), entries[0].Date)
	assert.Equal(t, "Elternabend", entries[0].Subject)
	// Subject fills in when no title is published.
	assert.Equal(t, "Schulfest", entries[1].Subject)
	// The letter ID keeps same-day letters under distinct diff keys.
	assert.NotEqual(t, entries[0].Key(), entries[1].Key())
}

func TestHomeworkPayload_AcceptsBothShapes(t *testing.T) {
	bare := []byte(`[{"id":1,"date":"2026-03-05","subject":"Mathe","homework":"S. 42"}]`)
	wrapped := []byte(`{"homeworks":[{"id":1,"date":"2026-03-05","subject":"Mathe","homework":"S. 42"}]}`)

	var fromBare, fromWrapped homeworkPayload
	require.NoError(t, json.Unmarshal(bare, &fromBare))
	require.NoError(t, json.Unmarshal(wrapped, &fromWrapped))

	assert.Equal(t, fromBare.Homeworks, fromWrapped.Homeworks)
	require.Len(t, fromBare.Homeworks, 1)
	assert.Equal(t, "S. 42", fromBare.Homeworks[0].Homework)
}

func TestFlexInt_AcceptsNumberAndString(t *testing.T) {
	var hour ClassHourDTO
	require.NoError(t, json.Unmarshal([]byte(`{"number":"3"}`), &hour))
	assert.EqualValues(t, 3, hour.Number)

	require.NoError(t, json.Unmarshal([]byte(`{"number":4}`), &hour))
	assert.EqualValues(t, 4, hour.Number)

	require.NoError(t, json.Unmarshal([]byte(`{"number":null}`), &hour))
	assert.EqualValues(t, 0, hour.Number)
}
