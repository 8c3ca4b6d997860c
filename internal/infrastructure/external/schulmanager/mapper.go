package schulmanager

import (
	"strings"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to domain transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper transforms upstream DTOs into domain types. It is the
// anti-corruption layer keeping the rest of the system ignorant of the
// platform's wire shapes.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// StudentFromDTO converts a login-payload student, tagging it with the
// institution scope of the login that revealed it.
func (m *Mapper) StudentFromDTO(dto *StudentDTO, scope student.InstitutionID) student.Student {
	return student.Student{
		ID:          student.ID(dto.ID),
		FirstName:   dto.FirstName,
		LastName:    dto.LastName,
		ClassName:   dto.ClassName,
		Institution: scope,
	}
}

// InstitutionsFromDTO converts a multi-institution disambiguation list.
func (m *Mapper) InstitutionsFromDTO(dtos []InstitutionDTO) []student.Institution {
	institutions := make([]student.Institution, 0, len(dtos))
	for _, dto := range dtos {
		institutions = append(institutions, student.Institution{
			ID:    student.InstitutionID(dto.ID),
			Label: dto.Label,
		})
	}
	return institutions
}

// LessonsToEntries converts actual-lessons slots into schedule entries. The
// period index comes from the class hour; teachers are collapsed to their
// abbreviations, the form the platform itself renders in substitution plans.
func (m *Mapper) LessonsToEntries(lessons []LessonDTO) []snapshot.Entry {
	entries := make([]snapshot.Entry, 0, len(lessons))
	for _, lesson := range lessons {
		entry := snapshot.Entry{
			Date:    snapshot.Date(lesson.Date),
			Period:  int(lesson.ClassHour.Number),
			Kind:    lessonKind(lesson.Type),
			Comment: lesson.Comment,
		}
		if lesson.ActualLesson != nil {
			entry.Subject = lesson.ActualLesson.Subject.Name
			entry.Room = lesson.ActualLesson.Room.Name
			entry.Teacher = teacherAbbreviations(lesson.ActualLesson.Teachers)
		}
		entries = append(entries, entry)
	}
	return entries
}

// HomeworkToEntries converts homework assignments. The date is the due
// date; homework has no period index, so the assignment ID is folded in to
// keep several assignments due the same day under distinct diff keys.
func (m *Mapper) HomeworkToEntries(homeworks []HomeworkDTO) []snapshot.Entry {
	entries := make([]snapshot.Entry, 0, len(homeworks))
	for _, hw := range homeworks {
		entries = append(entries, snapshot.Entry{
			Date:    snapshot.Date(hw.Date),
			Period:  int(hw.ID),
			Subject: hw.Subject,
			Kind:    snapshot.KindRegular,
			Comment: hw.Homework,
		})
	}
	return entries
}

// ExamsToEntries converts exams; the period index is the starting class
// hour when the school publishes one, otherwise the exam ID keeps same-day
// exams under distinct diff keys.
func (m *Mapper) ExamsToEntries(exams []ExamDTO) []snapshot.Entry {
	entries := make([]snapshot.Entry, 0, len(exams))
	for _, exam := range exams {
		period := int(exam.ID)
		if exam.StartClassHour != nil {
			period = int(exam.StartClassHour.Number)
		}
		entries = append(entries, snapshot.Entry{
			Date:    snapshot.Date(exam.Date),
			Period:  period,
			Subject: exam.SubjectName(),
			Kind:    snapshot.KindRegular,
			Comment: exam.Comment,
		})
	}
	return entries
}

// GradesToEntries converts recorded grades. The grade value travels in the
// comment field so a modified record shows the before/after values.
func (m *Mapper) GradesToEntries(grades []GradeDTO) []snapshot.Entry {
	entries := make([]snapshot.Entry, 0, len(grades))
	for _, g := range grades {
		entries = append(entries, snapshot.Entry{
			Date:    snapshot.Date(g.Date),
			Subject: g.Subject,
			Kind:    snapshot.KindRegular,
			Comment: strings.TrimSpace(g.Value + " " + g.Kind),
		})
	}
	return entries
}

// LettersToEntries converts account-wide parent letters. The letter ID is
// folded into the period index so two letters published the same day keep
// distinct diff keys.
func (m *Mapper) LettersToEntries(letters []LetterDTO) []snapshot.Entry {
	entries := make([]snapshot.Entry, 0, len(letters))
	for _, l := range letters {
		title := l.Title
		if title == "" {
			title = l.Subject
		}
		date := l.CreatedAt
		if len(date) > 10 {
			date = date[:10]
		}
		entries = append(entries, snapshot.Entry{
			Date:    snapshot.Date(date),
			Period:  int(l.ID),
			Subject: title,
			Kind:    snapshot.KindRegular,
		})
	}
	return entries
}

// lessonKind maps the platform's lesson type strings onto entry kinds.
// Unknown types degrade to regular rather than failing the whole snapshot.
func lessonKind(lessonType string) snapshot.Kind {
	switch lessonType {
	case "substitution":
		return snapshot.KindSubstitution
	case "cancelledLesson":
		return snapshot.KindCancelled
	case "changedLesson":
		return snapshot.KindChanged
	case "freeHour":
		return snapshot.KindFreePeriod
	default:
		return snapshot.KindRegular
	}
}

func teacherAbbreviations(teachers []TeacherDTO) string {
	abbrevs := make([]string, 0, len(teachers))
	for _, t := range teachers {
		if t.Abbreviation != "" {
			abbrevs = append(abbrevs, t.Abbreviation)
			continue
		}
		name := strings.TrimSpace(t.FirstName + " " + t.LastName)
		if name != "" {
			abbrevs = append(abbrevs, name)
		}
	}
	return strings.Join(abbrevs, ", ")
}
