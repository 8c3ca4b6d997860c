// Package schulmanager implements the Schulmanager Online API client.
// This package handles all communication with the platform: salted-hash
// login, bearer-token lifecycle, and the batched /api/calls endpoint that
// serves schedules, homework, exams, grades and letters.
package schulmanager

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// saltRequest is the body of the get-salt call. MobileApp is always false:
// the platform issues different salts to its mobile clients.
type saltRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	MobileApp       bool   `json:"mobileApp"`
	InstitutionID   *int64 `json:"institutionId"`
}

// loginRequest is the body of the login call. The platform wants both the
// plaintext password and the derived hash.
type loginRequest struct {
	EmailOrUsername string `json:"emailOrUsername"`
	Password        string `json:"password"`
	Hash            string `json:"hash"`
	MobileApp       bool   `json:"mobileApp"`
	InstitutionID   *int64 `json:"institutionId"`
}

// InstitutionDTO is one school in a multi-institution disambiguation
// payload.
type InstitutionDTO struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// LoginResponse is the login endpoint's answer. Exactly one of two shapes
// arrives: a token-bearing payload with the user object, or a
// disambiguation payload listing MultipleAccounts and no token.
type LoginResponse struct {
	// JWT and Token are alternative spellings of the bearer; the platform
	// has used both.
	JWT   string `json:"jwt"`
	Token string `json:"token"`

	User UserDTO `json:"user"`

	MultipleAccounts []InstitutionDTO `json:"multipleAccounts"`
}

// BearerToken returns whichever token field the response carried.
func (r *LoginResponse) BearerToken() string {
	if r.JWT != "" {
		return r.JWT
	}
	return r.Token
}

// UserDTO is the account holder in a login payload. Parent accounts list
// their children under AssociatedParents; student accounts carry themselves
// as AssociatedStudent. Both shapes may be present at once.
type UserDTO struct {
	ID                int64       `json:"id"`
	InstitutionID     int64       `json:"institutionId"`
	AssociatedParents []ParentDTO `json:"associatedParents"`
	AssociatedStudent *StudentDTO `json:"associatedStudent"`
}

// ParentDTO is one parent association wrapping a student.
type ParentDTO struct {
	Student *StudentDTO `json:"student"`
}

// StudentDTO is a student as embedded in the login payload. The raw JSON is
// retained because the schedule endpoint wants the complete student object
// echoed back, including fields this client does not model.
type StudentDTO struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	ClassName string `json:"className"`

	raw json.RawMessage
}

// UnmarshalJSON captures the raw message alongside the typed fields.
func (s *StudentDTO) UnmarshalJSON(data []byte) error {
	type plain StudentDTO
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = StudentDTO(p)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the original JSON of the student object as received at login.
func (s *StudentDTO) Raw() json.RawMessage {
	return s.raw
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH CALL DTOs
// ══════════════════════════════════════════════════════════════════════════════

// moduleRequest is one named operation inside a batch call. ModuleName is a
// pointer because the platform's own client sends null for a few endpoints
// (notification probes).
type moduleRequest struct {
	ModuleName   *string `json:"moduleName"`
	EndpointName string  `json:"endpointName"`
	Parameters   any     `json:"parameters,omitempty"`
}

// batchRequest is the body of every /api/calls request. BundleVersion is
// mandatory; calls without the current value are rejected.
type batchRequest struct {
	BundleVersion string          `json:"bundleVersion"`
	Requests      []moduleRequest `json:"requests"`
}

// batchResponse wraps the per-operation results of a batch call.
type batchResponse struct {
	Results []moduleResult `json:"results"`
}

// moduleResult is one operation's outcome. Status mirrors an HTTP status
// code; Data holds the payload on 200.
type moduleResult struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN PAYLOAD DTOs
// ══════════════════════════════════════════════════════════════════════════════

// FlexInt tolerates the platform's habit of sending numbers as either JSON
// numbers or quoted strings.
type FlexInt int

// UnmarshalJSON accepts 3, "3" and null.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// ClassHourDTO is a period slot. From/Until are wall-clock strings the
// platform derives from its own tables; the period number is the
// authoritative index.
type ClassHourDTO struct {
	Number FlexInt `json:"number"`
	From   string  `json:"from"`
	Until  string  `json:"until"`
}

// SubjectDTO names a subject.
type SubjectDTO struct {
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

// RoomDTO names a room.
type RoomDTO struct {
	Name string `json:"name"`
}

// TeacherDTO is one teacher reference on a lesson.
type TeacherDTO struct {
	FirstName    string `json:"firstname"`
	LastName     string `json:"lastname"`
	Abbreviation string `json:"abbreviation"`
}

// ActualLessonDTO is the lesson actually taking place in a slot, after
// substitutions are applied.
type ActualLessonDTO struct {
	LessonID int64        `json:"lessonId"`
	Subject  SubjectDTO   `json:"subject"`
	Room     RoomDTO      `json:"room"`
	Teachers []TeacherDTO `json:"teachers"`
}

// LessonDTO is one slot of the actual-lessons schedule.
type LessonDTO struct {
	Date         string           `json:"date"`
	Type         string           `json:"type"`
	Comment      string           `json:"comment"`
	ClassHour    ClassHourDTO     `json:"classHour"`
	ActualLesson *ActualLessonDTO `json:"actualLesson"`
}

// HomeworkDTO is one homework assignment from the classbook module. Date is
// the due date.
type HomeworkDTO struct {
	ID       int64  `json:"id"`
	Date     string `json:"date"`
	Subject  string `json:"subject"`
	Homework string `json:"homework"`
}

// ExamDTO is one exam or test. Subject arrives as an object or a bare
// string depending on the school's configuration.
type ExamDTO struct {
	ID             int64           `json:"id"`
	Date           string          `json:"date"`
	Subject        json.RawMessage `json:"subject"`
	StartClassHour *ClassHourDTO   `json:"startClassHour"`
	Comment        string          `json:"comment"`
}

// SubjectName resolves the subject field regardless of its shape.
func (e *ExamDTO) SubjectName() string {
	if len(e.Subject) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(e.Subject, &asString); err == nil {
		return asString
	}
	var asObject SubjectDTO
	if err := json.Unmarshal(e.Subject, &asObject); err == nil {
		return asObject.Name
	}
	return ""
}

// GradeDTO is one recorded grade.
type GradeDTO struct {
	Date    string `json:"date"`
	Subject string `json:"subject"`
	Value   string `json:"value"`
	Kind    string `json:"kind"`
}

// LetterDTO is one parent letter. Letters are account-wide, not
// per-student.
type LetterDTO struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

// homeworkPayload tolerates the two shapes the classbook endpoint has used:
// a bare array and an object wrapping a homeworks array.
type homeworkPayload struct {
	Homeworks []HomeworkDTO
}

func (p *homeworkPayload) UnmarshalJSON(data []byte) error {
	var list []HomeworkDTO
	if err := json.Unmarshal(data, &list); err == nil {
		p.Homeworks = list
		return nil
	}
	var wrapped struct {
		Homeworks []HomeworkDTO `json:"homeworks"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	p.Homeworks = wrapped.Homeworks
	return nil
}

// examsPayload tolerates a bare array and an object wrapping an exams
// array.
type examsPayload struct {
	Exams []ExamDTO
}

func (p *examsPayload) UnmarshalJSON(data []byte) error {
	var list []ExamDTO
	if err := json.Unmarshal(data, &list); err == nil {
		p.Exams = list
		return nil
	}
	var wrapped struct {
		Exams []ExamDTO `json:"exams"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	p.Exams = wrapped.Exams
	return nil
}

// gradesPayload tolerates a bare array and an object wrapping a grades
// array.
type gradesPayload struct {
	Grades []GradeDTO
}

func (p *gradesPayload) UnmarshalJSON(data []byte) error {
	var list []GradeDTO
	if err := json.Unmarshal(data, &list); err == nil {
		p.Grades = list
		return nil
	}
	var wrapped struct {
		Grades []GradeDTO `json:"grades"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	p.Grades = wrapped.Grades
	return nil
}
