package schulmanager

import (
	"encoding/json"
	"sort"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Roster is the set of students visible under one institution scope. It is
// rebuilt from scratch on every successful login; students are not assumed
// stable across institution switches. A roster is immutable once built.
type Roster struct {
	scope    student.InstitutionID
	students map[student.ID]student.Student
	raw      map[student.ID]json.RawMessage
}

// ResolveRoster extracts the trackable students from an institution-scoped
// login payload. Parent accounts carry children under associatedParents,
// student accounts carry themselves as associatedStudent; both shapes are
// accepted and duplicates (a parent who is also listed as the student) are
// collapsed by ID.
//
// A payload yielding zero students returns ErrNoEntitiesFound: a coordinator
// with nothing to poll is a configuration problem, not a quiet no-op.
func ResolveRoster(login *LoginResponse, scope student.InstitutionID, mapper *Mapper) (*Roster, error) {
	roster := &Roster{
		scope:    scope,
		students: make(map[student.ID]student.Student),
		raw:      make(map[student.ID]json.RawMessage),
	}

	add := func(dto *StudentDTO) {
		if dto == nil || dto.ID == 0 {
			return
		}
		id := student.ID(dto.ID)
		if _, seen := roster.students[id]; seen {
			return
		}
		roster.students[id] = mapper.StudentFromDTO(dto, scope)
		roster.raw[id] = dto.Raw()
	}

	for i := range login.User.AssociatedParents {
		add(login.User.AssociatedParents[i].Student)
	}
	add(login.User.AssociatedStudent)

	if len(roster.students) == 0 {
		return nil, ErrNoEntitiesFound
	}
	return roster, nil
}

// Scope returns the institution the roster was resolved under.
func (r *Roster) Scope() student.InstitutionID {
	return r.scope
}

// Contains reports whether the student is visible under this roster's
// scope.
func (r *Roster) Contains(id student.ID) bool {
	_, ok := r.students[id]
	return ok
}

// Get returns the student with the given ID.
func (r *Roster) Get(id student.ID) (student.Student, bool) {
	s, ok := r.students[id]
	return s, ok
}

// RawStudent returns the original login-payload JSON of the student. The
// schedule endpoint wants the complete object echoed back.
func (r *Roster) RawStudent(id student.ID) (json.RawMessage, bool) {
	raw, ok := r.raw[id]
	return raw, ok
}

// List returns all students ordered by ID.
func (r *Roster) List() []student.Student {
	students := make([]student.Student, 0, len(r.students))
	for _, s := range r.students {
		students = append(students, s)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })
	return students
}

// Len returns the number of students in the roster.
func (r *Roster) Len() int {
	return len(r.students)
}
