// Package student contains the domain model for tracked students and the
// institution scope they were discovered under. This is the core of the
// business logic - there are no external dependencies here.
package student

import (
	"fmt"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID is the upstream identifier of a tracked student.
type ID int64

// IsValid checks that the ID is positive.
func (id ID) IsValid() bool {
	return id > 0
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return fmt.Sprintf("%d", id)
}

// InstitutionID identifies the single school/account context a bearer token
// is valid for.
type InstitutionID int64

// IsValid checks that the InstitutionID is positive. Zero means "not yet
// selected" and is only legal before the first successful login.
func (id InstitutionID) IsValid() bool {
	return id > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Institution is one school revealed by a login response. Accounts spanning
// several schools see more than one and must pick exactly one before a token
// can be scoped.
type Institution struct {
	ID    InstitutionID
	Label string
}

// Student is a tracked entity whose data domains are polled. Students are
// discovered only as a side effect of a successful login and carry the
// institution scope of the login that produced them.
type Student struct {
	ID        ID
	FirstName string
	LastName  string
	ClassName string

	// Institution is the scope the student was discovered under. A student
	// discovered under institution A must never be queried with a token
	// scoped to institution B.
	Institution InstitutionID
}

// DisplayName returns the student's full name, falling back to the ID when
// the payload carried no name at all.
func (s Student) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name == "" {
		return "student " + s.ID.String()
	}
	return name
}

// BelongsTo reports whether the student was discovered under the given scope.
func (s Student) BelongsTo(scope InstitutionID) bool {
	return s.Institution == scope
}
