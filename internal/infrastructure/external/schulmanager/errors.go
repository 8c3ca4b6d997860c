package schulmanager

import (
	"errors"
	"fmt"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/snapshot"
	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR TAXONOMY
// ══════════════════════════════════════════════════════════════════════════════

// Sentinel errors for errors.Is() checking.
var (
	// ErrNoEntitiesFound is returned when a successful login yields zero
	// trackable students. A coordinator with nothing to poll points at a
	// configuration problem, so this is reported, never tolerated silently.
	ErrNoEntitiesFound = errors.New("no students found in login payload")

	// ErrNoToken is returned when an operation needs a token and none is
	// held.
	ErrNoToken = errors.New("no bearer token held")

	// ErrEmptySalt is returned when the salt endpoint answers 200 with an
	// empty body.
	ErrEmptySalt = errors.New("no salt received")

	// ErrInstitutionChoiceRequired matches InstitutionChoiceError via
	// errors.Is for callers that only care about the condition, not the
	// institution list.
	ErrInstitutionChoiceRequired = errors.New("institution selection required")
)

// HashingError reports malformed credential material handed to the hasher.
// It is fatal for the login attempt; there is no retry.
type HashingError struct {
	Reason string
}

func (e *HashingError) Error() string {
	return "credential hashing failed: " + e.Reason
}

// AuthError reports a rejected salt or login request, or a renewal that
// failed twice. Callers decide whether to re-prompt for credentials; the
// client never loops on it.
type AuthError struct {
	// Step is the authentication phase that failed: "salt", "login" or
	// "renewal".
	Step   string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed at %s (status %d): %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("authentication failed at %s (status %d)", e.Step, e.Status)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// EntityNotFoundError reports a request for a student outside the currently
// authenticated institution scope. The guard fires before any network I/O.
type EntityNotFoundError struct {
	Student student.ID
	Scope   student.InstitutionID
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("student %d is not visible under institution scope %d", e.Student, e.Scope)
}

// APICallError reports a deterministic rejection of a well-formed
// authenticated request. Such rejections (bad parameters, unsupported date
// range, permission denial) are surfaced without retry.
type APICallError struct {
	Status  int
	Domain  snapshot.Domain
	Student student.ID
}

func (e *APICallError) Error() string {
	return fmt.Sprintf("%s request for student %d rejected with status %d", e.Domain, e.Student, e.Status)
}

// InstitutionChoiceError is returned when the account spans several schools
// and the login endpoint answered with a disambiguation payload instead of a
// token. The caller must pick one institution and authenticate again with an
// explicit scope.
type InstitutionChoiceError struct {
	Institutions []student.Institution
}

func (e *InstitutionChoiceError) Error() string {
	return fmt.Sprintf("account spans %d institutions, explicit selection required", len(e.Institutions))
}

func (e *InstitutionChoiceError) Is(target error) bool {
	return target == ErrInstitutionChoiceRequired
}
