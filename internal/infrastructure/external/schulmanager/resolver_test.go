package schulmanager

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schulmanager-hub/schulmanager-sync/internal/domain/student"
)

func loginResponse(t *testing.T, body string) *LoginResponse {
	var resp LoginResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return &resp
}

func TestResolveRoster_ParentAccount(t *testing.T) {
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 1,
			"institutionId": 77,
			"associatedParents": [
				{"student": {"id": 502, "firstname": "Jonas", "lastname": "Berg", "className": "5a"}},
				{"student": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b"}}
			]
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)

	assert.Equal(t, student.InstitutionID(77), roster.Scope())
	assert.Equal(t, 2, roster.Len())
	assert.True(t, roster.Contains(501))
	assert.False(t, roster.Contains(999))

	st, ok := roster.Get(501)
	require.True(t, ok)
	assert.Equal(t, "Lena Berg", st.DisplayName())
	assert.Equal(t, student.InstitutionID(77), st.Institution)
}

func TestResolveRoster_StudentAccount(t *testing.T) {
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 501,
			"institutionId": 77,
			"associatedStudent": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b"}
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)
	assert.Equal(t, 1, roster.Len())
	assert.True(t, roster.Contains(501))
}

func TestResolveRoster_DuplicatesCollapseByID(t *testing.T) {
	// An account that is both a parent association and the student itself
	// yields the student once.
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 1,
			"institutionId": 77,
			"associatedParents": [
				{"student": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b"}}
			],
			"associatedStudent": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b"}
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)
	assert.Equal(t, 1, roster.Len())
}

func TestResolveRoster_EmptyPayload(t *testing.T) {
	resp := loginResponse(t, `{"jwt": "tok", "user": {"id": 1, "institutionId": 77}}`)

	_, err := ResolveRoster(resp, 77, NewMapper())
	assert.ErrorIs(t, err, ErrNoEntitiesFound)
}

func TestResolveRoster_NilAndZeroIDStudentsSkipped(t *testing.T) {
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 1,
			"institutionId": 77,
			"associatedParents": [
				{},
				{"student": {"id": 0, "firstname": "Ghost"}},
				{"student": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b"}}
			]
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)
	assert.Equal(t, 1, roster.Len())
}

func TestRoster_ListOrderedByID(t *testing.T) {
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 1,
			"institutionId": 77,
			"associatedParents": [
				{"student": {"id": 730, "firstname": "C"}},
				{"student": {"id": 501, "firstname": "A"}},
				{"student": {"id": 620, "firstname": "B"}}
			]
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)

	list := roster.List()
	require.Len(t, list, 3)
	assert.Equal(t, student.ID(501), list[0].ID)
	assert.Equal(t, student.ID(620), list[1].ID)
	assert.Equal(t, student.ID(730), list[2].ID)
}

func TestRoster_RawStudentPreservesUnmodeledFields(t *testing.T) {
	resp := loginResponse(t, `{
		"jwt": "tok",
		"user": {
			"id": 1,
			"institutionId": 77,
			"associatedParents": [
				{"student": {"id": 501, "firstname": "Lena", "lastname": "Berg", "className": "7b", "classId": 3301, "sex": "female"}}
			]
		}
	}`)

	roster, err := ResolveRoster(resp, 77, NewMapper())
	require.NoError(t, err)

	raw, ok := roster.RawStudent(501)
	require.True(t, ok)

	var echoed map[string]any
	require.NoError(t, json.Unmarshal(raw, &echoed))
	assert.EqualValues(t, 3301, echoed["classId"])
	assert.Equal(t, "female", echoed["sex"])
}
