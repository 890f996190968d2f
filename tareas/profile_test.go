package tareas

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func newTrackedProfile(t *testing.T, email string) (*ProfileTracker, *StoreApi, string) {
	ts := startSim(t)
	byJwt := registerUser(t, ts, email)
	identity := NewTokenIdentity(byJwt)
	userId, _ := identity.CurrentUserId()

	api := NewStoreApi(ts.URL)
	t.Cleanup(api.Close)
	api.SetByJwt(byJwt)

	tracker := NewProfileTracker(api, identity)
	return tracker, api, userId
}

func TestProfileLoadCapturesBaseline(t *testing.T) {
	tracker, _, _ := newTrackedProfile(t, "load@example.com")

	assert.Equal(t, ProfileStateLoading, tracker.State())
	// edits before load are no-ops
	tracker.SetNombre("ignored")
	assert.Equal(t, Profile{}, tracker.Working())

	result, err := tracker.LoadSync()
	assert.Equal(t, nil, err)
	// registration bootstraps the profile record
	assert.Equal(t, "load@example.com", result.Profile.Email)
	assert.Equal(t, "Ana", result.Profile.Nombre)

	assert.Equal(t, ProfileStateViewing, tracker.State())
	assert.Equal(t, false, tracker.Dirty())
	assert.Equal(t, tracker.Baseline(), tracker.Working())
}

func TestProfileEditMakesDirtyAndRevertRestores(t *testing.T) {
	tracker, api, userId := newTrackedProfile(t, "revert@example.com")

	_, err := tracker.LoadSync()
	assert.Equal(t, nil, err)

	tracker.SetNombre("Ana Lopez")
	assert.Equal(t, true, tracker.Dirty())
	assert.Equal(t, ProfileStateEditing, tracker.State())
	assert.Equal(t, "Ana Lopez", tracker.Working().Nombre)
	assert.Equal(t, "Ana", tracker.Baseline().Nombre)

	tracker.Revert()
	assert.Equal(t, false, tracker.Dirty())
	assert.Equal(t, "Ana", tracker.Working().Nombre)

	// revert never touched the store
	got, err := api.GetValueSync(fmt.Sprintf("users/%s", userId))
	assert.Equal(t, nil, err)
	var stored Profile
	assert.Equal(t, nil, json.Unmarshal(got.Value, &stored))
	assert.Equal(t, "Ana", stored.Nombre)
}

func TestProfileCommitReplacesBaseline(t *testing.T) {
	tracker, api, userId := newTrackedProfile(t, "commit@example.com")

	_, err := tracker.LoadSync()
	assert.Equal(t, nil, err)

	tracker.SetNombre("  Ana Lopez  ")
	tracker.SetTelefono("0991234567")
	tracker.SetFechaNacimiento("1999-03-21")

	result, err := tracker.CommitSync()
	assert.Equal(t, nil, err)
	// committed values are trimmed
	assert.Equal(t, "Ana Lopez", result.Profile.Nombre)

	assert.Equal(t, false, tracker.Dirty())
	assert.Equal(t, "Ana Lopez", tracker.Baseline().Nombre)
	assert.Equal(t, "0991234567", tracker.Baseline().Telefono)
	assert.Equal(t, "1999-03-21", tracker.Baseline().FechaNacimiento)

	got, err := api.GetValueSync(fmt.Sprintf("users/%s", userId))
	assert.Equal(t, nil, err)
	var stored Profile
	assert.Equal(t, nil, json.Unmarshal(got.Value, &stored))
	assert.Equal(t, "Ana Lopez", stored.Nombre)
	assert.Equal(t, "1999-03-21", stored.FechaNacimiento)
	// email is never written by a commit
	assert.Equal(t, "commit@example.com", stored.Email)
}

func TestProfileCommitValidationFailureWritesNothing(t *testing.T) {
	tracker, api, userId := newTrackedProfile(t, "invalid@example.com")

	_, err := tracker.LoadSync()
	assert.Equal(t, nil, err)

	tracker.SetNombre("Ana Lopez")
	tracker.SetFechaNacimiento("2023-02-30")

	_, err = tracker.CommitSync()
	var validationErr *ValidationError
	assert.Equal(t, true, errors.As(err, &validationErr))
	assert.Equal(t, "fechaNacimiento", validationErr.Field)

	// still dirty, baseline untouched, store untouched
	assert.Equal(t, true, tracker.Dirty())
	got, err := api.GetValueSync(fmt.Sprintf("users/%s", userId))
	assert.Equal(t, nil, err)
	var stored Profile
	assert.Equal(t, nil, json.Unmarshal(got.Value, &stored))
	assert.Equal(t, "Ana", stored.Nombre)

	// empty nombre is also rejected before any write
	tracker.SetNombre("   ")
	_, err = tracker.CommitSync()
	assert.Equal(t, true, errors.As(err, &validationErr))
	assert.Equal(t, "nombre", validationErr.Field)
}

func TestProfileCallbackFiresOnChange(t *testing.T) {
	tracker, _, _ := newTrackedProfile(t, "events@example.com")

	states := []ProfileState{}
	remove := tracker.AddProfileCallback(func(state ProfileState, working Profile) {
		states = append(states, state)
	})
	defer remove()

	_, err := tracker.LoadSync()
	assert.Equal(t, nil, err)
	tracker.SetNombre("Ana Lopez")
	// setting the same value again does not fire
	tracker.SetNombre("Ana Lopez")
	tracker.Revert()

	assert.Equal(t, []ProfileState{
		ProfileStateViewing,
		ProfileStateEditing,
		ProfileStateViewing,
	}, states)
}

func TestValidateBirthDate(t *testing.T) {
	valid := []string{
		"",
		"2023-02-28",
		"2024-02-29",
		"1999-12-31",
	}
	for _, fechaNacimiento := range valid {
		assert.Equal(t, true, ValidateBirthDate(fechaNacimiento))
	}

	invalid := []string{
		"2023-02-30",
		"2023-04-31",
		"2023-02-29",
		"23-02-10",
		"2023-2-10",
		"2023/02/10",
		"2023-13-01",
		"2023-00-10",
		"not a date",
		"2023-02-10T00:00:00Z",
	}
	for _, fechaNacimiento := range invalid {
		assert.Equal(t, false, ValidateBirthDate(fechaNacimiento))
	}
}
