package tareas

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

// ProfileTracker tracks a single editable record: a pristine baseline captured
// right after load, a working copy mutated by every edit, and a dirty flag that
// is the structural inequality of the two. Commit atomically replaces the
// baseline; revert restores the working copy without touching the store.

type ProfileState string

const (
	// initial. also terminal when the load fails: surfaced, not retried.
	ProfileStateLoading ProfileState = "Loading"
	ProfileStateViewing ProfileState = "Viewing"
	ProfileStateEditing ProfileState = "Editing"
)

type ProfileFunction func(state ProfileState, working Profile)

type LoadProfileCallback apiCallback[*LoadProfileResult]

type LoadProfileResult struct {
	Profile Profile
}

type CommitProfileCallback apiCallback[*CommitProfileResult]

type CommitProfileResult struct {
	Profile Profile
}

type ProfileTracker struct {
	api      *StoreApi
	identity IdentityProvider

	stateLock sync.Mutex

	loaded   bool
	baseline Profile
	working  Profile

	profileCallbacks *CallbackList[ProfileFunction]
}

func NewProfileTracker(api *StoreApi, identity IdentityProvider) *ProfileTracker {
	return &ProfileTracker{
		api:              api,
		identity:         identity,
		profileCallbacks: NewCallbackList[ProfileFunction](),
	}
}

func (self *ProfileTracker) AddProfileCallback(profileCallback ProfileFunction) func() {
	callbackId := self.profileCallbacks.Add(profileCallback)
	return func() {
		self.profileCallbacks.Remove(callbackId)
	}
}

func (self *ProfileTracker) profilePath() (string, error) {
	userId, ok := self.identity.CurrentUserId()
	if !ok {
		return "", NewAuthorizationError("no authenticated user")
	}
	return fmt.Sprintf("users/%s", userId), nil
}

// Load fetches the record once and captures the baseline.
// A load failure is terminal for the session.
func (self *ProfileTracker) Load(callback LoadProfileCallback) {
	path, err := self.profilePath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	self.api.GetValue(path, NewApiCallback[*GetValueResult](func(result *GetValueResult, err error) {
		if err != nil {
			glog.Infof("[p]load failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("load", path, err))
			return
		}

		profile := Profile{}
		if result.Exists {
			// never trust the wire shape. missing fields default to empty.
			if err := json.Unmarshal(result.Value, &profile); err != nil {
				glog.Infof("[p]malformed profile %s = %s\n", path, err)
				callback.Result(nil, NewRemoteError("load", path, err))
				return
			}
		}

		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.loaded = true
			self.baseline = profile
			self.working = profile
		}()

		self.event()
		callback.Result(&LoadProfileResult{Profile: profile}, nil)
	}))
}

func (self *ProfileTracker) LoadSync() (*LoadProfileResult, error) {
	callback, c := NewBlockingApiCallback[*LoadProfileResult]()
	self.Load(callback)
	r := <-c
	return r.Result, r.Error
}

func (self *ProfileTracker) State() ProfileState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state()
}

// must be called with `stateLock`
func (self *ProfileTracker) state() ProfileState {
	switch {
	case !self.loaded:
		return ProfileStateLoading
	case self.working != self.baseline:
		return ProfileStateEditing
	default:
		return ProfileStateViewing
	}
}

// Dirty is recomputed on every change as the structural inequality of the
// working copy and the baseline.
func (self *ProfileTracker) Dirty() bool {
	return self.State() == ProfileStateEditing
}

func (self *ProfileTracker) Working() Profile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.working
}

func (self *ProfileTracker) Baseline() Profile {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.baseline
}

func (self *ProfileTracker) SetNombre(nombre string) {
	self.edit(func(working *Profile) {
		working.Nombre = nombre
	})
}

func (self *ProfileTracker) SetTelefono(telefono string) {
	self.edit(func(working *Profile) {
		working.Telefono = telefono
	})
}

func (self *ProfileTracker) SetFechaNacimiento(fechaNacimiento string) {
	self.edit(func(working *Profile) {
		working.FechaNacimiento = fechaNacimiento
	})
}

func (self *ProfileTracker) edit(mutate func(working *Profile)) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if !self.loaded {
			return
		}
		before := self.working
		mutate(&self.working)
		changed = before != self.working
	}()
	if changed {
		self.event()
	}
}

// Commit validates locally, writes the working copy, and on success replaces
// the baseline with it. No store write is attempted on validation failure.
func (self *ProfileTracker) Commit(callback CommitProfileCallback) {
	var working Profile
	loaded := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		loaded = self.loaded
		working = self.working
	}()
	if !loaded {
		callback.Result(nil, NewValidationError("profile", "not loaded"))
		return
	}

	nombre := strings.TrimSpace(working.Nombre)
	telefono := strings.TrimSpace(working.Telefono)
	fechaNacimiento := strings.TrimSpace(working.FechaNacimiento)

	if nombre == "" {
		callback.Result(nil, NewValidationError("nombre", "must not be empty"))
		return
	}
	if !ValidateBirthDate(fechaNacimiento) {
		callback.Result(nil, NewValidationError("fechaNacimiento", "must be a valid YYYY-MM-DD date"))
		return
	}

	path, err := self.profilePath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	// email is display only and never written
	fields := map[string]any{
		"nombre":          nombre,
		"telefono":        telefono,
		"fechaNacimiento": fechaNacimiento,
	}

	self.api.WriteFields(path, fields, NewApiCallback[*WriteResult](func(result *WriteResult, err error) {
		if err != nil {
			glog.Infof("[p]commit failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("commit", path, err))
			return
		}

		var committed Profile
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.working.Nombre = nombre
			self.working.Telefono = telefono
			self.working.FechaNacimiento = fechaNacimiento
			self.baseline = self.working
			committed = self.working
		}()

		glog.V(2).Infof("[p]commit %s\n", path)
		self.event()
		callback.Result(&CommitProfileResult{Profile: committed}, nil)
	}))
}

func (self *ProfileTracker) CommitSync() (*CommitProfileResult, error) {
	callback, c := NewBlockingApiCallback[*CommitProfileResult]()
	self.Commit(callback)
	r := <-c
	return r.Result, r.Error
}

// Revert restores the working copy from the baseline without any store write.
func (self *ProfileTracker) Revert() {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if !self.loaded {
			return
		}
		changed = self.working != self.baseline
		self.working = self.baseline
	}()
	if changed {
		self.event()
	}
}

func (self *ProfileTracker) event() {
	var state ProfileState
	var working Profile
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		state = self.state()
		working = self.working
	}()
	for _, profileCallback := range self.profileCallbacks.Get() {
		profileCallback(state, working)
	}
}

var birthDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateBirthDate accepts an empty string (the field is optional) or a
// strict YYYY-MM-DD calendar date. A numerically plausible but calendar
// invalid date such as day 31 of a 30 day month is rejected.
func ValidateBirthDate(fechaNacimiento string) bool {
	if fechaNacimiento == "" {
		return true
	}
	if !birthDateRe.MatchString(fechaNacimiento) {
		return false
	}
	date, err := time.Parse("2006-01-02", fechaNacimiento)
	if err != nil {
		return false
	}
	return date.Format("2006-01-02") == fechaNacimiento
}
