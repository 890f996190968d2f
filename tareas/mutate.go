package tareas

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Mutator executes user-initiated mutations against the authenticated user's
// subtree. Every operation is fire-and-report: attempted once, never retried,
// success or failure surfaced to the caller and never awaited by dependent
// state. The remote subscription is the single source of truth; a successful
// write is observed through the next snapshot, and a failed write leaves the
// canonical collection untouched.

type Mutator struct {
	api      *StoreApi
	identity IdentityProvider
}

func NewMutator(api *StoreApi, identity IdentityProvider) *Mutator {
	return &Mutator{
		api:      api,
		identity: identity,
	}
}

func (self *Mutator) tasksPath() (string, error) {
	userId, ok := self.identity.CurrentUserId()
	if !ok {
		return "", NewAuthorizationError("no authenticated user")
	}
	return fmt.Sprintf("users/%s/tasks", userId), nil
}

type CreateTaskCallback apiCallback[*CreateTaskResult]

type CreateTaskArgs struct {
	Title    string
	Category Category
	DueDate  *time.Time
}

type CreateTaskResult struct {
	Key Key
}

func (self *Mutator) CreateTask(createTask *CreateTaskArgs, callback CreateTaskCallback) {
	title := strings.TrimSpace(createTask.Title)
	if title == "" {
		callback.Result(nil, NewValidationError("title", "must not be empty"))
		return
	}
	tasksPath, err := self.tasksPath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	category := createTask.Category
	if category == CategoryNone {
		category = CategoryPersonal
	}

	key := NewKey()
	// createdAt is set exactly once here and never appears in an edit payload
	payload := taskToPayload(&Task{
		Title:     title,
		Category:  category,
		Completed: false,
		CreatedAt: time.Now(),
		DueDate:   createTask.DueDate,
	})

	path := fmt.Sprintf("%s/%s", tasksPath, key)
	self.api.SetValue(path, payload, NewApiCallback[*WriteResult](func(result *WriteResult, err error) {
		if err != nil {
			glog.Infof("[m]create failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("create", path, err))
			return
		}
		glog.V(2).Infof("[m]create %s\n", path)
		callback.Result(&CreateTaskResult{Key: key}, nil)
	}))
}

func (self *Mutator) CreateTaskSync(createTask *CreateTaskArgs) (*CreateTaskResult, error) {
	callback, c := NewBlockingApiCallback[*CreateTaskResult]()
	self.CreateTask(createTask, callback)
	r := <-c
	return r.Result, r.Error
}

type EditTaskCallback apiCallback[*EditTaskResult]

type EditTaskArgs struct {
	Key      Key
	Title    string
	Category Category
	DueDate  *time.Time
}

type EditTaskResult struct{}

func (self *Mutator) EditTask(editTask *EditTaskArgs, callback EditTaskCallback) {
	title := strings.TrimSpace(editTask.Title)
	if title == "" {
		callback.Result(nil, NewValidationError("title", "must not be empty"))
		return
	}
	if err := ValidateKey(editTask.Key); err != nil {
		callback.Result(nil, NewValidationError("key", err.Error()))
		return
	}
	tasksPath, err := self.tasksPath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	// changed fields only. createdAt and completed are never part of an edit.
	var dueDate any
	if editTask.DueDate != nil {
		dueDate = editTask.DueDate.UTC().Format(time.RFC3339)
	}
	fields := map[string]any{
		"title":     title,
		"categoria": string(editTask.Category),
		"dueDate":   dueDate,
	}

	path := fmt.Sprintf("%s/%s", tasksPath, editTask.Key)
	self.api.WriteFields(path, fields, NewApiCallback[*WriteResult](func(result *WriteResult, err error) {
		if err != nil {
			glog.Infof("[m]edit failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("edit", path, err))
			return
		}
		glog.V(2).Infof("[m]edit %s\n", path)
		callback.Result(&EditTaskResult{}, nil)
	}))
}

func (self *Mutator) EditTaskSync(editTask *EditTaskArgs) (*EditTaskResult, error) {
	callback, c := NewBlockingApiCallback[*EditTaskResult]()
	self.EditTask(editTask, callback)
	r := <-c
	return r.Result, r.Error
}

type ToggleTaskCallback apiCallback[*ToggleTaskResult]

type ToggleTaskResult struct {
	Completed bool
}

// ToggleTask writes the negation of the value the caller currently observes,
// not the server's current value. Two toggles racing an in-flight snapshot can
// bounce back to the pre-toggle state once the delayed snapshot arrives. This
// at-most-once-until-next-snapshot behavior is documented and kept; upgrading
// it to a server-side read-modify-write would change observable behavior.
func (self *Mutator) ToggleTask(key Key, observedCompleted bool, callback ToggleTaskCallback) {
	if err := ValidateKey(key); err != nil {
		callback.Result(nil, NewValidationError("key", err.Error()))
		return
	}
	tasksPath, err := self.tasksPath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	completed := !observedCompleted
	fields := map[string]any{
		"completed": completed,
	}

	path := fmt.Sprintf("%s/%s", tasksPath, key)
	self.api.WriteFields(path, fields, NewApiCallback[*WriteResult](func(result *WriteResult, err error) {
		if err != nil {
			glog.Infof("[m]toggle failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("toggle", path, err))
			return
		}
		glog.V(2).Infof("[m]toggle %s completed=%t\n", path, completed)
		callback.Result(&ToggleTaskResult{Completed: completed}, nil)
	}))
}

func (self *Mutator) ToggleTaskSync(key Key, observedCompleted bool) (*ToggleTaskResult, error) {
	callback, c := NewBlockingApiCallback[*ToggleTaskResult]()
	self.ToggleTask(key, observedCompleted, callback)
	r := <-c
	return r.Result, r.Error
}

type DeleteTaskCallback apiCallback[*DeleteTaskResult]

type DeleteTaskResult struct{}

// DeleteTask is irreversible. The confirmation gate is the caller's
// responsibility before this is invoked.
func (self *Mutator) DeleteTask(key Key, callback DeleteTaskCallback) {
	if err := ValidateKey(key); err != nil {
		callback.Result(nil, NewValidationError("key", err.Error()))
		return
	}
	tasksPath, err := self.tasksPath()
	if err != nil {
		callback.Result(nil, err)
		return
	}

	path := fmt.Sprintf("%s/%s", tasksPath, key)
	self.api.RemoveValue(path, NewApiCallback[*WriteResult](func(result *WriteResult, err error) {
		if err != nil {
			glog.Infof("[m]delete failed %s = %s\n", path, err)
			callback.Result(nil, NewRemoteError("delete", path, err))
			return
		}
		glog.V(2).Infof("[m]delete %s\n", path)
		callback.Result(&DeleteTaskResult{}, nil)
	}))
}

func (self *Mutator) DeleteTaskSync(key Key) (*DeleteTaskResult, error) {
	callback, c := NewBlockingApiCallback[*DeleteTaskResult]()
	self.DeleteTask(key, callback)
	r := <-c
	return r.Result, r.Error
}
