package tareas

import (
	"sync"

	"golang.org/x/exp/slices"
)

// makes a copy of the list on update so that `Get` can be iterated without a lock
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	ids       []int
	callbacks []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1

	nextIds := slices.Clone(self.ids)
	nextCallbacks := slices.Clone(self.callbacks)
	self.ids = append(nextIds, callbackId)
	self.callbacks = append(nextCallbacks, callback)
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.ids, callbackId)
	if i < 0 {
		// not present
		return
	}
	nextIds := slices.Clone(self.ids)
	nextCallbacks := slices.Clone(self.callbacks)
	self.ids = slices.Delete(nextIds, i, i+1)
	self.callbacks = slices.Delete(nextCallbacks, i, i+1)
}
