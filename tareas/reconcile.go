package tareas

import (
	"encoding/json"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// Reconciler converts raw snapshots into the canonical task collection.
// Each snapshot fully replaces the previous collection. The last snapshot
// observed always wins, including snapshots that arrive out of causal order
// relative to local writes.

type CollectionFunction func(collection map[Key]*Task)

type Reconciler struct {
	stateLock sync.Mutex

	collection map[Key]*Task
	// count of individually malformed records skipped across all snapshots
	skippedTotal int

	collectionCallbacks *CallbackList[CollectionFunction]
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		collection:          map[Key]*Task{},
		collectionCallbacks: NewCallbackList[CollectionFunction](),
	}
}

func (self *Reconciler) AddCollectionCallback(collectionCallback CollectionFunction) func() {
	callbackId := self.collectionCallbacks.Add(collectionCallback)
	return func() {
		self.collectionCallbacks.Remove(callbackId)
	}
}

// Apply is safe to re-run with every snapshot, including snapshots caused by
// this client's own writes. An absent node is an empty collection, not an error.
func (self *Reconciler) Apply(snapshot *RawSnapshot) {
	nextCollection := map[Key]*Task{}
	skipped := 0

	if snapshot.Exists {
		for key, raw := range snapshot.Records {
			payload := &taskPayload{}
			if err := json.Unmarshal(raw, payload); err != nil {
				// data hygiene, not error suppression. counted and loggable.
				skipped += 1
				glog.V(2).Infof("[r]skip malformed record %s = %s\n", key, err)
				continue
			}
			task := taskFromPayload(payload)
			if task == nil {
				skipped += 1
				glog.V(2).Infof("[r]skip record with missing required fields %s\n", key)
				continue
			}
			nextCollection[key] = task
		}
	}

	var collection map[Key]*Task
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		// atomic replacement from the consumer's viewpoint.
		// never merge field by field.
		self.collection = nextCollection
		self.skippedTotal += skipped
		collection = maps.Clone(self.collection)
	}()

	if 0 < skipped {
		glog.Infof("[r]skipped %d malformed records at %s\n", skipped, snapshot.Path)
	}

	for _, collectionCallback := range self.collectionCallbacks.Get() {
		collectionCallback(collection)
	}
}

// Collection returns a copy of the last collection produced.
func (self *Reconciler) Collection() map[Key]*Task {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Clone(self.collection)
}

func (self *Reconciler) SkippedTotal() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.skippedTotal
}
