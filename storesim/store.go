package storesim

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Store is an in-memory hierarchical key value tree addressed by slash
// separated paths, with Firebase-style semantics: `update` merges fields,
// `set` overwrites, `remove` deletes the subtree, and writing null deletes.
// Empty branches are pruned, so a collection with no records reads as absent.
//
// Subscribers attached to a path receive a full snapshot of that path on
// every mutation that touches it, including their own writes.

type snapshotMessage struct {
	Path    string                     `json:"path"`
	Exists  bool                       `json:"exists"`
	Records map[string]json.RawMessage `json:"records,omitempty"`
}

type subscriber struct {
	path string
	// latest-wins mailbox. the consumer only ever needs the newest snapshot.
	messages chan []byte
}

type Store struct {
	mutex sync.Mutex

	root map[string]any

	subscribers map[*subscriber]struct{}
}

func NewStore() *Store {
	return &Store{
		root:        map[string]any{},
		subscribers: map[*subscriber]struct{}{},
	}
}

func splitPath(path string) []string {
	parts := []string{}
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// must be called with `mutex`
func (self *Store) getNode(parts []string) (any, bool) {
	var node any = self.root
	for _, part := range parts {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// must be called with `mutex`
func (self *Store) ensureBranch(parts []string) map[string]any {
	node := self.root
	for _, part := range parts {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	return node
}

// must be called with `mutex`
func (self *Store) prune(parts []string) {
	for 0 < len(parts) {
		parentParts := parts[:len(parts)-1]
		parent, ok := self.getNode(parentParts)
		if !ok {
			return
		}
		m, ok := parent.(map[string]any)
		if !ok {
			return
		}
		if child, ok := m[parts[len(parts)-1]].(map[string]any); ok && len(child) == 0 {
			delete(m, parts[len(parts)-1])
		}
		parts = parentParts
	}
}

func (self *Store) GetValue(path string) (any, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.getNode(splitPath(path))
}

func (self *Store) Update(path string, fields map[string]any) {
	parts := splitPath(path)

	self.mutex.Lock()
	node := self.ensureBranch(parts)
	for field, value := range fields {
		if value == nil {
			delete(node, field)
		} else {
			node[field] = value
		}
	}
	self.prune(parts)
	self.mutex.Unlock()

	self.notify(path)
}

func (self *Store) Set(path string, value any) {
	parts := splitPath(path)
	if len(parts) == 0 || value == nil {
		self.Remove(path)
		return
	}

	self.mutex.Lock()
	branch := self.ensureBranch(parts[:len(parts)-1])
	branch[parts[len(parts)-1]] = value
	self.mutex.Unlock()

	self.notify(path)
}

func (self *Store) Remove(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	self.mutex.Lock()
	branch, ok := self.getNode(parts[:len(parts)-1])
	if ok {
		if m, ok := branch.(map[string]any); ok {
			delete(m, parts[len(parts)-1])
		}
	}
	self.prune(parts[:len(parts)-1])
	self.mutex.Unlock()

	self.notify(path)
}

// Subscribe registers a subscriber at path and immediately queues the current
// snapshot. The returned channel carries encoded snapshot messages.
// `unsub` must be called on every exit path.
func (self *Store) Subscribe(path string) (messages chan []byte, unsub func()) {
	sub := &subscriber{
		path:     path,
		messages: make(chan []byte, 32),
	}

	self.mutex.Lock()
	self.subscribers[sub] = struct{}{}
	message := self.snapshotMessage(path)
	self.mutex.Unlock()

	sub.deliver(message)

	return sub.messages, func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		delete(self.subscribers, sub)
	}
}

func (self *Store) notify(mutatedPath string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for sub := range self.subscribers {
		if !pathsOverlap(sub.path, mutatedPath) {
			continue
		}
		sub.deliver(self.snapshotMessage(sub.path))
	}
}

// must be called with `mutex`
func (self *Store) snapshotMessage(path string) []byte {
	message := &snapshotMessage{
		Path: path,
	}

	if node, ok := self.getNode(splitPath(path)); ok {
		message.Exists = true
		message.Records = map[string]json.RawMessage{}
		if m, ok := node.(map[string]any); ok {
			for key, value := range m {
				raw, err := json.Marshal(value)
				if err != nil {
					glog.Infof("[sim]marshal %s/%s = %s\n", path, key, err)
					continue
				}
				message.Records[key] = raw
			}
		}
	}

	encoded, err := json.Marshal(message)
	if err != nil {
		glog.Infof("[sim]marshal snapshot %s = %s\n", path, err)
		return nil
	}
	return encoded
}

func (self *subscriber) deliver(message []byte) {
	if message == nil {
		return
	}
	for {
		select {
		case self.messages <- message:
			return
		default:
		}
		// full. drop the oldest, the newest snapshot wins.
		select {
		case <-self.messages:
		default:
		}
	}
}

// a subscription at `subPath` is affected when the mutation happened at,
// below, or above it
func pathsOverlap(subPath string, mutatedPath string) bool {
	a := strings.Join(splitPath(subPath), "/")
	b := strings.Join(splitPath(mutatedPath), "/")
	return a == b ||
		strings.HasPrefix(b, a+"/") ||
		strings.HasPrefix(a, b+"/")
}
