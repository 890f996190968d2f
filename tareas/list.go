package tareas

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// TaskListView is the engine behind a mounted list view. It owns the scoped
// subscription for the view, feeds snapshots through the reconciler, and
// re-derives the rendered list and stats on every change to the collection,
// the search text, or the sort mode. View state is ephemeral and resets with
// the view.

type ListViewFunction func(entries []ViewEntry, stats ViewStats)

type TaskListViewSettings struct {
	SubscriptionSettings *SubscriptionSettings
}

func DefaultTaskListViewSettings() *TaskListViewSettings {
	return &TaskListViewSettings{
		SubscriptionSettings: DefaultSubscriptionSettings(),
	}
}

type TaskListView struct {
	ctx    context.Context
	cancel context.CancelFunc

	syncUrl  string
	identity *TokenIdentity

	settings *TaskListViewSettings

	reconciler *Reconciler

	stateLock sync.Mutex

	searchText string
	sortMode   SortMode

	subscription *Subscription

	viewCallbacks *CallbackList[ListViewFunction]
}

func NewTaskListViewWithDefaults(
	ctx context.Context,
	syncUrl string,
	identity *TokenIdentity,
) *TaskListView {
	return NewTaskListView(ctx, syncUrl, identity, DefaultTaskListViewSettings())
}

func NewTaskListView(
	ctx context.Context,
	syncUrl string,
	identity *TokenIdentity,
	settings *TaskListViewSettings,
) *TaskListView {
	cancelCtx, cancel := context.WithCancel(ctx)
	listView := &TaskListView{
		ctx:           cancelCtx,
		cancel:        cancel,
		syncUrl:       syncUrl,
		identity:      identity,
		settings:      settings,
		reconciler:    NewReconciler(),
		sortMode:      SortNewestFirst,
		viewCallbacks: NewCallbackList[ListViewFunction](),
	}
	listView.reconciler.AddCollectionCallback(func(collection map[Key]*Task) {
		listView.event()
	})
	listView.subscribe()
	return listView
}

func (self *TaskListView) AddViewCallback(viewCallback ListViewFunction) func() {
	callbackId := self.viewCallbacks.Add(viewCallback)
	return func() {
		self.viewCallbacks.Remove(callbackId)
	}
}

// subscribe acquires the subscription, gated on a non-null user.
// With no user the view simply renders the empty state.
func (self *TaskListView) subscribe() {
	userId, ok := self.identity.CurrentUserId()
	if !ok {
		glog.V(2).Infof("[v]no user, empty state\n")
		return
	}

	path := fmt.Sprintf("users/%s/tasks", userId)
	subscription := NewSubscription(
		self.ctx,
		self.syncUrl,
		self.identity.ByJwt(),
		path,
		func(snapshot *RawSnapshot) {
			self.reconciler.Apply(snapshot)
		},
		self.settings.SubscriptionSettings,
	)

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.subscription = subscription
	}()
}

// SetUser switches the authenticated user. The previous subscription is
// released before any new one is acquired, so the view never acts on stale or
// foreign-user data. An empty token models logout.
func (self *TaskListView) SetUser(byJwt string) {
	var subscription *Subscription
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		subscription = self.subscription
		self.subscription = nil
	}()
	if subscription != nil {
		subscription.Close()
	}

	self.identity.SetByJwt(byJwt)
	self.reconciler.Apply(&RawSnapshot{Exists: false})
	self.subscribe()
}

func (self *TaskListView) SetSearchText(searchText string) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.searchText != searchText {
			self.searchText = searchText
			changed = true
		}
	}()
	if changed {
		self.event()
	}
}

func (self *TaskListView) SetSortMode(sortMode SortMode) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.sortMode != sortMode {
			self.sortMode = sortMode
			changed = true
		}
	}()
	if changed {
		self.event()
	}
}

// View recomputes the derived view from current state.
func (self *TaskListView) View() ([]ViewEntry, ViewStats) {
	var searchText string
	var sortMode SortMode
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		searchText = self.searchText
		sortMode = self.sortMode
	}()
	return DeriveView(self.reconciler.Collection(), searchText, sortMode)
}

func (self *TaskListView) Reconciler() *Reconciler {
	return self.reconciler
}

func (self *TaskListView) event() {
	entries, stats := self.View()
	for _, viewCallback := range self.viewCallbacks.Get() {
		viewCallback(entries, stats)
	}
}

// Close releases the subscription. Mandatory on unmount.
func (self *TaskListView) Close() {
	self.cancel()

	var subscription *Subscription
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		subscription = self.subscription
		self.subscription = nil
	}()
	if subscription != nil {
		subscription.Close()
	}
}
