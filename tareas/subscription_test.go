package tareas

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestWsUrlForPath(t *testing.T) {
	wsUrl, err := wsUrlForPath("http://localhost:7878", "users/u1/tasks")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://localhost:7878/sync?path=users%2Fu1%2Ftasks", wsUrl)

	wsUrl, err = wsUrlForPath("https://store.example.com/", "users/u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, "wss://store.example.com/sync?path=users%2Fu1", wsUrl)

	_, err = wsUrlForPath("ftp://store.example.com", "users/u1")
	assert.NotEqual(t, nil, err)
}

func TestSubscriptionDeliversSnapshots(t *testing.T) {
	ts := startSim(t)
	byJwt := registerUser(t, ts, "sub@example.com")
	identity := NewTokenIdentity(byJwt)
	userId, _ := identity.CurrentUserId()

	api := NewStoreApi(ts.URL)
	defer api.Close()
	api.SetByJwt(byJwt)
	mutator := NewMutator(api, identity)

	snapshots := make(chan *RawSnapshot, 32)
	path := fmt.Sprintf("users/%s/tasks", userId)
	subscription := NewSubscriptionWithDefaults(
		context.Background(),
		ts.URL,
		byJwt,
		path,
		func(snapshot *RawSnapshot) {
			snapshots <- snapshot
		},
	)
	defer subscription.Close()

	next := func(description string) *RawSnapshot {
		select {
		case snapshot := <-snapshots:
			return snapshot
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %s", description)
			return nil
		}
	}

	// the current state arrives immediately on connect
	initial := next("initial snapshot")
	assert.Equal(t, path, initial.Path)
	assert.Equal(t, false, initial.Exists)
	assert.Equal(t, 0, len(initial.Records))

	// a write by this same client is echoed back. no local echo suppression.
	created, err := mutator.CreateTaskSync(&CreateTaskArgs{Title: "first"})
	assert.Equal(t, nil, err)

	afterCreate := next("snapshot after create")
	assert.Equal(t, true, afterCreate.Exists)
	assert.Equal(t, 1, len(afterCreate.Records))

	var payload taskPayload
	assert.Equal(t, nil, json.Unmarshal(afterCreate.Records[created.Key], &payload))
	assert.Equal(t, "first", payload.Title)

	// deleting the last record collapses the node: exists flips back to false
	_, err = mutator.DeleteTaskSync(created.Key)
	assert.Equal(t, nil, err)

	afterDelete := next("snapshot after delete")
	assert.Equal(t, false, afterDelete.Exists)
	assert.Equal(t, 0, len(afterDelete.Records))
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	ts := startSim(t)
	byJwt := registerUser(t, ts, "close@example.com")
	identity := NewTokenIdentity(byJwt)
	userId, _ := identity.CurrentUserId()

	api := NewStoreApi(ts.URL)
	defer api.Close()
	api.SetByJwt(byJwt)
	mutator := NewMutator(api, identity)

	snapshots := make(chan *RawSnapshot, 32)
	subscription := NewSubscriptionWithDefaults(
		context.Background(),
		ts.URL,
		byJwt,
		fmt.Sprintf("users/%s/tasks", userId),
		func(snapshot *RawSnapshot) {
			snapshots <- snapshot
		},
	)

	select {
	case <-snapshots:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for initial snapshot")
	}

	assert.Equal(t, false, subscription.IsClosed())
	subscription.Close()
	waitFor(t, 5*time.Second, "subscription closed", subscription.IsClosed)

	// drain anything already in flight, then mutate and verify silence
	for {
		select {
		case <-snapshots:
			continue
		case <-time.After(200 * time.Millisecond):
		}
		break
	}

	_, err := mutator.CreateTaskSync(&CreateTaskArgs{Title: "after close"})
	assert.Equal(t, nil, err)

	select {
	case snapshot := <-snapshots:
		t.Fatalf("snapshot delivered after close: %v", snapshot)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSubscriptionRejectsForeignPath(t *testing.T) {
	ts := startSim(t)
	byJwt := registerUser(t, ts, "owner@example.com")

	snapshots := make(chan *RawSnapshot, 32)
	subscription := NewSubscriptionWithDefaults(
		context.Background(),
		ts.URL,
		byJwt,
		"users/someone-else/tasks",
		func(snapshot *RawSnapshot) {
			snapshots <- snapshot
		},
	)
	defer subscription.Close()

	select {
	case snapshot := <-snapshots:
		t.Fatalf("snapshot delivered for a foreign path: %v", snapshot)
	case <-time.After(500 * time.Millisecond):
	}
}
