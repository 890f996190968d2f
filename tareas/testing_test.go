package tareas

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yadilis/tareasync/storesim"
)

func startSim(t *testing.T) *httptest.Server {
	server := storesim.NewServer("test-secret")
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func registerUser(t *testing.T, ts *httptest.Server, email string) string {
	api := NewStoreApi(ts.URL)
	defer api.Close()

	result, err := api.AuthRegisterSync(&AuthRegisterArgs{
		Email:    email,
		Password: "hunter22",
		Nombre:   "Ana",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.ByJwt == "" {
		t.Fatalf("register returned no jwt")
	}
	return result.ByJwt
}

func waitFor(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	endTime := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if endTime.Before(time.Now()) {
			t.Fatalf("timed out waiting for %s", description)
		}
		select {
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func testCollection(n int) map[Key]*Task {
	collection := map[Key]*Task{}
	for i := 0; i < n; i += 1 {
		collection[fmt.Sprintf("k%03d", i)] = &Task{
			Title:     fmt.Sprintf("task %03d", i),
			Category:  CategoryPersonal,
			Completed: i%2 == 0,
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		}
	}
	return collection
}
