package storesim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func startServer(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(NewServer("test-secret").Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJson(t *testing.T, url string, body any) *http.Response {
	encoded, err := json.Marshal(body)
	assert.Equal(t, nil, err)
	r, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	assert.Equal(t, nil, err)
	return r
}

func authResult(t *testing.T, r *http.Response) string {
	defer r.Body.Close()
	var result struct {
		ByJwt string `json:"by_jwt"`
	}
	assert.Equal(t, nil, json.NewDecoder(r.Body).Decode(&result))
	return result.ByJwt
}

func TestRegisterThenLogin(t *testing.T) {
	ts := startServer(t)

	r := postJson(t, ts.URL+"/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter22",
		"nombre":   "Ana",
	})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.NotEqual(t, "", authResult(t, r))

	// duplicate email conflicts
	r = postJson(t, ts.URL+"/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "other",
	})
	r.Body.Close()
	assert.Equal(t, http.StatusConflict, r.StatusCode)

	r = postJson(t, ts.URL+"/auth/login", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.NotEqual(t, "", authResult(t, r))

	r = postJson(t, ts.URL+"/auth/login", map[string]any{
		"email":    "ana@example.com",
		"password": "wrong",
	})
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)

	r = postJson(t, ts.URL+"/auth/login", map[string]any{
		"email":    "nobody@example.com",
		"password": "hunter22",
	})
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestRegisterBootstrapsProfile(t *testing.T) {
	server := NewServer("test-secret")
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	r := postJson(t, ts.URL+"/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter22",
		"nombre":   "Ana",
	})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	r.Body.Close()

	// exactly one user subtree with the bootstrapped profile fields
	users, ok := server.Store().GetValue("users")
	assert.Equal(t, true, ok)
	userNodes := users.(map[string]any)
	assert.Equal(t, 1, len(userNodes))
	for _, node := range userNodes {
		profile := node.(map[string]any)
		assert.Equal(t, "ana@example.com", profile["email"])
		assert.Equal(t, "Ana", profile["nombre"])
		assert.Equal(t, "", profile["telefono"])
	}
}

func TestDataRequiresAuth(t *testing.T) {
	ts := startServer(t)

	r, err := http.Get(ts.URL + "/data/users/u1/tasks")
	assert.Equal(t, nil, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)

	// a token signed with a different secret is rejected
	req, _ := http.NewRequest("GET", ts.URL+"/data/users/u1/tasks", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r, err = http.DefaultClient.Do(req)
	assert.Equal(t, nil, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}

func TestDataGuardsForeignPaths(t *testing.T) {
	ts := startServer(t)

	r := postJson(t, ts.URL+"/auth/register", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusOK, r.StatusCode)
	byJwt := authResult(t, r)

	get := func(path string) int {
		req, _ := http.NewRequest("GET", ts.URL+"/data/"+path, nil)
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", byJwt))
		r, err := http.DefaultClient.Do(req)
		assert.Equal(t, nil, err)
		r.Body.Close()
		return r.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, get("users/someone-else/tasks"))
	assert.Equal(t, http.StatusForbidden, get("users"))
	assert.Equal(t, http.StatusForbidden, get("other-root"))
}

func TestOwnsPath(t *testing.T) {
	assert.Equal(t, true, ownsPath("u1", "users/u1"))
	assert.Equal(t, true, ownsPath("u1", "/users/u1/tasks/k1"))
	assert.Equal(t, false, ownsPath("u1", "users/u2/tasks"))
	assert.Equal(t, false, ownsPath("u1", "users"))
	assert.Equal(t, false, ownsPath("u1", ""))
}
