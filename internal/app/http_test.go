package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskhive/api/internal/accounts"
	"taskhive/api/internal/live"
	"taskhive/api/internal/store"
)

func newTestServer(fs *fakeStore) *HTTPServer {
	acc := accounts.NewService(newMemUserStore(), nil, "test-secret", time.Hour, 24*time.Hour)
	svc := NewService(fs, acc, &fakeSearch{fs: fs})
	liveHandler := live.NewHandler(live.NewRegistry(), []byte("test-secret"), svc)
	return NewHTTPServer(svc, liveHandler, "*")
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	return rr, payload
}

func registerUser(t *testing.T, server *HTTPServer, username string) (token string, userID int64) {
	t.Helper()
	rr, payload := doJSON(t, server, http.MethodPost, "/api/users", "", map[string]string{
		"username": username, "password": "hunter2",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ = payload["accessToken"].(string)
	id, _ := payload["userId"].(float64)
	if token == "" || id == 0 {
		t.Fatalf("register payload = %v", payload)
	}
	return token, int64(id)
}

func TestLogoutEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rr, payload := doJSON(t, server, http.MethodPost, "/api/users", "", map[string]string{
		"username": "ada", "password": "hunter2",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rr.Code)
	}
	refreshToken, _ := payload["refreshToken"].(string)
	if refreshToken == "" {
		t.Fatalf("register payload = %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/users/logout", "", map[string]string{
		"refreshToken": refreshToken,
	})
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("logout status = %d body = %v", rr.Code, payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/users/logout", "", map[string]string{
		"refreshToken": "not-a-token",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("logout with garbage token status = %d", rr.Code)
	}
}

func TestRegisterAndLoginFlow(t *testing.T) {
	server := newTestServer(&fakeStore{})
	token, _ := registerUser(t, server, "ada")

	rr, payload := doJSON(t, server, http.MethodGet, "/api/session", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session status = %d", rr.Code)
	}
	if payload["authenticated"] != true {
		t.Fatalf("session payload = %v", payload)
	}

	rr, _ = doJSON(t, server, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "ada", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rr.Code)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "ada", "password": "hunter2",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}

	access, _ := payload["accessToken"].(string)
	refresh, _ := payload["refreshToken"].(string)
	rr, payload = doJSON(t, server, http.MethodPost, "/api/users/refresh-token", "", map[string]string{
		"accessToken": access, "refreshToken": refresh,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["username"] != "ada" {
		t.Fatalf("refresh payload = %v", payload)
	}
}

func TestDuplicateUsernameConflicts(t *testing.T) {
	server := newTestServer(&fakeStore{})
	registerUser(t, server, "ada")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/users", "", map[string]string{
		"username": "ada", "password": "other",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestListsRequireASession(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr, _ := doJSON(t, server, http.MethodGet, "/api/todo-lists", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/todo-lists", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rr.Code)
	}
}

func TestRolesEndpointIsPublic(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rr, payload := doJSON(t, server, http.MethodGet, "/api/todo-lists/roles", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	roles, _ := payload["roles"].([]any)
	if len(roles) != 3 {
		t.Fatalf("roles = %v, want owner/editor/viewer", payload)
	}
}

func TestListLifecycleOverHTTP(t *testing.T) {
	description := "weekly shop"
	fs := &fakeStore{
		findListsForUserFn: func(context.Context, int64) ([]store.ListWithRole, error) {
			return []store.ListWithRole{{ID: 1, Name: "Groceries", Role: "owner"}}, nil
		},
		findListForUserFn: func(_ context.Context, listID, userID int64) (store.ListWithRole, error) {
			return store.ListWithRole{ID: listID, Name: "Groceries", Role: "owner"}, nil
		},
	}
	server := newTestServer(fs)
	token, _ := registerUser(t, server, "ada")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/todo-lists", token, map[string]any{
		"name": "Groceries", "description": description,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["role"] != "owner" {
		t.Fatalf("create payload = %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/todo-lists", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status = %d", rr.Code)
	}
	lists, _ := payload["todo_lists"].([]any)
	if len(lists) != 1 {
		t.Fatalf("lists = %v", payload)
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/todo-lists/1", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestViewerCannotMutateItems(t *testing.T) {
	fs := &fakeStore{
		findListForUserFn: func(_ context.Context, listID, userID int64) (store.ListWithRole, error) {
			return store.ListWithRole{ID: listID, Name: "shared", Role: "viewer"}, nil
		},
	}
	server := newTestServer(fs)
	token, _ := registerUser(t, server, "casey")

	rr, _ := doJSON(t, server, http.MethodPost, "/api/todo-lists/1/todos", token, map[string]string{
		"description": "sneaky",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("create item status = %d, want 403", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodGet, "/api/todo-lists/1/todos", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("read items status = %d, want 200", rr.Code)
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/todo-lists/1/todos/3", token, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("delete item status = %d, want 403", rr.Code)
	}
}

func TestItemUpdateOverHTTP(t *testing.T) {
	var gotPatch store.ItemPatch
	fs := &fakeStore{
		findListForUserFn: func(_ context.Context, listID, userID int64) (store.ListWithRole, error) {
			return store.ListWithRole{ID: listID, Role: "editor"}, nil
		},
		updateItemFn: func(_ context.Context, itemID int64, patch store.ItemPatch) (store.TodoItem, error) {
			gotPatch = patch
			return store.TodoItem{ID: itemID, Completed: patch.Completed != nil && *patch.Completed}, nil
		},
	}
	server := newTestServer(fs)
	token, _ := registerUser(t, server, "brian")

	rr, payload := doJSON(t, server, http.MethodPut, "/api/todo-lists/1/todos/3", token, map[string]any{
		"completed": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["completed"] != true {
		t.Fatalf("update payload = %v", payload)
	}
	if gotPatch.Completed == nil || !*gotPatch.Completed {
		t.Fatal("completed flag did not reach the store")
	}
	if gotPatch.Description != nil {
		t.Fatal("untouched fields should stay nil in the patch")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rr, _ := doJSON(t, server, http.MethodGet, "/api/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
