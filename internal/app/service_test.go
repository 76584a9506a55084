package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"taskhive/api/internal/accounts"
	"taskhive/api/internal/rbac"
	"taskhive/api/internal/store"
)

type fakeStore struct {
	pingFn             func(context.Context) error
	getUserByIDFn      func(context.Context, int64) (store.User, error)
	searchUsersFn      func(context.Context, string, int) ([]store.UserDTO, error)
	findListsForUserFn func(context.Context, int64) ([]store.ListWithRole, error)
	findListForUserFn  func(context.Context, int64, int64) (store.ListWithRole, error)
	listNameTakenFn    func(context.Context, int64, string) (bool, error)
	createListFn       func(context.Context, int64, string, *string) (store.ListWithRole, error)
	updateListFn       func(context.Context, int64, string, *string) (store.TodoList, error)
	deleteListFn       func(context.Context, int64) error
	cloneListFn        func(context.Context, int64, int64, string) (store.ListWithRole, error)
	addListMembersFn   func(context.Context, int64, []int64, string) error
	listMembersFn      func(context.Context, int64) ([]store.ListMember, error)
	listItemsFn        func(context.Context, int64) ([]store.TodoItem, error)
	getItemFn          func(context.Context, int64, int64) (store.TodoItem, error)
	createItemFn       func(context.Context, int64, int64, string, *time.Time) (store.TodoItem, error)
	updateItemFn       func(context.Context, int64, store.ItemPatch) (store.TodoItem, error)
	deleteItemFn       func(context.Context, int64, int64) error
	cloneItemFn        func(context.Context, int64, int64, int64) (store.TodoItem, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Username: fmt.Sprintf("user-%d", userID)}, nil
}
func (f *fakeStore) SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error) {
	if f.searchUsersFn != nil {
		return f.searchUsersFn(ctx, queryString, limit)
	}
	return nil, nil
}
func (f *fakeStore) FindListsForUser(ctx context.Context, userID int64) ([]store.ListWithRole, error) {
	if f.findListsForUserFn != nil {
		return f.findListsForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) FindListForUser(ctx context.Context, listID, userID int64) (store.ListWithRole, error) {
	if f.findListForUserFn != nil {
		return f.findListForUserFn(ctx, listID, userID)
	}
	return store.ListWithRole{}, sql.ErrNoRows
}
func (f *fakeStore) ListNameTaken(ctx context.Context, authorID int64, name string) (bool, error) {
	if f.listNameTakenFn != nil {
		return f.listNameTakenFn(ctx, authorID, name)
	}
	return false, nil
}
func (f *fakeStore) CreateList(ctx context.Context, authorID int64, name string, description *string) (store.ListWithRole, error) {
	if f.createListFn != nil {
		return f.createListFn(ctx, authorID, name, description)
	}
	return store.ListWithRole{ID: 1, Name: name, Description: description, Role: "owner"}, nil
}
func (f *fakeStore) UpdateList(ctx context.Context, listID int64, name string, description *string) (store.TodoList, error) {
	if f.updateListFn != nil {
		return f.updateListFn(ctx, listID, name, description)
	}
	return store.TodoList{ID: listID, Name: name, Description: description}, nil
}
func (f *fakeStore) DeleteList(ctx context.Context, listID int64) error {
	if f.deleteListFn != nil {
		return f.deleteListFn(ctx, listID)
	}
	return nil
}
func (f *fakeStore) CloneList(ctx context.Context, srcListID, authorID int64, name string) (store.ListWithRole, error) {
	if f.cloneListFn != nil {
		return f.cloneListFn(ctx, srcListID, authorID, name)
	}
	return store.ListWithRole{ID: srcListID + 1, Name: name, Role: "owner"}, nil
}
func (f *fakeStore) AddListMembers(ctx context.Context, listID int64, userIDs []int64, role string) error {
	if f.addListMembersFn != nil {
		return f.addListMembersFn(ctx, listID, userIDs, role)
	}
	return nil
}
func (f *fakeStore) ListMembers(ctx context.Context, listID int64) ([]store.ListMember, error) {
	if f.listMembersFn != nil {
		return f.listMembersFn(ctx, listID)
	}
	return nil, nil
}
func (f *fakeStore) ListItems(ctx context.Context, listID int64) ([]store.TodoItem, error) {
	if f.listItemsFn != nil {
		return f.listItemsFn(ctx, listID)
	}
	return nil, nil
}
func (f *fakeStore) GetItem(ctx context.Context, itemID, listID int64) (store.TodoItem, error) {
	if f.getItemFn != nil {
		return f.getItemFn(ctx, itemID, listID)
	}
	return store.TodoItem{ID: itemID, TodoListID: listID}, nil
}
func (f *fakeStore) CreateItem(ctx context.Context, authorID, listID int64, description string, dueDate *time.Time) (store.TodoItem, error) {
	if f.createItemFn != nil {
		return f.createItemFn(ctx, authorID, listID, description, dueDate)
	}
	return store.TodoItem{ID: 1, AuthorID: authorID, TodoListID: listID, Description: description, DueDate: dueDate}, nil
}
func (f *fakeStore) UpdateItem(ctx context.Context, itemID int64, patch store.ItemPatch) (store.TodoItem, error) {
	if f.updateItemFn != nil {
		return f.updateItemFn(ctx, itemID, patch)
	}
	return store.TodoItem{ID: itemID}, nil
}
func (f *fakeStore) DeleteItem(ctx context.Context, itemID, listID int64) error {
	if f.deleteItemFn != nil {
		return f.deleteItemFn(ctx, itemID, listID)
	}
	return nil
}
func (f *fakeStore) CloneItem(ctx context.Context, itemID, authorID, targetListID int64) (store.TodoItem, error) {
	if f.cloneItemFn != nil {
		return f.cloneItemFn(ctx, itemID, authorID, targetListID)
	}
	return store.TodoItem{ID: itemID + 1, AuthorID: authorID, TodoListID: targetListID}, nil
}

// memUserStore is an in-memory accounts.UserStore for tests that exercise
// the registration and login flow end to end.
type memUserStore struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]store.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{byName: make(map[string]store.User)}
}

func (m *memUserStore) CreateUser(_ context.Context, username, passwordHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user := store.User{ID: m.nextID, Username: username, PasswordHash: passwordHash}
	m.byName[username] = user
	return user, nil
}

func (m *memUserStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byName[username]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

type fakeSearch struct {
	fs      *fakeStore
	indexed []store.UserDTO
}

func (f *fakeSearch) SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error) {
	return f.fs.SearchUsers(ctx, queryString, limit)
}
func (f *fakeSearch) IndexUser(user store.UserDTO) {
	f.indexed = append(f.indexed, user)
}

func newTestService(fs *fakeStore) *Service {
	acc := accounts.NewService(newMemUserStore(), nil, "test-secret", time.Hour, 24*time.Hour)
	return NewService(fs, acc, &fakeSearch{fs: fs})
}

func roleStore(roles map[int64]string) *fakeStore {
	return &fakeStore{
		findListForUserFn: func(_ context.Context, listID, userID int64) (store.ListWithRole, error) {
			role, ok := roles[userID]
			if !ok {
				return store.ListWithRole{}, sql.ErrNoRows
			}
			return store.ListWithRole{ID: listID, Name: "shared", Role: role}, nil
		},
	}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	return domainErr.Status
}

func TestAuthorizeListAccess(t *testing.T) {
	svc := newTestService(roleStore(map[int64]string{
		1: "owner",
		2: "editor",
		3: "viewer",
	}))
	ctx := context.Background()

	cases := []struct {
		name       string
		userID     int64
		allowed    []rbac.Role
		wantStatus int
	}{
		{"owner may do owner things", 1, []rbac.Role{rbac.RoleOwner}, 0},
		{"editor may write", 2, rbac.Writers, 0},
		{"viewer may read", 3, rbac.All, 0},
		{"editor is not owner", 2, []rbac.Role{rbac.RoleOwner}, http.StatusForbidden},
		{"viewer may not write", 3, rbac.Writers, http.StatusForbidden},
		{"stranger sees nothing", 9, rbac.All, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.AuthorizeListAccess(ctx, 7, tc.userID, tc.allowed...)
			if tc.wantStatus == 0 {
				if err != nil {
					t.Fatalf("expected access, got %v", err)
				}
				return
			}
			if got := domainStatus(t, err); got != tc.wantStatus {
				t.Fatalf("status = %d, want %d", got, tc.wantStatus)
			}
		})
	}
}

func TestCloneListRejectsNameCollision(t *testing.T) {
	fs := &fakeStore{
		listNameTakenFn: func(context.Context, int64, string) (bool, error) { return true, nil },
	}
	svc := newTestService(fs)

	_, err := svc.CloneList(context.Background(), 1, 1, "Groceries")
	if got := domainStatus(t, err); got != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", got, http.StatusBadRequest)
	}
}

func TestCloneListMissingSource(t *testing.T) {
	fs := &fakeStore{
		cloneListFn: func(context.Context, int64, int64, string) (store.ListWithRole, error) {
			return store.ListWithRole{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	_, err := svc.CloneList(context.Background(), 99, 1, "Groceries")
	if got := domainStatus(t, err); got != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", got, http.StatusNotFound)
	}
}

func TestShareListRequiresOwner(t *testing.T) {
	svc := newTestService(roleStore(map[int64]string{2: "editor"}))

	err := svc.ShareList(context.Background(), 7, 2, []int64{5}, "viewer")
	if got := domainStatus(t, err); got != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", got, http.StatusForbidden)
	}
}

func TestShareListValidatesRole(t *testing.T) {
	svc := newTestService(roleStore(map[int64]string{1: "owner"}))

	err := svc.ShareList(context.Background(), 7, 1, []int64{5}, "superuser")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", got, http.StatusUnprocessableEntity)
	}
}

func TestShareListRejectsUnknownUser(t *testing.T) {
	fs := roleStore(map[int64]string{1: "owner"})
	fs.getUserByIDFn = func(context.Context, int64) (store.User, error) {
		return store.User{}, sql.ErrNoRows
	}
	svc := newTestService(fs)

	err := svc.ShareList(context.Background(), 7, 1, []int64{42}, "viewer")
	if got := domainStatus(t, err); got != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", got, http.StatusNotFound)
	}
}

func TestUpdateItemOnMissingItem(t *testing.T) {
	fs := roleStore(map[int64]string{1: "editor"})
	fs.getItemFn = func(context.Context, int64, int64) (store.TodoItem, error) {
		return store.TodoItem{}, sql.ErrNoRows
	}
	svc := newTestService(fs)

	done := true
	_, err := svc.UpdateItem(context.Background(), 7, 3, 1, store.ItemPatch{Completed: &done})
	if got := domainStatus(t, err); got != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", got, http.StatusNotFound)
	}
}

func TestRegisterIndexesUser(t *testing.T) {
	fs := &fakeStore{}
	acc := accounts.NewService(newMemUserStore(), nil, "test-secret", time.Hour, 24*time.Hour)
	idx := &fakeSearch{fs: fs}
	svc := NewService(fs, acc, idx)

	data, err := svc.Register(context.Background(), "ada", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if len(idx.indexed) != 1 || idx.indexed[0].Username != "ada" {
		t.Fatalf("indexed = %+v, want ada", idx.indexed)
	}

	_, err = svc.Register(context.Background(), "ada", "hunter2")
	if got := domainStatus(t, err); got != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", got, http.StatusConflict)
	}
}
