package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"taskhive/api/internal/accounts"
	"taskhive/api/internal/rbac"
	"taskhive/api/internal/store"
)

// dataStore is the persistence surface the service depends on. It matches
// *store.PostgresStore; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error)

	FindListsForUser(ctx context.Context, userID int64) ([]store.ListWithRole, error)
	FindListForUser(ctx context.Context, listID, userID int64) (store.ListWithRole, error)
	ListNameTaken(ctx context.Context, authorID int64, name string) (bool, error)
	CreateList(ctx context.Context, authorID int64, name string, description *string) (store.ListWithRole, error)
	UpdateList(ctx context.Context, listID int64, name string, description *string) (store.TodoList, error)
	DeleteList(ctx context.Context, listID int64) error
	CloneList(ctx context.Context, srcListID, authorID int64, name string) (store.ListWithRole, error)
	AddListMembers(ctx context.Context, listID int64, userIDs []int64, role string) error
	ListMembers(ctx context.Context, listID int64) ([]store.ListMember, error)

	ListItems(ctx context.Context, listID int64) ([]store.TodoItem, error)
	GetItem(ctx context.Context, itemID, listID int64) (store.TodoItem, error)
	CreateItem(ctx context.Context, authorID, listID int64, description string, dueDate *time.Time) (store.TodoItem, error)
	UpdateItem(ctx context.Context, itemID int64, patch store.ItemPatch) (store.TodoItem, error)
	DeleteItem(ctx context.Context, itemID, listID int64) error
	CloneItem(ctx context.Context, itemID, authorID, targetListID int64) (store.TodoItem, error)
}

// userSearch is the directory lookup used by the /api/users endpoint.
// *search.Service satisfies it.
type userSearch interface {
	SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error)
	IndexUser(user store.UserDTO)
}

// Service implements the application's operations over the store, the
// account service, and the user directory.
type Service struct {
	store    dataStore
	accounts *accounts.Service
	search   userSearch
}

func NewService(dataStore dataStore, accountSvc *accounts.Service, userSearch userSearch) *Service {
	return &Service{store: dataStore, accounts: accountSvc, search: userSearch}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Register(ctx context.Context, username, password string) (accounts.AuthData, error) {
	data, err := s.accounts.Register(ctx, username, password)
	if err != nil {
		if errors.Is(err, accounts.ErrUsernameTaken) {
			return accounts.AuthData{}, domainError(http.StatusConflict, "USERNAME_TAKEN", "Username already registered")
		}
		return accounts.AuthData{}, domainError(http.StatusBadRequest, "INVALID_REGISTRATION", err.Error())
	}
	s.search.IndexUser(store.UserDTO{ID: data.UserID, Username: data.Username})
	return data, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (accounts.AuthData, error) {
	data, err := s.accounts.Login(ctx, username, password)
	if err != nil {
		return accounts.AuthData{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
	}
	return data, nil
}

func (s *Service) Refresh(ctx context.Context, accessToken, refreshToken string) (accounts.AuthData, error) {
	data, err := s.accounts.Refresh(ctx, accessToken, refreshToken)
	if err != nil {
		return accounts.AuthData{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid")
	}
	return data, nil
}

// Logout revokes the refresh token so it cannot be exchanged for a new pair.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := s.accounts.Logout(ctx, refreshToken); err != nil {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid")
	}
	return nil
}

// SessionFromToken resolves a bearer token into the calling user identity.
func (s *Service) SessionFromToken(token string) (store.UserDTO, error) {
	user, err := s.accounts.SessionFromToken(token)
	if err != nil {
		return store.UserDTO{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
	}
	return user, nil
}

func (s *Service) SearchUsers(ctx context.Context, queryString string, limit int) ([]store.UserDTO, error) {
	return s.search.SearchUsers(ctx, queryString, limit)
}

// Roles lists the grantable list roles.
func (s *Service) Roles() []rbac.Role {
	return rbac.All
}

// AuthorizeListAccess resolves the caller's role on a list and checks it
// against the allowed set. A list the caller cannot see at all reads as not
// found rather than forbidden, so membership is never leaked.
func (s *Service) AuthorizeListAccess(ctx context.Context, listID, userID int64, allowed ...rbac.Role) error {
	list, err := s.store.FindListForUser(ctx, listID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Todo list not found")
	}
	if err != nil {
		return fmt.Errorf("authorize list access: %w", err)
	}
	if !rbac.In(rbac.Role(list.Role), allowed...) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Insufficient role")
	}
	return nil
}

// ResolveListForUser reports whether the list resolves for the user at any
// role. The live channel uses it as its join check.
func (s *Service) ResolveListForUser(ctx context.Context, listID, userID int64) error {
	_, err := s.store.FindListForUser(ctx, listID, userID)
	return err
}

func (s *Service) FindLists(ctx context.Context, userID int64) ([]store.ListWithRole, error) {
	return s.store.FindListsForUser(ctx, userID)
}

func (s *Service) GetList(ctx context.Context, listID, userID int64) (store.ListWithRole, error) {
	list, err := s.store.FindListForUser(ctx, listID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ListWithRole{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo list not found")
	}
	return list, err
}

func (s *Service) CreateList(ctx context.Context, userID int64, name string, description *string) (store.ListWithRole, error) {
	if name == "" {
		return store.ListWithRole{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
	}
	taken, err := s.store.ListNameTaken(ctx, userID, name)
	if err != nil {
		return store.ListWithRole{}, fmt.Errorf("check list name: %w", err)
	}
	if taken {
		return store.ListWithRole{}, domainError(http.StatusBadRequest, "LIST_NAME_TAKEN", "A list with this name already exists")
	}
	return s.store.CreateList(ctx, userID, name, description)
}

func (s *Service) UpdateList(ctx context.Context, listID, userID int64, name string, description *string) (store.TodoList, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.RoleOwner); err != nil {
		return store.TodoList{}, err
	}
	if name == "" {
		return store.TodoList{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
	}
	return s.store.UpdateList(ctx, listID, name, description)
}

func (s *Service) DeleteList(ctx context.Context, listID, userID int64) error {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.RoleOwner); err != nil {
		return err
	}
	return s.store.DeleteList(ctx, listID)
}

// CloneList copies a list and all of its items under the calling user. Any
// authenticated user may clone any list by id.
func (s *Service) CloneList(ctx context.Context, srcListID, userID int64, name string) (store.ListWithRole, error) {
	if name == "" {
		return store.ListWithRole{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
	}
	taken, err := s.store.ListNameTaken(ctx, userID, name)
	if err != nil {
		return store.ListWithRole{}, fmt.Errorf("check list name: %w", err)
	}
	if taken {
		return store.ListWithRole{}, domainError(http.StatusBadRequest, "LIST_NAME_TAKEN", "A list with this name already exists")
	}
	list, err := s.store.CloneList(ctx, srcListID, userID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ListWithRole{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo list not found")
	}
	return list, err
}

// ShareList grants a role on a list to a set of users. Owner only. Duplicate
// grants surface as errors from the uniqueness constraint.
func (s *Service) ShareList(ctx context.Context, listID, userID int64, userIDs []int64, role string) error {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.RoleOwner); err != nil {
		return err
	}
	if !rbac.Valid(rbac.Role(role)) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown role")
	}
	if len(userIDs) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userIds is required")
	}
	for _, id := range userIDs {
		if _, err := s.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("user %d not found", id))
			}
			return fmt.Errorf("resolve user %d: %w", id, err)
		}
	}
	return s.store.AddListMembers(ctx, listID, userIDs, role)
}

func (s *Service) ListMembers(ctx context.Context, listID, userID int64) ([]store.ListMember, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.All...); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, listID)
}

func (s *Service) ListItems(ctx context.Context, listID, userID int64) ([]store.TodoItem, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.All...); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, listID)
}

func (s *Service) GetItem(ctx context.Context, listID, itemID, userID int64) (store.TodoItem, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.All...); err != nil {
		return store.TodoItem{}, err
	}
	item, err := s.store.GetItem(ctx, itemID, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TodoItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo item not found")
	}
	return item, err
}

func (s *Service) CreateItem(ctx context.Context, listID, userID int64, description string, dueDate *time.Time) (store.TodoItem, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.Writers...); err != nil {
		return store.TodoItem{}, err
	}
	if description == "" {
		return store.TodoItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "description is required")
	}
	return s.store.CreateItem(ctx, userID, listID, description, dueDate)
}

func (s *Service) UpdateItem(ctx context.Context, listID, itemID, userID int64, patch store.ItemPatch) (store.TodoItem, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.Writers...); err != nil {
		return store.TodoItem{}, err
	}
	if _, err := s.store.GetItem(ctx, itemID, listID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TodoItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo item not found")
		}
		return store.TodoItem{}, fmt.Errorf("resolve item: %w", err)
	}
	return s.store.UpdateItem(ctx, itemID, patch)
}

func (s *Service) DeleteItem(ctx context.Context, listID, itemID, userID int64) error {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.Writers...); err != nil {
		return err
	}
	err := s.store.DeleteItem(ctx, itemID, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Todo item not found")
	}
	return err
}

// CloneItem copies an item within its list, marking the copy's description.
func (s *Service) CloneItem(ctx context.Context, listID, itemID, userID int64) (store.TodoItem, error) {
	if err := s.AuthorizeListAccess(ctx, listID, userID, rbac.Writers...); err != nil {
		return store.TodoItem{}, err
	}
	if _, err := s.store.GetItem(ctx, itemID, listID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TodoItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo item not found")
		}
		return store.TodoItem{}, fmt.Errorf("resolve item: %w", err)
	}
	item, err := s.store.CloneItem(ctx, itemID, userID, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TodoItem{}, domainError(http.StatusNotFound, "NOT_FOUND", "Todo item not found")
	}
	return item, err
}
