package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created, updated
	`, username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Created, &user.Updated)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created, updated
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Created, &user.Updated)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created, updated
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Created, &user.Updated)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, queryString string, limit int) ([]UserDTO, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username
		FROM users
		WHERE username ILIKE '%' || $1 || '%' OR $1 = ''
		ORDER BY username
		LIMIT $2
	`, queryString, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]UserDTO, 0)
	for rows.Next() {
		var user UserDTO
		if err := rows.Scan(&user.ID, &user.Username); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// --- todo lists ---

// findListsSQL resolves the viewer's role per list: authored lists surface
// as 'owner', everything else comes from the membership grant.
const findListsSQL = `
	SELECT tl.id, tl.name, tl.description, tl.author_id, u.username, 'owner' AS role, tl.created, tl.updated
	FROM todo_list tl
	JOIN users u ON u.id = tl.author_id
	WHERE tl.author_id = $1
	UNION
	SELECT tl.id, tl.name, tl.description, tl.author_id, u.username, m.role, tl.created, tl.updated
	FROM todo_list tl
	JOIN todo_list_member m ON m.todo_list_id = tl.id
	JOIN users u ON u.id = tl.author_id
	WHERE m.user_id = $1
`

func (s *PostgresStore) FindListsForUser(ctx context.Context, userID int64) ([]ListWithRole, error) {
	rows, err := s.db.QueryContext(ctx, findListsSQL+` ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("find lists: %w", err)
	}
	defer rows.Close()

	lists := make([]ListWithRole, 0)
	for rows.Next() {
		list, err := scanListWithRole(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return lists, nil
}

// FindListForUser resolves a single list for a viewer, preferring the
// derived owner role when the viewer is both author and member.
func (s *PostgresStore) FindListForUser(ctx context.Context, listID, userID int64) (ListWithRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (`+findListsSQL+`) resolved
		WHERE id = $2
		ORDER BY (role = 'owner') DESC
		LIMIT 1
	`, userID, listID)
	if err != nil {
		return ListWithRole{}, fmt.Errorf("find list: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ListWithRole{}, fmt.Errorf("find list: %w", err)
		}
		return ListWithRole{}, sql.ErrNoRows
	}
	return scanListWithRole(rows)
}

func scanListWithRole(rows *sql.Rows) (ListWithRole, error) {
	var list ListWithRole
	if err := rows.Scan(&list.ID, &list.Name, &list.Description, &list.Author.ID, &list.Author.Username, &list.Role, &list.Created, &list.Updated); err != nil {
		return ListWithRole{}, fmt.Errorf("scan list: %w", err)
	}
	return list, nil
}

// ListNameTaken reports whether the author already has a list with the name.
func (s *PostgresStore) ListNameTaken(ctx context.Context, authorID int64, name string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM todo_list WHERE author_id = $1 AND name = $2)
	`, authorID, name).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check list name: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) CreateList(ctx context.Context, authorID int64, name string, description *string) (ListWithRole, error) {
	var list ListWithRole
	list.Role = "owner"
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO todo_list (author_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, author_id,
			(SELECT username FROM users WHERE id = $1), created, updated
	`, authorID, name, description).Scan(&list.ID, &list.Name, &list.Description, &list.Author.ID, &list.Author.Username, &list.Created, &list.Updated)
	if err != nil {
		return ListWithRole{}, fmt.Errorf("insert list: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) UpdateList(ctx context.Context, listID int64, name string, description *string) (TodoList, error) {
	var list TodoList
	err := s.db.QueryRowContext(ctx, `
		UPDATE todo_list
		SET name = $2, description = $3, updated = NOW()
		WHERE id = $1
		RETURNING id, author_id, name, description, created, updated
	`, listID, name, description).Scan(&list.ID, &list.AuthorID, &list.Name, &list.Description, &list.Created, &list.Updated)
	if err != nil {
		return TodoList{}, err
	}
	return list, nil
}

// DeleteList removes memberships first to satisfy the foreign key, then the
// list; items go with the list via ON DELETE CASCADE.
func (s *PostgresStore) DeleteList(ctx context.Context, listID int64) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM todo_list_member WHERE todo_list_id = $1`, listID); err != nil {
			return fmt.Errorf("delete list members: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM todo_list WHERE id = $1`, listID)
		if err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// CloneList deep-copies the source list and its items for a new author in a
// single transaction. Descriptions and due dates survive the copy; authorship
// and timestamps reset.
func (s *PostgresStore) CloneList(ctx context.Context, srcListID, authorID int64, name string) (ListWithRole, error) {
	var cloned ListWithRole
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var description *string
		if err := tx.QueryRowContext(ctx, `SELECT description FROM todo_list WHERE id = $1`, srcListID).Scan(&description); err != nil {
			return err
		}

		cloned.Role = "owner"
		err := tx.QueryRowContext(ctx, `
			INSERT INTO todo_list (author_id, name, description)
			VALUES ($1, $2, $3)
			RETURNING id, name, description, author_id,
				(SELECT username FROM users WHERE id = $1), created, updated
		`, authorID, name, description).Scan(&cloned.ID, &cloned.Name, &cloned.Description, &cloned.Author.ID, &cloned.Author.Username, &cloned.Created, &cloned.Updated)
		if err != nil {
			return fmt.Errorf("insert cloned list: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO todo_item (author_id, todo_list_id, description, due_date)
			SELECT $1, $2, description, due_date
			FROM todo_item
			WHERE todo_list_id = $3
			ORDER BY id
		`, authorID, cloned.ID, srcListID); err != nil {
			return fmt.Errorf("clone items: %w", err)
		}
		return nil
	})
	if err != nil {
		return ListWithRole{}, err
	}
	return cloned, nil
}

// --- memberships ---

// AddListMembers bulk-grants a role. Duplicate grants fail on the primary
// key; sharing is owner-only and rare, so that is left to surface as-is.
func (s *PostgresStore) AddListMembers(ctx context.Context, listID int64, userIDs []int64, role string) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, userID := range userIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO todo_list_member (todo_list_id, user_id, role)
				VALUES ($1, $2, $3)
			`, listID, userID, role); err != nil {
				return fmt.Errorf("add member %d: %w", userID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListMembers(ctx context.Context, listID int64) ([]ListMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, m.role
		FROM todo_list_member m
		JOIN users u ON u.id = m.user_id
		WHERE m.todo_list_id = $1
		ORDER BY u.username
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]ListMember, 0)
	for rows.Next() {
		var member ListMember
		if err := rows.Scan(&member.User.ID, &member.User.Username, &member.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// --- todo items ---

func (s *PostgresStore) ListItems(ctx context.Context, listID int64) ([]TodoItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, todo_list_id, description, due_date, completed, created, updated
		FROM todo_item
		WHERE todo_list_id = $1
		ORDER BY id
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]TodoItem, 0)
	for rows.Next() {
		var item TodoItem
		if err := rows.Scan(&item.ID, &item.AuthorID, &item.TodoListID, &item.Description, &item.DueDate, &item.Completed, &item.Created, &item.Updated); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID, listID int64) (TodoItem, error) {
	var item TodoItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, author_id, todo_list_id, description, due_date, completed, created, updated
		FROM todo_item
		WHERE id = $1 AND todo_list_id = $2
	`, itemID, listID).Scan(&item.ID, &item.AuthorID, &item.TodoListID, &item.Description, &item.DueDate, &item.Completed, &item.Created, &item.Updated)
	if err != nil {
		return TodoItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, authorID, listID int64, description string, dueDate *time.Time) (TodoItem, error) {
	var item TodoItem
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO todo_item (author_id, todo_list_id, description, due_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, author_id, todo_list_id, description, due_date, completed, created, updated
	`, authorID, listID, description, dueDate).Scan(&item.ID, &item.AuthorID, &item.TodoListID, &item.Description, &item.DueDate, &item.Completed, &item.Created, &item.Updated)
	if err != nil {
		return TodoItem{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

// UpdateItem applies a partial update under a row lock; unset fields keep
// their stored values.
func (s *PostgresStore) UpdateItem(ctx context.Context, itemID int64, patch ItemPatch) (TodoItem, error) {
	var item TodoItem
	err := WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id, author_id, todo_list_id, description, due_date, completed, created, updated
			FROM todo_item
			WHERE id = $1
			FOR UPDATE
		`, itemID).Scan(&item.ID, &item.AuthorID, &item.TodoListID, &item.Description, &item.DueDate, &item.Completed, &item.Created, &item.Updated)
		if err != nil {
			return err
		}

		if patch.Description != nil {
			item.Description = *patch.Description
		}
		if patch.DueDate != nil {
			item.DueDate = patch.DueDate
		}
		if patch.Completed != nil {
			item.Completed = *patch.Completed
		}

		return tx.QueryRowContext(ctx, `
			UPDATE todo_item
			SET description = $2, due_date = $3, completed = $4, updated = NOW()
			WHERE id = $1
			RETURNING updated
		`, itemID, item.Description, item.DueDate, item.Completed).Scan(&item.Updated)
	})
	if err != nil {
		return TodoItem{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID, listID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM todo_item
		WHERE id = $1 AND todo_list_id = $2
	`, itemID, listID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CloneItem copies an item into a (possibly different) list, marking the
// copy in its description.
func (s *PostgresStore) CloneItem(ctx context.Context, itemID, authorID, targetListID int64) (TodoItem, error) {
	var item TodoItem
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO todo_item (author_id, todo_list_id, description, due_date)
		SELECT $2, $3, description || ' (cloned)', due_date
		FROM todo_item
		WHERE id = $1
		RETURNING id, author_id, todo_list_id, description, due_date, completed, created, updated
	`, itemID, authorID, targetListID).Scan(&item.ID, &item.AuthorID, &item.TodoListID, &item.Description, &item.DueDate, &item.Completed, &item.Created, &item.Updated)
	if err != nil {
		return TodoItem{}, err
	}
	return item, nil
}
