package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// UserDTO is the identity shape shared with clients, including live-channel
// announce and init payloads.
type UserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (u User) DTO() UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username}
}

type TodoList struct {
	ID          int64     `json:"id"`
	AuthorID    int64     `json:"author_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// ListWithRole is a todo list annotated with the role it resolves to for a
// particular viewer: "owner" when the viewer authored it, the membership
// role otherwise.
type ListWithRole struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Author      UserDTO   `json:"author"`
	Role        string    `json:"role"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

type TodoItem struct {
	ID          int64      `json:"id"`
	AuthorID    int64      `json:"author_id"`
	TodoListID  int64      `json:"todo_list_id"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Completed   bool       `json:"completed"`
	Created     time.Time  `json:"created"`
	Updated     time.Time  `json:"updated"`
}

type ListMember struct {
	User UserDTO `json:"user"`
	Role string  `json:"role"`
}

// ItemPatch carries a partial item update; nil fields are left unchanged.
// Concurrent updates resolve last-write-wins per field.
type ItemPatch struct {
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Completed   *bool      `json:"completed"`
}
