package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"taskhive/api/internal/auth"
	"taskhive/api/internal/store"
)

// Actions understood by the collaborative channel. Anything else arriving
// from a client is a conscious no-op.
const (
	ActionConnect             = "connect"
	ActionInit                = "init"
	ActionDisconnect          = "disconnect"
	ActionItemCreate          = "todo_item_create"
	ActionItemUpdate          = "todo_item_update"
	ActionItemDelete          = "todo_item_delete"
	ActionItemOpenForEditing  = "todo_item_open_for_editing"
	ActionItemCloseEditing    = "todo_item_close_editing"
	ActionItemEditDescription = "todo_item_edit_description"
)

type clientMessage struct {
	Action      string  `json:"action"`
	TodoItemID  *int64  `json:"todo_item_id"`
	Description *string `json:"description"`
}

type itemEvent struct {
	Action     string `json:"action"`
	TodoItemID *int64 `json:"todo_item_id"`
}

type editEvent struct {
	Action      string  `json:"action"`
	TodoItemID  *int64  `json:"todo_item_id"`
	Description *string `json:"description"`
}

type userEvent struct {
	Action string        `json:"action"`
	User   store.UserDTO `json:"user"`
}

type initEvent struct {
	Action string        `json:"action"`
	Data   StateSnapshot `json:"data"`
}

// ListResolver confirms a user can see a list. Any resolvable role,
// including viewer, is enough to join a session.
type ListResolver interface {
	ResolveListForUser(ctx context.Context, listID, userID int64) error
}

// Handler upgrades HTTP requests to websocket sessions and runs the channel
// protocol over them.
type Handler struct {
	registry *Registry
	secret   []byte
	lists    ListResolver
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, secret []byte, lists ListResolver) *Handler {
	return &Handler{
		registry: registry,
		secret:   secret,
		lists:    lists,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeEcho handles the anonymous broadcast endpoint. Messages are plain
// text; the sender gets a personal acknowledgement and everyone else gets
// the relayed message.
func (h *Handler) ServeEcho(w http.ResponseWriter, r *http.Request, clientID string) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade echo connection: %v", err)
		return
	}
	h.runEcho(sock, clientID)
}

func (h *Handler) runEcho(sock Socket, clientID string) {
	conn := h.registry.Connect(sock)
	for {
		_, msg, err := sock.ReadMessage()
		if err != nil {
			h.registry.Disconnect(conn)
			h.registry.Broadcast(fmt.Appendf(nil, "Client #%s left the chat", clientID), conn)
			conn.Close()
			return
		}
		h.registry.SendPersonal(conn, fmt.Appendf(nil, "You wrote: %s", msg))
		h.registry.Broadcast(fmt.Appendf(nil, "Client #%s says: %s", clientID, msg), conn)
	}
}

// ServeTodoList handles the collaborative endpoint for one list. The access
// token travels in the handshake query string since browsers cannot set
// headers on websocket upgrades.
func (h *Handler) ServeTodoList(w http.ResponseWriter, r *http.Request, listID int64) {
	token := r.URL.Query().Get("access_token")
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade todo list connection: %v", err)
		return
	}
	h.runTodoList(r.Context(), sock, listID, token)
}

// runTodoList drives one collaborative session: the transport is registered
// first, then the identity and list access checks run, then the action loop.
func (h *Handler) runTodoList(ctx context.Context, sock Socket, listID int64, token string) {
	conn := h.registry.Connect(sock)

	user, err := h.authenticate(token)
	if err != nil {
		h.registry.Disconnect(conn)
		conn.CloseWithCode(websocket.ClosePolicyViolation, "authentication required")
		return
	}

	h.broadcastJSON(userEvent{Action: ActionConnect, User: user}, conn)
	h.registry.AddUser(user)

	if err := h.lists.ResolveListForUser(ctx, listID, user.ID); err != nil {
		h.registry.RemoveUser(user.ID)
		h.registry.Disconnect(conn)
		conn.CloseWithCode(websocket.ClosePolicyViolation, "list access denied")
		return
	}

	if snap := h.registry.Snapshot(); !snap.Empty() {
		h.sendJSON(conn, initEvent{Action: ActionInit, Data: snap})
	}

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			h.leave(conn, user)
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case ActionItemCreate, ActionItemUpdate, ActionItemDelete,
			ActionItemOpenForEditing, ActionItemCloseEditing:
			// Notification only; persistence happens through the CRUD API.
			// The sender is included so every participant converges on the
			// same event stream.
			h.broadcastJSON(itemEvent{Action: msg.Action, TodoItemID: msg.TodoItemID}, nil)

		case ActionItemEditDescription:
			h.broadcastJSON(editEvent{
				Action:      msg.Action,
				TodoItemID:  msg.TodoItemID,
				Description: msg.Description,
			}, nil)
			if msg.TodoItemID != nil {
				h.registry.SetEditState(*msg.TodoItemID, msg.Description)
			}

		case ActionDisconnect:
			h.leave(conn, user)
			conn.CloseWithCode(websocket.CloseNormalClosure, "")
			return

		default:
			// Unknown actions are ignored without an error; the channel has
			// no in-band error message type.
		}
	}
}

// leave converges the graceful and abrupt termination paths: deregister,
// clear presence, announce to the remaining participants.
func (h *Handler) leave(conn *Conn, user store.UserDTO) {
	h.registry.Disconnect(conn)
	h.registry.RemoveUser(user.ID)
	h.broadcastJSON(userEvent{Action: ActionDisconnect, User: user}, conn)
}

func (h *Handler) authenticate(token string) (store.UserDTO, error) {
	if token == "" {
		return store.UserDTO{}, errors.New("missing access token")
	}
	claims, err := auth.ParseToken(h.secret, token)
	if err != nil {
		return store.UserDTO{}, err
	}
	if claims.UserID == 0 || claims.Username == "" {
		return store.UserDTO{}, errors.New("token carries no identity")
	}
	return store.UserDTO{ID: claims.UserID, Username: claims.Username}, nil
}

func (h *Handler) broadcastJSON(v any, exclude *Conn) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("live: marshal broadcast: %v", err)
		return
	}
	h.registry.Broadcast(data, exclude)
}

func (h *Handler) sendJSON(conn *Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("live: marshal personal message: %v", err)
		return
	}
	h.registry.SendPersonal(conn, data)
}
