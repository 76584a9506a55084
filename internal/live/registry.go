// Package live implements the real-time collaboration channel: a process-wide
// registry of open websocket connections plus the message protocol that
// broadcasts todo item events between the participants of a list.
package live

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"taskhive/api/internal/store"
)

// sendQueueSize bounds the per-connection outbound queue. A peer that falls
// this far behind is dropped rather than allowed to stall the broadcaster.
const sendQueueSize = 32

// Socket is the transport a Conn writes to and reads from. *websocket.Conn
// satisfies it; tests substitute an in-memory pipe.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type frame struct {
	messageType int
	data        []byte
}

// Conn wraps a Socket with a buffered outbound queue drained by a single
// writer goroutine, so broadcasts never write to the transport concurrently.
type Conn struct {
	sock Socket
	send chan frame
	done chan struct{}

	closeOnce sync.Once
}

func newConn(sock Socket) *Conn {
	return &Conn{
		sock: sock,
		send: make(chan frame, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.send:
			if err := c.sock.WriteMessage(f.messageType, f.data); err != nil {
				c.Close()
				return
			}
			if f.messageType == websocket.CloseMessage {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) enqueue(f frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Close tears down the underlying transport. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.sock.Close(); err != nil {
			log.Printf("live: close connection: %v", err)
		}
	})
}

// CloseWithCode queues a websocket close frame; the writer shuts the
// transport down after flushing it. Falls back to an immediate close when
// the queue is full.
func (c *Conn) CloseWithCode(code int, reason string) {
	data := websocket.FormatCloseMessage(code, reason)
	if !c.enqueue(frame{messageType: websocket.CloseMessage, data: data}) {
		c.Close()
	}
}

// EditState is the in-progress description of a todo item being edited live.
type EditState struct {
	Description *string `json:"description"`
}

// StateSnapshot is the session state sent to a newly joined connection.
// Integer map keys marshal as JSON strings, which is the wire shape clients
// expect for the init payload.
type StateSnapshot struct {
	Users             map[int64]store.UserDTO `json:"users,omitempty"`
	TodoItemEditState map[int64]EditState     `json:"todo_item_edit_state,omitempty"`
}

func (s StateSnapshot) Empty() bool {
	return len(s.Users) == 0 && len(s.TodoItemEditState) == 0
}

// Registry tracks open live connections and owns the shared session state.
// One instance exists per server process; all state lives in memory and is
// lost on restart.
type Registry struct {
	mu        sync.Mutex
	conns     map[*Conn]struct{}
	users     map[int64]store.UserDTO
	editState map[int64]EditState
}

func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[*Conn]struct{}),
		users:     make(map[int64]store.UserDTO),
		editState: make(map[int64]EditState),
	}
}

// Connect registers a transport and starts its writer goroutine.
func (r *Registry) Connect(sock Socket) *Conn {
	c := newConn(sock)
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	go c.writeLoop()
	return c
}

// Disconnect removes a connection from the registry. It does not close the
// transport and does not touch identity-keyed session state; the protocol
// layer owns both.
func (r *Registry) Disconnect(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// SendPersonal delivers a text message to a single connection. A connection
// whose queue is full is dropped and closed.
func (r *Registry) SendPersonal(c *Conn, message []byte) {
	if !c.enqueue(frame{messageType: websocket.TextMessage, data: message}) {
		log.Printf("live: personal send queue full, dropping connection")
		r.Disconnect(c)
		c.Close()
	}
}

// Broadcast delivers a text message to every connection registered at the
// time of the call, except the optionally excluded one. Membership is
// snapshotted under the lock; the sends themselves happen outside it.
func (r *Registry) Broadcast(message []byte, exclude *Conn) {
	r.mu.Lock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(frame{messageType: websocket.TextMessage, data: message}) {
			log.Printf("live: broadcast queue full, dropping connection")
			r.Disconnect(c)
			c.Close()
		}
	}
}

// AddUser records a participant in the shared session state.
func (r *Registry) AddUser(user store.UserDTO) {
	r.mu.Lock()
	r.users[user.ID] = user
	r.mu.Unlock()
}

// RemoveUser clears a participant from the shared session state.
func (r *Registry) RemoveUser(userID int64) {
	r.mu.Lock()
	delete(r.users, userID)
	r.mu.Unlock()
}

// SetEditState upserts the in-progress description for an item. Last write
// wins; arrival order is the only ordering.
func (r *Registry) SetEditState(itemID int64, description *string) {
	r.mu.Lock()
	r.editState[itemID] = EditState{Description: description}
	r.mu.Unlock()
}

// Snapshot copies the current session state for an init payload.
func (r *Registry) Snapshot() StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := StateSnapshot{}
	if len(r.users) > 0 {
		snap.Users = make(map[int64]store.UserDTO, len(r.users))
		for id, u := range r.users {
			snap.Users[id] = u
		}
	}
	if len(r.editState) > 0 {
		snap.TodoItemEditState = make(map[int64]EditState, len(r.editState))
		for id, es := range r.editState {
			snap.TodoItemEditState[id] = es
		}
	}
	return snap
}
