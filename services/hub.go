package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub tracks every live quiz socket. Each client owns exactly one QuizSession.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	done       chan struct{}
	mutex      sync.RWMutex

	backend AttemptBackend
	store   *SessionStore

	// questionTimeout is passed to every new session; zero keeps each
	// question's own limit.
	questionTimeout time.Duration
}

type Client struct {
	hub     *Hub
	id      string
	socket  *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	quizID  uuid.UUID
	session *QuizSession

	// dirty wakes progressPump after a session state change.
	dirty chan struct{}
	stop  chan struct{}
	saved chan struct{}

	mu     sync.Mutex
	closed bool
}

// Message is the inbound envelope: {"type": "start"} or
// {"type": "answer", "payload": {"question_id": ..., "answer": ...}}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type answerPayload struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func NewHub(backend AttemptBackend, store *SessionStore) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		backend:    backend,
		store:      store,
	}
}

func (h *Hub) WithQuestionTimeout(d time.Duration) *Hub {
	h.questionTimeout = d
	return h
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client registered: %s for quiz %s (user %s) - Total clients: %d", client.id, client.quizID, client.userID, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.teardown()
				log.Printf("Client unregistered: %s for quiz %s (user %s) - Total clients: %d", client.id, client.quizID, client.userID, len(h.clients))
			}
			h.mutex.Unlock()

		case <-h.quit:
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.teardown()
			}
			h.mutex.Unlock()
			log.Printf("Hub stopped, all quiz sessions closed")
			return
		}
	}
}

// Shutdown closes every live session and waits for Run to return.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount is the number of live sockets.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Snapshot reports the live session of a user on a quiz, or nil when there
// is none.
func (h *Hub) Snapshot(ctx context.Context, userID, quizID uuid.UUID) (*SessionSnapshot, error) {
	if h.store == nil {
		return nil, nil
	}
	return h.store.Get(ctx, userID, quizID)
}

// RegisterClient claims the session lease for (user, quiz), starts the pumps
// and hands the socket over to the hub.
func (h *Hub) RegisterClient(ctx context.Context, conn *websocket.Conn, userID, quizID uuid.UUID) (*Client, error) {
	client := &Client{
		hub:    h,
		id:     "client_" + uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
		userID: userID,
		quizID: quizID,
		dirty:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		saved:  make(chan struct{}),
	}

	if h.store != nil {
		if err := h.store.Claim(ctx, client.id, userID, quizID); err != nil {
			return nil, err
		}
	}

	client.session = NewQuizSession(h.backend, userID, quizID, client.deliver)
	if h.questionTimeout > 0 {
		client.session.WithQuestionTimeout(h.questionTimeout)
	}
	go client.progressPump()

	select {
	case h.register <- client:
	case <-h.quit:
		client.teardown()
		return nil, ErrSessionClosed
	}

	go client.writePump()
	go client.readPump()

	return client, nil
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// deliver is the session's notify callback. It never blocks; a client whose
// buffer is full is dropped.
func (c *Client) deliver(msg SessionMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s message for client %s: %v", msg.Type, c.id, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Client %s send buffer full, closing connection", c.id)
		go c.hub.UnregisterClient(c)
	}

	switch msg.Type {
	case "state", "question", "result", "error":
		select {
		case c.dirty <- struct{}{}:
		default:
		}
	}
}

// progressPump writes the session snapshot after every change, including
// the ones driven by question timers.
func (c *Client) progressPump() {
	defer close(c.saved)
	for {
		select {
		case <-c.dirty:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.saveProgress(ctx)
			cancel()
		case <-c.stop:
			return
		}
	}
}

// teardown closes the session before the send channel; the session calls
// deliver while holding its own lock.
func (c *Client) teardown() {
	c.session.Close()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	// A save landing after Release would recreate the lease.
	close(c.stop)
	<-c.saved

	if c.hub.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.hub.store.Release(ctx, c.id, c.userID, c.quizID)
		cancel()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling message: %v", err)
			c.deliver(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": "malformed message"}})
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch msg.Type {
	case "ping":
		c.deliver(SessionMessage{Type: "pong", Payload: "pong"})
		return

	case "start":
		log.Printf("User %s starting quiz %s via WebSocket", c.userID, c.quizID)
		err = c.session.Start(ctx)

	case "answer":
		var p answerPayload
		if jsonErr := json.Unmarshal(msg.Payload, &p); jsonErr != nil {
			c.deliver(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": "malformed answer"}})
			return
		}
		questionID, parseErr := uuid.Parse(p.QuestionID)
		if parseErr != nil {
			c.deliver(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": "invalid question_id"}})
			return
		}
		err = c.session.Answer(ctx, questionID, p.Answer)

	default:
		log.Printf("Unknown message type: %s from user %s in quiz %s", msg.Type, c.userID, c.quizID)
		c.deliver(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": "unknown message type"}})
		return
	}

	if err != nil {
		// Start and submit failures have already been reported by the session.
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleAnswer) {
			c.deliver(SessionMessage{Type: "error", Payload: map[string]interface{}{"error": err.Error()}})
		}
	}
}

func (c *Client) saveProgress(ctx context.Context) {
	if c.hub.store == nil {
		return
	}
	state, attemptID, index, total := c.session.Progress()
	snap := &SessionSnapshot{
		Owner:     c.id,
		UserID:    c.userID,
		QuizID:    c.quizID,
		AttemptID: attemptID,
		State:     state,
		Index:     index,
		Total:     total,
	}
	if err := c.hub.store.Save(ctx, snap); err != nil {
		log.Printf("Error saving progress for client %s: %v", c.id, err)
	}
}
