package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startHubServer(t *testing.T, hub *Hub, userID, quizID uuid.UUID) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := hub.RegisterClient(r.Context(), conn, userID, quizID); err != nil {
			conn.WriteJSON(SessionMessage{Type: "error", Payload: map[string]string{"error": err.Error()}})
			conn.Close()
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readUntil(t *testing.T, conn *websocket.Conn, kind string) inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == kind {
			return msg
		}
	}
}

func TestHubRunsSessionOverWebsocket(t *testing.T) {
	_, rdb := newTestRedis(t)
	backend := newFakeBackend(2)
	hub := NewHub(backend, NewSessionStore(rdb))
	go hub.Run()
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	userID, quizID := uuid.New(), uuid.New()
	url := startHubServer(t, hub, userID, quizID)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	readUntil(t, conn, "started")

	for _, q := range backend.questions {
		msg := readUntil(t, conn, "question")
		var payload struct {
			Question PlayableQuestion `json:"question"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, q.ID, payload.Question.ID)

		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"type":    "answer",
			"payload": map[string]string{"question_id": q.ID.String(), "answer": "a"},
		}))
	}

	msg := readUntil(t, conn, "result")
	var result SubmitQuizResult
	require.NoError(t, json.Unmarshal(msg.Payload, &result))
	assert.Equal(t, 20, result.Score)

	// A second socket for the same user and quiz is refused while the first is open.
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	rejected := readUntil(t, second, "error")
	assert.Contains(t, string(rejected.Payload), ErrSessionActive.Error())

	require.Eventually(t, func() bool {
		snap, err := hub.Snapshot(context.Background(), userID, quizID)
		return err == nil && snap != nil && snap.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubSnapshotFollowsTimeouts(t *testing.T) {
	_, rdb := newTestRedis(t)
	hub := NewHub(newFakeBackend(2), NewSessionStore(rdb)).WithQuestionTimeout(50 * time.Millisecond)
	go hub.Run()
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	userID, quizID := uuid.New(), uuid.New()
	url := startHubServer(t, hub, userID, quizID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	msg := readUntil(t, conn, "result")
	var result SubmitQuizResult
	require.NoError(t, json.Unmarshal(msg.Payload, &result))
	assert.Zero(t, result.Score)

	require.Eventually(t, func() bool {
		snap, err := hub.Snapshot(context.Background(), userID, quizID)
		return err == nil && snap != nil && snap.State == StateCompleted && snap.Index == 2 && snap.Total == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubReleasesLeaseOnDisconnect(t *testing.T) {
	_, rdb := newTestRedis(t)
	hub := NewHub(newFakeBackend(2), NewSessionStore(rdb)).WithQuestionTimeout(20 * time.Millisecond)
	go hub.Run()
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	userID, quizID := uuid.New(), uuid.New()
	url := startHubServer(t, hub, userID, quizID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	readUntil(t, conn, "question")
	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	// Timers still firing after teardown must not recreate the lease.
	time.Sleep(100 * time.Millisecond)
	snap, err := hub.Snapshot(context.Background(), userID, quizID)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestHubRejectsUnknownMessages(t *testing.T) {
	hub := NewHub(newFakeBackend(1), nil)
	go hub.Run()
	t.Cleanup(func() { hub.Shutdown(context.Background()) })

	url := startHubServer(t, hub, uuid.New(), uuid.New())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	msg := readUntil(t, conn, "error")
	assert.Contains(t, string(msg.Payload), "unknown message type")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "answer"}))
	readUntil(t, conn, "error")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, conn, "pong")
}

func TestHubShutdownClosesSockets(t *testing.T) {
	hub := NewHub(newFakeBackend(1), nil)
	go hub.Run()

	url := startHubServer(t, hub, uuid.New(), uuid.New())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))
	assert.Zero(t, hub.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
