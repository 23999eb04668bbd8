package push

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestHub stands up a server that registers every incoming connection
// under the given sid and returns a connected client.
func dialTestHub(t *testing.T, hub *Hub, sid string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		hub.Register(sid, conn)
		close(registered)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was never registered")
	}
	return conn
}

func TestHubPushDelivers(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	conn := dialTestHub(t, hub, "s1")

	require.NoError(t, hub.Push(context.Background(), "s1", "presence_update", map[string]any{"ped_count": 1}))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "presence_update", msg.Event)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, data["ped_count"])
}

func TestHubPushUnknownSession(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	err := hub.Push(context.Background(), "nobody", "presence_update", nil)
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer hub.Close()

	dialTestHub(t, hub, "s1")
	hub.Unregister("s1")
	hub.Unregister("s1") // double unregister is safe

	err := hub.Push(context.Background(), "s1", "presence_update", nil)
	assert.ErrorIs(t, err, ErrSessionGone)
}
