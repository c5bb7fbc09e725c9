package push

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor, tick = 2 * time.Second, 5 * time.Millisecond

func newHubServer(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+user, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHub_PublishToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())
	url := newHubServer(t, hub)

	alice1 := dial(t, url, "alice")
	alice2 := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	require.Eventually(t, func() bool { return hub.Connected("alice") == 2 && hub.Connected("bob") == 1 }, waitFor, tick)

	n, err := hub.Publish("alice", "order_update", map[string]string{"order_id": "12", "status": "ready"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{alice1, alice2} {
		frame := readEvent(t, conn)
		assert.JSONEq(t, `"order_update"`, string(frame["event"]))
		assert.JSONEq(t, `{"order_id":"12","status":"ready"}`, string(frame["data"]))
	}

	n, err = hub.Broadcast("notification", map[string]string{"title": "Maintenance"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.JSONEq(t, `"notification"`, string(readEvent(t, bob)["event"]))
}

func TestHub_PublishWithoutConnections(t *testing.T) {
	hub := NewHub(zap.NewNop())

	n, err := hub.Publish("nobody", "notification", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = hub.Publish("nobody", "notification", func() {})
	assert.Error(t, err)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop())
	url := newHubServer(t, hub)

	conn := dial(t, url, "carol")
	require.Eventually(t, func() bool { return hub.Connected("carol") == 1 }, waitFor, tick)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connected("carol") == 0 }, waitFor, tick)
}

func TestHub_Pings(t *testing.T) {
	hub := NewHub(zap.NewNop(), WithPingPeriod(50*time.Millisecond))
	url := newHubServer(t, hub)

	conn := dial(t, url, "dave")
	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return pings.Load() >= 2 }, waitFor, tick)
	assert.Equal(t, 1, hub.Connected("dave"), "answered pings keep the connection alive")
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zap.NewNop())
	url := newHubServer(t, hub)

	conn := dial(t, url, "erin")
	require.Eventually(t, func() bool { return hub.Connected("erin") == 1 }, waitFor, tick)

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	late, _, err := websocket.DefaultDialer.Dial(url+"?user=erin", nil)
	if err == nil {
		require.NoError(t, late.SetReadDeadline(time.Now().Add(waitFor)))
		_, _, err = late.ReadMessage()
		assert.Error(t, err, "closed hub drops new connections")
		_ = late.Close()
	}
}
