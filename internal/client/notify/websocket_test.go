package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newPushServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketDialer_ReadsEvents(t *testing.T) {
	srv := newPushServer(t,
		`not json`,
		`{"data":{}}`,
		`{"event":"order_update","data":{"order_id":"55","status":"preparing"}}`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWebsocketDialer(wsURL(srv), nil).Dial(ctx, "good-token")
	require.NoError(t, err)

	ev, err := conn.ReadEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventOrderUpdate, ev.Name)
	assert.JSONEq(t, `{"order_id":"55","status":"preparing"}`, string(ev.Data))

	require.NoError(t, conn.Close())
	_, err = conn.ReadEvent(ctx)
	assert.Error(t, err)
}

func TestWebsocketDialer_RejectedCredential(t *testing.T) {
	srv := newPushServer(t)

	_, err := NewWebsocketDialer(wsURL(srv), nil).Dial(context.Background(), "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestWebsocketDialer_Unreachable(t *testing.T) {
	srv := newPushServer(t)
	url := wsURL(srv)
	srv.Close()

	_, err := NewWebsocketDialer(url, nil).Dial(context.Background(), "good-token")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestChannel_OverWebsocket(t *testing.T) {
	srv := newPushServer(t,
		`{"event":"notification","data":{"type":"delivery","title":"Rider nearby","message":"Amine is 2 minutes away"}}`,
	)
	log := newTestLog()
	alerter := &recordingAlerter{perm: PermissionGranted}

	ch := NewChannel(NewWebsocketDialer(wsURL(srv), nil), log, WithAlerter(alerter))
	sub := ch.Connect("good-token")

	require.Eventually(t, func() bool { return log.Len() == 1 }, waitFor, tick)
	assert.Equal(t, "Rider nearby", log.List()[0].Title)

	sub.Close()
	assert.Equal(t, Disconnected, ch.State())
}

func TestWriterAlerter(t *testing.T) {
	var buf bytes.Buffer
	a := NewWriterAlerter(&buf, PermissionDefault)
	assert.Equal(t, PermissionDefault, a.Permission())

	a.SetPermission(PermissionGranted)
	assert.Equal(t, "granted", a.Permission().String())

	a.Alert("Order Update", "ready")
	assert.Equal(t, "\n\a[Order Update] ready\n", buf.String())
}

func TestLogAlerter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := LogAlerter{Log: zap.New(core)}

	assert.Equal(t, PermissionGranted, a.Permission())
	a.Alert("Promo", "Couscous Friday")

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Promo", entries[0].ContextMap()["title"])
	assert.Equal(t, "Couscous Friday", entries[0].ContextMap()["body"])
}
