package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// readTimeout bounds the silence tolerated between frames or pings.
	readTimeout = 70 * time.Second
	writeWait   = 10 * time.Second
)

// WebsocketDialer opens push connections over websocket. The credential is
// presented at handshake as a bearer token; frames are JSON Events.
type WebsocketDialer struct {
	URL    string
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a dialer for url. tlsConfig may be nil.
func NewWebsocketDialer(url string, tlsConfig *tls.Config) *WebsocketDialer {
	d := *websocket.DefaultDialer
	d.TLSClientConfig = tlsConfig
	d.HandshakeTimeout = 10 * time.Second
	return &WebsocketDialer{URL: url, dialer: &d}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := d.dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Status)
			}
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

// ReadEvent implements Conn. Frames that are not JSON events are skipped.
// Cancellation is delivered by Close.
func (c *wsConn) ReadEvent(_ context.Context) (Event, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			continue
		}
		return ev, nil
	}
}

// Close implements Conn.
func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
