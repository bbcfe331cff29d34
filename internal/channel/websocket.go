package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer opens raw websocket connections. Frames are sent as
// websocket text messages; binary messages from the peer are ignored.
type WebsocketDialer struct {
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) WriteText(text string) error {
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (t *websocketTransport) ReadText() (string, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (t *websocketTransport) Shutdown() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (t *websocketTransport) Close() error {
	return t.conn.Close()
}
