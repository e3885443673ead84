package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport consumes the job stream over a WebSocket, one event
// per text message. Used when the backend exposes the stream at
// ws(s)://.../jobs/{id}/events instead of SSE.
type WebSocketTransport struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

func NewWebSocketTransport(baseURL string, dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{BaseURL: strings.TrimRight(baseURL, "/"), Dialer: dialer}
}

func (t *WebSocketTransport) Open(ctx context.Context, jobID string) (Conn, error) {
	url := fmt.Sprintf("%s/jobs/%s/events", t.BaseURL, jobID)
	ws, resp, err := t.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Next() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
		// Binary and control frames are not part of the stream protocol.
	}
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}
