package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebsocketDialer opens one WebSocket connection per room against the
// knowledge backend, addressed by room id.
type WebsocketDialer struct {
	baseURL string
}

// NewWebsocketDialer creates a dialer rooted at baseURL, e.g.
// "wss://backend.example.com/ws".
func NewWebsocketDialer(baseURL string) *WebsocketDialer {
	return &WebsocketDialer{baseURL: strings.TrimRight(baseURL, "/")}
}

// DialRoom opens the room's connection. The caller bounds the handshake via
// ctx.
func (d *WebsocketDialer) DialRoom(ctx context.Context, roomID string) (Conn, error) {
	endpoint := d.baseURL + "/rooms/" + url.PathEscape(roomID)
	ws, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, v any) error {
	return wsjson.Write(ctx, c.ws, v)
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, fmt.Errorf("%w: %v", ErrNormalClosure, err)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Close(normal bool, reason string) error {
	code := websocket.StatusNormalClosure
	if !normal {
		code = websocket.StatusInternalError
	}
	return c.ws.Close(code, reason)
}
