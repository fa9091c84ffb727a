package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is a framed, bidirectional gateway connection. Read blocks until a
// message arrives; Write is safe for concurrent use.
type Conn interface {
	Read() (*Envelope, error)
	Write(env *Envelope) error
	Close() error
}

// websocketConn adapts a websocket connection to the Conn interface.
// Websocket writes are not concurrency-safe, so Write serializes them.
type websocketConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial opens a websocket connection to the given gateway endpoint. Endpoints
// without a scheme are dialed over wss.
func Dial(ctx context.Context, endpoint string) (Conn, error) {
	url := endpoint
	if !strings.Contains(url, "://") {
		url = "wss://" + url
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway %s (status %d): %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial gateway %s: %w", endpoint, err)
	}
	return &websocketConn{conn: conn}, nil
}

func (c *websocketConn) Read() (*Envelope, error) {
	var env Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *websocketConn) Write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *websocketConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
