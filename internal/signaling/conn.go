package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

// conn is one connected endpoint. Outbound messages go through a bounded
// queue drained by writePump so no hub operation ever blocks on a peer's
// network; a peer that cannot keep up is dropped.
type conn struct {
	srv *Server
	log *slog.Logger

	id       string
	username string

	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// enqueue queues an outbound message. A full queue means the peer is too far
// behind to be useful as a signaling counterpart; the connection is closed
// and enqueue reports false.
func (c *conn) enqueue(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal server message", "err", err, "type", msg.Type)
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send queue full, dropping connection", "username", c.username)
		c.close()
		return false
	}
}

func (c *conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close is safe to call from any goroutine and any number of times. Closing
// the websocket unblocks the read loop, whose deferred cleanup does the
// directory/pool teardown.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.close()
}
