package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/metrics"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP with gathered candidates
	// fits comfortably.
	maxMessageSize = 64 * 1024
)

// relayConn binds one WebSocket connection to one storage window. The read
// pump applies ops to the window; the write pump is the only writer on the
// socket and carries both replies and the window's events.
type relayConn struct {
	conn *websocket.Conn
	win  *storage.Window

	out  chan Message
	done chan struct{}
	once sync.Once
}

func newRelayConn(conn *websocket.Conn, win *storage.Window) *relayConn {
	return &relayConn{
		conn: conn,
		win:  win,
		out:  make(chan Message, 16),
		done: make(chan struct{}),
	}
}

// serve blocks until the connection ends, then detaches the window.
func (c *relayConn) serve() {
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.write()
	}()

	c.read()
	c.close()
	wg.Wait()
	c.win.Close()
}

func (c *relayConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *relayConn) read() {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("window %s read error: %v", c.win.ID(), err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(Message{Type: MsgTypeError, Error: "malformed message"})
			continue
		}
		if reply, ok := c.handle(msg); ok {
			c.reply(reply)
		}
	}
}

// handle applies one op to the window. The second return value reports
// whether a reply frame must be sent.
func (c *relayConn) handle(msg Message) (Message, bool) {
	ctx := context.Background()
	metrics.RelayMessages.WithLabelValues(string(msg.Op)).Inc()

	fail := func(err error) (Message, bool) {
		return Message{Type: MsgTypeError, ID: msg.ID, Key: msg.Key, Error: err.Error()}, true
	}

	switch msg.Op {
	case OpSet:
		if msg.Key == "" || msg.Value == nil {
			return Message{Type: MsgTypeError, ID: msg.ID, Key: msg.Key, Error: "set needs key and value"}, true
		}
		if err := c.win.SetItem(ctx, msg.Key, *msg.Value); err != nil {
			return fail(err)
		}
	case OpRemove:
		if err := c.win.RemoveItem(ctx, msg.Key); err != nil {
			return fail(err)
		}
	case OpClear:
		if err := c.win.Clear(ctx); err != nil {
			return fail(err)
		}
	case OpGet:
		value, ok, err := c.win.GetItem(ctx, msg.Key)
		if err != nil {
			return fail(err)
		}
		reply := Message{Type: MsgTypeValue, ID: msg.ID, Key: msg.Key, Exists: ok}
		if ok {
			reply.Value = &value
		}
		return reply, true
	default:
		return Message{Type: MsgTypeError, ID: msg.ID, Error: "unknown op " + string(msg.Op)}, true
	}
	return Message{}, false
}

func (c *relayConn) reply(msg Message) {
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

func (c *relayConn) write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	events := c.win.Events()
	for {
		select {
		case <-c.done:
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg := <-c.out:
			if err := c.send(msg); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				// The space dropped this window for falling behind.
				util.LogWarning("window %s detached: too slow", c.win.ID())
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
					time.Now().Add(writeWait))
				return
			}
			if err := c.send(Message{
				Type:     MsgTypeStorage,
				Key:      ev.Key,
				OldValue: ev.OldValue,
				NewValue: ev.NewValue,
				URL:      ev.URL,
			}); err != nil {
				return
			}
		}
	}
}

func (c *relayConn) send(msg Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}
