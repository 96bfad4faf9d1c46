package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
)

// Client is a storage.Area backed by a relay connection.
type Client struct {
	conn  *websocket.Conn
	space string

	writeMu sync.Mutex
	nextID  atomic.Uint64
	pending *haxmap.Map[uint64, chan Message]

	events chan storage.Event
	done   chan struct{}
	once   sync.Once
}

// Compile-time interface check.
var _ storage.Area = (*Client)(nil)

// Dial connects to the relay at rawURL and attaches to space. A PIN
// rejection is reported as ErrUnauthorized.
func Dial(ctx context.Context, rawURL, space, pin string) (*Client, error) {
	if space == "" {
		return nil, errors.New("signaling: space is required")
	}
	wsURL, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	target, err := endpoint(wsURL, space, pin)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:    conn,
		space:   space,
		pending: haxmap.New[uint64, chan Message](),
		events:  make(chan storage.Event, storage.DefaultEventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Space returns the space this client is attached to.
func (c *Client) Space() string { return c.space }

// Done is closed once the connection to the relay is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) readLoop() {
	defer func() {
		c.shutdown()
		close(c.events)
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				util.LogDebug("relay connection closed: %v", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypeStorage:
			ev := storage.Event{Key: msg.Key, OldValue: msg.OldValue, NewValue: msg.NewValue, URL: msg.URL}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		case MsgTypeValue, MsgTypeError:
			if ch, ok := c.pending.Get(msg.ID); ok {
				c.pending.Del(msg.ID)
				ch <- msg
				continue
			}
			if msg.Type == MsgTypeError {
				util.LogWarning("relay rejected %q: %s", msg.Key, msg.Error)
			}
		default:
			util.LogDebug("ignoring relay frame of type %q", msg.Type)
		}
	}
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return storage.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// SetItem publishes value under key.
func (c *Client) SetItem(ctx context.Context, key, value string) error {
	return c.send(ctx, Message{Op: OpSet, Key: key, Value: &value})
}

// RemoveItem deletes key in the shared space.
func (c *Client) RemoveItem(ctx context.Context, key string) error {
	return c.send(ctx, Message{Op: OpRemove, Key: key})
}

// Clear deletes every key in the shared space.
func (c *Client) Clear(ctx context.Context) error {
	return c.send(ctx, Message{Op: OpClear})
}

// GetItem asks the relay for the current value of key.
func (c *Client) GetItem(ctx context.Context, key string) (string, bool, error) {
	id := c.nextID.Add(1)
	ch := make(chan Message, 1)
	c.pending.Set(id, ch)
	defer c.pending.Del(id)

	if err := c.send(ctx, Message{Op: OpGet, ID: id, Key: key}); err != nil {
		return "", false, err
	}

	select {
	case msg := <-ch:
		if msg.Type == MsgTypeError {
			return "", false, fmt.Errorf("relay: %s", msg.Error)
		}
		if !msg.Exists || msg.Value == nil {
			return "", false, nil
		}
		return *msg.Value, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-c.done:
		return "", false, storage.ErrClosed
	}
}

// Events returns changes made by other windows of the space. The channel is
// closed when the connection ends.
func (c *Client) Events() <-chan storage.Event { return c.events }

// Close leaves the space. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// shutdown is the read loop's half of Close, used when the relay goes away.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
