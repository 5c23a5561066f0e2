package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/callhub/internal/adapter/wire"
	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tunes the per-connection pumps.
type Options struct {
	SendBuffer      int
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:      256,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// Client is one websocket connection. Events are queued on send and written
// by a single WritePump goroutine.
type Client struct {
	id    domain.ConnectionID
	conn  *websocket.Conn
	codec wire.Codec
	opts  Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	closeErr error
}

func NewClient(id domain.ConnectionID, conn *websocket.Conn, codec wire.Codec, opts Options) *Client {
	return &Client{
		id:    id,
		conn:  conn,
		codec: codec,
		opts:  opts,
		send:  make(chan []byte, opts.SendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() domain.ConnectionID {
	return c.id
}

func (c *Client) Codec() wire.Codec {
	return c.codec
}

func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) Options() Options {
	return c.opts
}

// SendEvent encodes ev with the connection's codec and queues it.
func (c *Client) SendEvent(ev domain.Event) error {
	b, err := c.codec.Encode(wire.FromEvent(ev))
	if err != nil {
		return err
	}
	return c.Send(b)
}

// Send queues an encoded frame without blocking.
func (c *Client) Send(b []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	default:
		// A consumer this far behind has lost frames; cut it off so both
		// sides start over instead of negotiating across a gap.
		log.Warn().Str("client_id", c.id.String()).Msg("Send queue full, closing connection")
		c.fail(domain.ErrSendQueueFull)
		return domain.ErrSendQueueFull
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
// It returns once the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(c.codec.MessageType(), b); err != nil {
				log.Debug().Err(err).Str("client_id", c.id.String()).Msg("Write failed")
				c.fail(fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// CloseWith sends a close frame carrying code and reason, then closes the client.
func (c *Client) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Debug().Err(err).Str("client_id", c.id.String()).Msg("Failed to send close frame")
	}
	c.Close()
}

// Close stops the write pump. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// fail records cause as the reason the client went away, then closes it.
// Only the first cause is kept.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.closeErr == nil {
		select {
		case <-c.done:
		default:
			c.closeErr = cause
		}
	}
	c.mu.Unlock()
	c.Close()
}

// Err returns the fault that closed the client, or nil if it was closed
// normally or is still open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
