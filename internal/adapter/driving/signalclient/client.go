package signalclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/callhub/internal/adapter/wire"
	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Protocol        string
	Header          http.Header
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func DefaultOptions() Options {
	return Options{
		Protocol:        wire.ProtocolJSON,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    54 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	return o
}

// Client is a connection to the relay hub. It implements port.SignalSender.
type Client struct {
	id    domain.ConnectionID
	conn  *websocket.Conn
	codec wire.Codec
	opts  Options

	incoming  chan domain.Event
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub at serverURL and waits for the handshake that
// carries the connection's identity.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	codec, err := wire.CodecFor(opts.Protocol)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if codec != wire.JSON {
		q := u.Query()
		q.Set("protocol", codec.Name())
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		codec:    codec,
		opts:     opts,
		incoming: make(chan domain.Event, 16),
		outgoing: make(chan []byte, 16),
		done:     make(chan struct{}),
	}

	id, err := c.handshake(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.id = id

	c.conn.SetReadLimit(opts.MaxMessageBytes)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) handshake(ctx context.Context) (domain.ConnectionID, error) {
	deadline := time.Now().Add(c.opts.PongWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)

	ev, err := c.read()
	if err != nil {
		return "", fmt.Errorf("read handshake: %w", err)
	}
	if ev.Kind != domain.EventHandshake || ev.ConnectionID == "" {
		return "", fmt.Errorf("%w: expected handshake, got %s", domain.ErrBadInvocation, ev.Kind)
	}
	return ev.ConnectionID, nil
}

func (c *Client) read() (domain.Event, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return domain.Event{}, err
	}
	return c.decode(b)
}

func (c *Client) decode(b []byte) (domain.Event, error) {
	f, err := c.codec.Decode(b)
	if err != nil {
		return domain.Event{}, err
	}
	return wire.ToEvent(f)
}

// ID is the identity the hub assigned in its handshake.
func (c *Client) ID() domain.ConnectionID {
	return c.id
}

// readPump reads events from the hub until the connection ends.
func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Signaling connection lost")
			}
			return
		}

		ev, err := c.decode(b)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping unreadable event")
			continue
		}

		select {
		case c.incoming <- ev:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued frames and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case b := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(c.codec.MessageType(), b); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) send(ctx context.Context, f wire.Frame) error {
	b, err := c.codec.Encode(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.outgoing <- b:
		return nil
	case <-c.done:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) JoinRoom(ctx context.Context, room domain.RoomID) error {
	return c.send(ctx, wire.JoinRoom(room))
}

func (c *Client) SendSignal(ctx context.Context, payload string, room domain.RoomID, target domain.ConnectionID) error {
	return c.send(ctx, wire.SendSignal(payload, room, target))
}

// Incoming returns the channel of hub events. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan domain.Event {
	return c.incoming
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
