package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Wyydra/callhub/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callhub/internal/adapter/wire"
	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	codec, err := wire.CodecFor(r.URL.Query().Get("protocol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}
	h.sessions.Add(1)
	defer h.sessions.Done()

	clientID := domain.NewConnectionID()
	client := ws.NewClient(clientID, conn, codec, h.cfg.Client)

	l := log.With().Str("client_id", clientID.String()).Str("protocol", codec.Name()).Logger()
	ctx := context.WithoutCancel(r.Context())

	// The handshake is queued before registration so it is always the first frame.
	if err := client.SendEvent(domain.NewHandshake(clientID)); err != nil {
		l.Error().Err(err).Msg("Failed to queue handshake")
		conn.Close()
		return
	}
	h.Hub.Register(client)
	go client.WritePump()

	h.Relay.OnConnect(ctx, clientID)

	cause := h.readLoop(ctx, client, l)
	h.Relay.OnDisconnect(ctx, clientID, cause)
}

// readLoop dispatches invocations until the connection ends. It returns nil
// for a clean close and the failure otherwise, including faults raised on
// the write side.
func (h *Handler) readLoop(ctx context.Context, c *ws.Client, l zerolog.Logger) error {
	conn := c.Conn()
	opts := c.Options()

	conn.SetReadLimit(opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		return nil
	})

	lim := rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.Burst)
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			// A fault on the write side closes the client first; it wins over
			// whatever the read side saw afterwards.
			if cause := c.Err(); cause != nil {
				return cause
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			select {
			case <-c.Done():
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return err
		}

		if !lim.Allow() {
			l.Warn().Msg("Rate limit exceeded, closing connection")
			c.CloseWith(websocket.ClosePolicyViolation, "rate limit")
			return domain.ErrRateLimited
		}

		frame, err := c.Codec().Decode(b)
		if err != nil {
			l.Warn().Err(err).Msg("Dropping undecodable frame")
			continue
		}
		if err := h.dispatch(ctx, c.ID(), frame); err != nil {
			l.Warn().Err(err).Str("target", frame.Target).Msg("Invocation failed")
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, id domain.ConnectionID, frame wire.Frame) error {
	switch frame.Target {
	case wire.TargetJoinRoom:
		room, err := frame.Arg(0)
		if err != nil {
			return err
		}
		return h.Relay.JoinRoom(ctx, id, room)

	case wire.TargetSendSignal:
		payload, err := frame.Arg(0)
		if err != nil {
			return err
		}
		room, err := frame.Arg(1)
		if err != nil {
			return err
		}
		target, err := frame.Arg(2)
		if err != nil {
			return err
		}
		h.Relay.SendSignal(ctx, id, payload, room, domain.ConnectionID(target))
		return nil

	default:
		return fmt.Errorf("%w: unknown target %q", domain.ErrBadInvocation, frame.Target)
	}
}
