package service

import (
	"context"
	"errors"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/port"
	"github.com/rs/zerolog/log"
)

const normalDisconnect = "Normal disconnect"

// RelayService is the server side of signaling. It keeps no state of its
// own: membership lives in the RoomRepository and connections in the gateway.
type RelayService struct {
	gateway  port.RealTimeGateway
	rooms    port.RoomRepository
	notifier *Notifier

	purgeOnDisconnect bool
}

type RelayOption func(*RelayService)

// WithRoomPurge controls whether a disconnecting identity is removed from
// every room it joined.
func WithRoomPurge(enabled bool) RelayOption {
	return func(s *RelayService) {
		s.purgeOnDisconnect = enabled
	}
}

func NewRelayService(gateway port.RealTimeGateway, rooms port.RoomRepository, opts ...RelayOption) *RelayService {
	s := &RelayService{
		gateway:           gateway,
		rooms:             rooms,
		notifier:          NewNotifier(gateway, rooms),
		purgeOnDisconnect: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RelayService) OnConnect(ctx context.Context, id domain.ConnectionID) {
	log.Info().Str("client_id", id.String()).Msg("Client connected")
}

func (s *RelayService) OnDisconnect(ctx context.Context, id domain.ConnectionID, cause error) {
	reason := normalDisconnect
	if cause != nil {
		reason = cause.Error()
	}
	log.Info().Str("client_id", id.String()).Str("reason", reason).Msg("Client disconnected")

	s.gateway.Forget(ctx, id)

	if s.purgeOnDisconnect {
		left := s.rooms.RemoveEverywhere(ctx, id)
		if len(left) > 0 {
			log.Debug().Str("client_id", id.String()).Int("rooms", len(left)).Msg("Purged room memberships")
		}
	}

	s.notifier.NotifyPeerLeft(ctx, id)
}

func (s *RelayService) JoinRoom(ctx context.Context, id domain.ConnectionID, roomID string) error {
	room, err := domain.ParseRoomID(roomID)
	if err != nil {
		return err
	}

	s.rooms.Add(ctx, room, id)
	log.Info().Str("client_id", id.String()).Str("room_id", room.String()).Msg("User joined room")

	s.notifier.NotifyPeerJoined(ctx, room, id)
	return nil
}

// SendSignal forwards payload to target. room is only logged; it plays no
// part in addressing. A missing target is not an error.
func (s *RelayService) SendSignal(ctx context.Context, from domain.ConnectionID, payload string, room string, target domain.ConnectionID) {
	log.Info().
		Str("from", from.String()).
		Str("to", target.String()).
		Str("room_id", room).
		Str("signal_type", string(domain.ClassifySignal(payload))).
		Msg("Relaying signal")

	err := s.gateway.SendEvent(ctx, target, domain.NewSignalDelivery(from, payload))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConnectionNotFound), errors.Is(err, domain.ErrConnectionClosed):
		log.Debug().Str("to", target.String()).Msg("Signal target is not connected, dropping")
	default:
		log.Warn().Err(err).Str("to", target.String()).Msg("Failed to queue signal")
	}
}
