package service

import (
	"context"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Notifier announces joins to a room and departures to everyone.
type Notifier struct {
	gateway port.RealTimeGateway
	rooms   port.RoomRepository
}

func NewNotifier(gateway port.RealTimeGateway, rooms port.RoomRepository) *Notifier {
	return &Notifier{
		gateway: gateway,
		rooms:   rooms,
	}
}

// NotifyPeerJoined reaches every current member of room, the joiner included.
func (n *Notifier) NotifyPeerJoined(ctx context.Context, room domain.RoomID, id domain.ConnectionID) {
	members := n.rooms.Members(ctx, room)
	if err := n.gateway.SendEventToMany(ctx, members, domain.NewPeerJoined(id)); err != nil {
		log.Warn().Err(err).Str("room_id", room.String()).Str("client_id", id.String()).Msg("Join notification partially delivered")
	}
}

// NotifyPeerLeft is global: every connected identity hears about the
// departure whether or not it shared a room with id.
func (n *Notifier) NotifyPeerLeft(ctx context.Context, id domain.ConnectionID) {
	if err := n.gateway.BroadcastEvent(ctx, domain.NewPeerLeft(id)); err != nil {
		log.Warn().Err(err).Str("client_id", id.String()).Msg("Leave notification partially delivered")
	}
}
