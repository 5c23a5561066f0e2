package port

import (
	"context"

	"github.com/Wyydra/callhub/internal/core/domain"
)

// SignalSender is the client's handle on the relay's SendSignal operation.
type SignalSender interface {
	SendSignal(ctx context.Context, payload string, room domain.RoomID, target domain.ConnectionID) error
}
