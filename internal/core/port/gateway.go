package port

import (
	"context"

	"github.com/Wyydra/callhub/internal/core/domain"
)

// RealTimeGateway is the transport's view of live connections. Sends are
// fire-and-forget; a nil error only means the event was queued.
type RealTimeGateway interface {
	SendEvent(ctx context.Context, to domain.ConnectionID, ev domain.Event) error
	SendEventToMany(ctx context.Context, to []domain.ConnectionID, ev domain.Event) error
	BroadcastEvent(ctx context.Context, ev domain.Event) error
	// Forget drops the connection from the registry so it is no longer addressable.
	Forget(ctx context.Context, id domain.ConnectionID) bool
}
