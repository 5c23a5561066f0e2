package port

import (
	"context"

	"github.com/Wyydra/callhub/internal/core/domain"
)

// NegotiatorHooks are called by a Negotiator from its own goroutines, which
// may start before NewNegotiator has returned to its caller.
type NegotiatorHooks struct {
	OnSignal  func(sig domain.Signal)
	OnStream  func(stream domain.MediaStream)
	OnConnect func()
	OnError   func(err error)
	OnClose   func()
}

// Negotiator is the local side of one WebRTC negotiation with a remote peer.
// An initiator produces its offer on its own after creation.
type Negotiator interface {
	Signal(sig domain.Signal) error
	Close() error
}

type NegotiatorFactory interface {
	NewNegotiator(ctx context.Context, remote domain.ConnectionID, initiator bool, hooks NegotiatorHooks) (Negotiator, error)
}
