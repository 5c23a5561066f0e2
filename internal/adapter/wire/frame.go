package wire

import (
	"fmt"

	"github.com/Wyydra/callhub/internal/core/domain"
)

const (
	TargetJoinRoom   = "JoinRoom"
	TargetSendSignal = "SendSignal"
)

// Frame is one hub message in either direction: a target method and its
// positional arguments.
type Frame struct {
	Target    string   `json:"target" msgpack:"target"`
	Arguments []string `json:"arguments" msgpack:"arguments"`
}

func JoinRoom(room domain.RoomID) Frame {
	return Frame{Target: TargetJoinRoom, Arguments: []string{room.String()}}
}

func SendSignal(payload string, room domain.RoomID, target domain.ConnectionID) Frame {
	return Frame{Target: TargetSendSignal, Arguments: []string{payload, room.String(), target.String()}}
}

// Arg returns the i-th argument or an ErrBadInvocation if the frame is too short.
func (f Frame) Arg(i int) (string, error) {
	if i < 0 || i >= len(f.Arguments) {
		return "", fmt.Errorf("%w: %s wants argument %d, got %d", domain.ErrBadInvocation, f.Target, i, len(f.Arguments))
	}
	return f.Arguments[i], nil
}

func FromEvent(ev domain.Event) Frame {
	args := []string{ev.ConnectionID.String()}
	if ev.Kind == domain.EventReceiveSignal {
		args = []string{ev.Signal, ev.ConnectionID.String()}
	}
	return Frame{Target: string(ev.Kind), Arguments: args}
}

func ToEvent(f Frame) (domain.Event, error) {
	switch domain.EventKind(f.Target) {
	case domain.EventHandshake, domain.EventUserConnected, domain.EventUserDisconnected:
		id, err := f.Arg(0)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.Event{Kind: domain.EventKind(f.Target), ConnectionID: domain.ConnectionID(id)}, nil
	case domain.EventReceiveSignal:
		payload, err := f.Arg(0)
		if err != nil {
			return domain.Event{}, err
		}
		from, err := f.Arg(1)
		if err != nil {
			return domain.Event{}, err
		}
		return domain.NewSignalDelivery(domain.ConnectionID(from), payload), nil
	default:
		return domain.Event{}, fmt.Errorf("%w: unknown event %q", domain.ErrBadInvocation, f.Target)
	}
}
