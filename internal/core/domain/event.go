package domain

type EventKind string

const (
	EventHandshake        EventKind = "handshake"
	EventUserConnected    EventKind = "userConnected"
	EventReceiveSignal    EventKind = "receiveSignal"
	EventUserDisconnected EventKind = "userDisconnected"
)

// Event is something the relay pushes to a connection. ConnectionID is the
// subject: the new connection for handshake, the joiner for userConnected,
// the sender for receiveSignal and the departing peer for userDisconnected.
type Event struct {
	Kind         EventKind
	ConnectionID ConnectionID
	Signal       string
}

func NewHandshake(id ConnectionID) Event {
	return Event{Kind: EventHandshake, ConnectionID: id}
}

func NewPeerJoined(id ConnectionID) Event {
	return Event{Kind: EventUserConnected, ConnectionID: id}
}

func NewPeerLeft(id ConnectionID) Event {
	return Event{Kind: EventUserDisconnected, ConnectionID: id}
}

func NewSignalDelivery(from ConnectionID, payload string) Event {
	return Event{Kind: EventReceiveSignal, ConnectionID: from, Signal: payload}
}
