package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ConnectionID is the transport-assigned identity of one live session.
type ConnectionID string

// RoomID is a caller-supplied grouping key.
type RoomID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id ConnectionID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

// ParseRoomID rejects empty (or whitespace only) room identifiers.
func ParseRoomID(s string) (RoomID, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrInvalidRoomID
	}
	return RoomID(s), nil
}
