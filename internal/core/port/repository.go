package port

import (
	"context"

	"github.com/Wyydra/callhub/internal/core/domain"
)

type RoomRepository interface {
	// Add is idempotent and reports whether id was newly added.
	Add(ctx context.Context, room domain.RoomID, id domain.ConnectionID) bool
	Members(ctx context.Context, room domain.RoomID) []domain.ConnectionID
	// RemoveEverywhere drops id from every room and returns the rooms it left.
	RemoveEverywhere(ctx context.Context, id domain.ConnectionID) []domain.RoomID
}
