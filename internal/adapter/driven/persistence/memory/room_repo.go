package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/go4org/hashtriemap"
)

type members struct {
	mu    sync.Mutex
	ids   []domain.ConnectionID
	index map[domain.ConnectionID]struct{}
	// dead is set once the set has been emptied and unlinked from the map.
	dead bool
}

func newMembers() *members {
	return &members{index: make(map[domain.ConnectionID]struct{})}
}

// RoomRepository keeps room membership in memory. Members are kept in join
// order.
type RoomRepository struct {
	rooms hashtriemap.HashTrieMap[domain.RoomID, *members]
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{}
}

func (r *RoomRepository) Add(ctx context.Context, room domain.RoomID, id domain.ConnectionID) bool {
	for {
		m, _ := r.rooms.LoadOrStore(room, newMembers())

		m.mu.Lock()
		if m.dead {
			// Lost a race with RemoveEverywhere emptying this room; retry on the fresh set.
			m.mu.Unlock()
			continue
		}
		if _, ok := m.index[id]; ok {
			m.mu.Unlock()
			return false
		}
		m.index[id] = struct{}{}
		m.ids = append(m.ids, id)
		m.mu.Unlock()
		return true
	}
}

func (r *RoomRepository) Members(ctx context.Context, room domain.RoomID) []domain.ConnectionID {
	m, ok := r.rooms.Load(room)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ids)
}

func (r *RoomRepository) RemoveEverywhere(ctx context.Context, id domain.ConnectionID) []domain.RoomID {
	var left []domain.RoomID

	r.rooms.Range(func(room domain.RoomID, m *members) bool {
		m.mu.Lock()
		defer m.mu.Unlock()

		if _, ok := m.index[id]; !ok {
			return true
		}
		delete(m.index, id)
		m.ids = slices.DeleteFunc(m.ids, func(member domain.ConnectionID) bool { return member == id })
		left = append(left, room)

		if len(m.ids) == 0 {
			m.dead = true
			r.rooms.Delete(room)
		}
		return true
	})

	return left
}

// Rooms returns the identifiers of all non-empty rooms.
func (r *RoomRepository) Rooms(ctx context.Context) []domain.RoomID {
	var rooms []domain.RoomID
	r.rooms.Range(func(room domain.RoomID, _ *members) bool {
		rooms = append(rooms, room)
		return true
	})
	return rooms
}
