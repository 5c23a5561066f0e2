package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/Wyydra/callhub/internal/core/domain"
)

func TestRoomRepository_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRoomRepository()

	if !r.Add(ctx, "lobby", "a") {
		t.Fatalf("first add should report added")
	}
	if r.Add(ctx, "lobby", "a") {
		t.Fatalf("second add should be a no-op")
	}
	r.Add(ctx, "lobby", "b")

	if got := r.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"a", "b"}) {
		t.Fatalf("members=%v", got)
	}
}

func TestRoomRepository_MembersOfUnknownRoom(t *testing.T) {
	if got := NewRoomRepository().Members(context.Background(), "nowhere"); len(got) != 0 {
		t.Fatalf("members=%v", got)
	}
}

func TestRoomRepository_MembersIsACopy(t *testing.T) {
	ctx := context.Background()
	r := NewRoomRepository()
	r.Add(ctx, "lobby", "a")

	got := r.Members(ctx, "lobby")
	got[0] = "mutated"

	if again := r.Members(ctx, "lobby"); again[0] != "a" {
		t.Fatalf("internal state leaked: %v", again)
	}
}

func TestRoomRepository_RemoveEverywhere(t *testing.T) {
	ctx := context.Background()
	r := NewRoomRepository()
	r.Add(ctx, "lobby", "a")
	r.Add(ctx, "lobby", "b")
	r.Add(ctx, "side", "a")
	r.Add(ctx, "other", "c")

	left := r.RemoveEverywhere(ctx, "a")
	slices.Sort(left)
	if !slices.Equal(left, []domain.RoomID{"lobby", "side"}) {
		t.Fatalf("left=%v", left)
	}
	if got := r.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"b"}) {
		t.Fatalf("lobby=%v", got)
	}

	rooms := r.Rooms(ctx)
	slices.Sort(rooms)
	if !slices.Equal(rooms, []domain.RoomID{"lobby", "other"}) {
		t.Fatalf("empty room not dropped: %v", rooms)
	}

	// The emptied room can be joined again.
	if !r.Add(ctx, "side", "a") {
		t.Fatalf("rejoin after purge should add")
	}
}

func TestRoomRepository_ConcurrentJoinAndPurge(t *testing.T) {
	ctx := context.Background()
	r := NewRoomRepository()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		id := domain.ConnectionID(fmt.Sprintf("peer-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Add(ctx, "lobby", id)
				r.Add(ctx, "lobby", id)
				r.RemoveEverywhere(ctx, id)
			}
			r.Add(ctx, "lobby", id)
		}()
	}
	wg.Wait()

	got := r.Members(ctx, "lobby")
	if len(got) != workers {
		t.Fatalf("members=%d, want %d", len(got), workers)
	}
	seen := make(map[domain.ConnectionID]bool)
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate member %s", id)
		}
		seen[id] = true
	}
}
