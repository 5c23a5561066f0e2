package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/Wyydra/callhub/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/callhub/internal/core/domain"
)

// fakeGateway is an in-memory registry with one inbox per connection.
type fakeGateway struct {
	mu      sync.Mutex
	inboxes map[domain.ConnectionID][]domain.Event
	order   []domain.ConnectionID
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{inboxes: make(map[domain.ConnectionID][]domain.Event)}
}

func (g *fakeGateway) connect(id domain.ConnectionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inboxes[id] = nil
	g.order = append(g.order, id)
}

func (g *fakeGateway) SendEvent(ctx context.Context, to domain.ConnectionID, ev domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inboxes[to]; !ok {
		return domain.ErrConnectionNotFound
	}
	g.inboxes[to] = append(g.inboxes[to], ev)
	return nil
}

func (g *fakeGateway) SendEventToMany(ctx context.Context, to []domain.ConnectionID, ev domain.Event) error {
	var errs []error
	for _, id := range to {
		if err := g.SendEvent(ctx, id, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *fakeGateway) BroadcastEvent(ctx context.Context, ev domain.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.order {
		if _, ok := g.inboxes[id]; ok {
			g.inboxes[id] = append(g.inboxes[id], ev)
		}
	}
	return nil
}

func (g *fakeGateway) Forget(ctx context.Context, id domain.ConnectionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inboxes[id]
	delete(g.inboxes, id)
	return ok
}

// drain returns and clears the events delivered to id.
func (g *fakeGateway) drain(id domain.ConnectionID) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	evs := g.inboxes[id]
	if _, ok := g.inboxes[id]; ok {
		g.inboxes[id] = nil
	}
	return evs
}

func (g *fakeGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, evs := range g.inboxes {
		n += len(evs)
	}
	return n
}

func newTestRelay(opts ...RelayOption) (*RelayService, *fakeGateway, *memory.RoomRepository) {
	gw := newFakeGateway()
	rooms := memory.NewRoomRepository()
	return NewRelayService(gw, rooms, opts...), gw, rooms
}

func connect(t *testing.T, s *RelayService, gw *fakeGateway, id domain.ConnectionID) {
	t.Helper()
	gw.connect(id)
	s.OnConnect(context.Background(), id)
}

func TestRelay_JoinRoomIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, gw, rooms := newTestRelay()
	connect(t, s, gw, "a")

	for i := 0; i < 2; i++ {
		if err := s.JoinRoom(ctx, "a", "lobby"); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	}

	if got := rooms.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"a"}) {
		t.Fatalf("members=%v, want [a]", got)
	}
}

func TestRelay_JoinRoomRejectsEmptyRoom(t *testing.T) {
	s, gw, _ := newTestRelay()
	connect(t, s, gw, "a")

	if err := s.JoinRoom(context.Background(), "a", ""); !errors.Is(err, domain.ErrInvalidRoomID) {
		t.Fatalf("err=%v, want ErrInvalidRoomID", err)
	}
	if n := gw.total(); n != 0 {
		t.Fatalf("expected no notifications, got %d", n)
	}
}

func TestRelay_JoinNotifiesRoomIncludingJoiner(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestRelay()
	for _, id := range []domain.ConnectionID{"a", "b", "outsider"} {
		connect(t, s, gw, id)
	}
	if err := s.JoinRoom(ctx, "outsider", "other"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	gw.drain("outsider")

	if err := s.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := s.JoinRoom(ctx, "b", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	want := []domain.Event{domain.NewPeerJoined("a"), domain.NewPeerJoined("b")}
	if got := gw.drain("a"); !slices.Equal(got, want) {
		t.Fatalf("a got %v, want %v", got, want)
	}
	if got := gw.drain("b"); !slices.Equal(got, want[1:]) {
		t.Fatalf("b got %v, want %v", got, want[1:])
	}
	if got := gw.drain("outsider"); len(got) != 0 {
		t.Fatalf("outsider should not hear lobby joins, got %v", got)
	}
}

func TestRelay_SendSignalReachesOnlyTarget(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestRelay()
	for _, id := range []domain.ConnectionID{"a", "b", "c"} {
		connect(t, s, gw, id)
	}

	payload := `{"type":"offer","sdp":"v=0"}`
	s.SendSignal(ctx, "a", payload, "lobby", "b")

	if got := gw.drain("b"); !slices.Equal(got, []domain.Event{domain.NewSignalDelivery("a", payload)}) {
		t.Fatalf("b got %v", got)
	}
	if got := gw.drain("a"); len(got) != 0 {
		t.Fatalf("sender should receive nothing, got %v", got)
	}
	if got := gw.drain("c"); len(got) != 0 {
		t.Fatalf("bystander should receive nothing, got %v", got)
	}
}

func TestRelay_SendSignalIgnoresRoomForAddressing(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestRelay()
	connect(t, s, gw, "a")
	connect(t, s, gw, "b")

	// Neither side joined "elsewhere"; the relay still delivers.
	s.SendSignal(ctx, "a", "opaque", "elsewhere", "b")
	if got := gw.drain("b"); len(got) != 1 || got[0].Signal != "opaque" || got[0].ConnectionID != "a" {
		t.Fatalf("b got %v", got)
	}
}

func TestRelay_SendSignalToMissingTargetIsNoop(t *testing.T) {
	ctx := context.Background()
	s, gw, rooms := newTestRelay()
	connect(t, s, gw, "a")
	if err := s.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	gw.drain("a")

	s.SendSignal(ctx, "a", `{"type":"candidate"}`, "lobby", "ghost")

	if n := gw.total(); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
	if got := rooms.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"a"}) {
		t.Fatalf("membership changed: %v", got)
	}
}

func TestRelay_DisconnectBroadcastsGlobally(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestRelay()
	for _, id := range []domain.ConnectionID{"a", "b", "stranger"} {
		connect(t, s, gw, id)
	}
	if err := s.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := s.JoinRoom(ctx, "b", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	gw.drain("a")
	gw.drain("b")

	s.OnDisconnect(ctx, "a", nil)

	left := []domain.Event{domain.NewPeerLeft("a")}
	if got := gw.drain("b"); !slices.Equal(got, left) {
		t.Fatalf("b got %v, want %v", got, left)
	}
	// stranger shares no room with a and is still told.
	if got := gw.drain("stranger"); !slices.Equal(got, left) {
		t.Fatalf("stranger got %v, want %v", got, left)
	}
	if got := gw.drain("a"); len(got) != 0 {
		t.Fatalf("departed connection should receive nothing, got %v", got)
	}
}

func TestRelay_DisconnectPurgesRooms(t *testing.T) {
	ctx := context.Background()
	s, gw, rooms := newTestRelay()
	connect(t, s, gw, "a")
	connect(t, s, gw, "b")
	for _, room := range []string{"lobby", "side"} {
		if err := s.JoinRoom(ctx, "a", room); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	}
	if err := s.JoinRoom(ctx, "b", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	s.OnDisconnect(ctx, "a", errors.New("read: connection reset by peer"))

	if got := rooms.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"b"}) {
		t.Fatalf("lobby members=%v, want [b]", got)
	}
	if got := rooms.Members(ctx, "side"); len(got) != 0 {
		t.Fatalf("side members=%v, want none", got)
	}
}

func TestRelay_DisconnectWithoutPurgeKeepsMembership(t *testing.T) {
	ctx := context.Background()
	s, gw, rooms := newTestRelay(WithRoomPurge(false))
	connect(t, s, gw, "a")
	if err := s.JoinRoom(ctx, "a", "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	s.OnDisconnect(ctx, "a", nil)

	if got := rooms.Members(ctx, "lobby"); !slices.Equal(got, []domain.ConnectionID{"a"}) {
		t.Fatalf("members=%v, want stale [a]", got)
	}
}

func TestRelay_LobbyScenario(t *testing.T) {
	ctx := context.Background()
	s, gw, _ := newTestRelay()
	ids := []domain.ConnectionID{"A", "B", "C"}
	for _, id := range ids {
		connect(t, s, gw, id)
	}

	if err := s.JoinRoom(ctx, "A", "lobby"); err != nil {
		t.Fatalf("JoinRoom A: %v", err)
	}
	// A is alone in the room: only its own self-notification.
	if got := gw.drain("A"); !slices.Equal(got, []domain.Event{domain.NewPeerJoined("A")}) {
		t.Fatalf("A after own join got %v", got)
	}

	if err := s.JoinRoom(ctx, "B", "lobby"); err != nil {
		t.Fatalf("JoinRoom B: %v", err)
	}
	for _, id := range ids[:2] {
		if got := gw.drain(id); !slices.Equal(got, []domain.Event{domain.NewPeerJoined("B")}) {
			t.Fatalf("%s after B join got %v", id, got)
		}
	}

	if err := s.JoinRoom(ctx, "C", "lobby"); err != nil {
		t.Fatalf("JoinRoom C: %v", err)
	}
	for _, id := range ids {
		if got := gw.drain(id); !slices.Equal(got, []domain.Event{domain.NewPeerJoined("C")}) {
			t.Fatalf("%s after C join got %v", id, got)
		}
	}

	s.OnDisconnect(ctx, "A", nil)
	for _, id := range ids[1:] {
		if got := gw.drain(id); !slices.Equal(got, []domain.Event{domain.NewPeerLeft("A")}) {
			t.Fatalf("%s after A left got %v", id, got)
		}
	}
}
