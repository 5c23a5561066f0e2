package signalclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/callhub/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/callhub/internal/adapter/driven/persistence/memory"
	httpadapter "github.com/Wyydra/callhub/internal/adapter/driving/http"
	"github.com/Wyydra/callhub/internal/adapter/wire"
	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/service"
)

func newHubURL(t *testing.T) string {
	t.Helper()
	url, _, _ := newHub(t)
	return url
}

func newHub(t *testing.T) (string, *ws.Hub, *httptest.Server) {
	t.Helper()
	hub := ws.NewHub()
	relay := service.NewRelayService(hub, memory.NewRoomRepository())
	h := httpadapter.NewHandler(relay, hub, httpadapter.Config{
		HubPath:           "/videocallhub",
		Client:            ws.DefaultOptions(),
		MessagesPerSecond: 50,
		Burst:             100,
	})
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/videocallhub", hub, srv
}

func dial(t *testing.T, url, protocol string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	opts := DefaultOptions()
	opts.Protocol = protocol
	c, err := Dial(ctx, url, opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func expect(t *testing.T, c *Client, want domain.Event) {
	t.Helper()
	select {
	case got, ok := <-c.Incoming():
		if !ok {
			t.Fatalf("%s: incoming closed, want %+v", c.ID(), want)
		}
		if got != want {
			t.Fatalf("%s: got %+v, want %+v", c.ID(), got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for %+v", c.ID(), want)
	}
}

func TestClient_HandshakeAssignsDistinctIDs(t *testing.T) {
	url := newHubURL(t)
	a := dial(t, url, "")
	b := dial(t, url, "")

	if a.ID() == "" || b.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("ids a=%q b=%q", a.ID(), b.ID())
	}
}

func TestClient_JoinSignalAndLeave(t *testing.T) {
	for _, protocol := range []string{wire.ProtocolJSON, wire.ProtocolMessagePack} {
		t.Run(protocol, func(t *testing.T) {
			ctx := context.Background()
			url := newHubURL(t)
			a := dial(t, url, protocol)
			b := dial(t, url, wire.ProtocolJSON)

			if err := a.JoinRoom(ctx, "lobby"); err != nil {
				t.Fatalf("JoinRoom: %v", err)
			}
			expect(t, a, domain.NewPeerJoined(a.ID()))

			if err := b.JoinRoom(ctx, "lobby"); err != nil {
				t.Fatalf("JoinRoom: %v", err)
			}
			expect(t, a, domain.NewPeerJoined(b.ID()))
			expect(t, b, domain.NewPeerJoined(b.ID()))

			offer := `{"type":"offer","sdp":"v=0"}`
			if err := a.SendSignal(ctx, offer, "lobby", b.ID()); err != nil {
				t.Fatalf("SendSignal: %v", err)
			}
			expect(t, b, domain.NewSignalDelivery(a.ID(), offer))

			b.Close()
			expect(t, a, domain.NewPeerLeft(b.ID()))
		})
	}
}

func TestClient_CloseEndsIncomingAndRejectsSends(t *testing.T) {
	c := dial(t, newHubURL(t), "")
	c.Close()

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatalf("unexpected event after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("incoming not closed")
	}
	if err := c.JoinRoom(context.Background(), "lobby"); err == nil {
		t.Fatalf("send after close should fail")
	}
}
