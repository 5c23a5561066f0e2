package wire

import (
	"errors"
	"slices"
	"testing"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/gorilla/websocket"
)

func TestCodecFor(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{"", JSON, false},
		{"json", JSON, false},
		{"messagepack", MessagePack, false},
		{"xml", nil, true},
	}
	for _, tt := range tests {
		got, err := CodecFor(tt.name)
		if (err != nil) != tt.wantErr {
			t.Fatalf("CodecFor(%q) err=%v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("CodecFor(%q)=%v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestJSONFrameShape(t *testing.T) {
	b, err := JSON.Encode(SendSignal(`{"type":"offer","sdp":"v=0"}`, "lobby", "b"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"target":"SendSignal","arguments":["{\"type\":\"offer\",\"sdp\":\"v=0\"}","lobby","b"]}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
	if JSON.MessageType() != websocket.TextMessage {
		t.Fatalf("json frames should be text")
	}
}

func TestMessagePackPreservesFrame(t *testing.T) {
	in := FromEvent(domain.NewSignalDelivery("a", `{"type":"answer","sdp":"v=0"}`))
	b, err := MessagePack.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := MessagePack.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Target != in.Target || !slices.Equal(out.Arguments, in.Arguments) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	if MessagePack.MessageType() != websocket.BinaryMessage {
		t.Fatalf("messagepack frames should be binary")
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := JSON.Decode([]byte("not json")); err == nil {
		t.Fatalf("expected json decode error")
	}
}

func TestEventFrames(t *testing.T) {
	tests := []struct {
		ev   domain.Event
		want Frame
	}{
		{domain.NewHandshake("a"), Frame{Target: "handshake", Arguments: []string{"a"}}},
		{domain.NewPeerJoined("b"), Frame{Target: "userConnected", Arguments: []string{"b"}}},
		{domain.NewPeerLeft("c"), Frame{Target: "userDisconnected", Arguments: []string{"c"}}},
		{domain.NewSignalDelivery("d", "payload"), Frame{Target: "receiveSignal", Arguments: []string{"payload", "d"}}},
	}
	for _, tt := range tests {
		f := FromEvent(tt.ev)
		if f.Target != tt.want.Target || !slices.Equal(f.Arguments, tt.want.Arguments) {
			t.Fatalf("FromEvent(%v)=%+v, want %+v", tt.ev, f, tt.want)
		}
		back, err := ToEvent(f)
		if err != nil {
			t.Fatalf("ToEvent(%+v): %v", f, err)
		}
		if back != tt.ev {
			t.Fatalf("ToEvent=%v, want %v", back, tt.ev)
		}
	}
}

func TestToEventRejectsShortOrUnknownFrames(t *testing.T) {
	for _, f := range []Frame{
		{Target: "receiveSignal", Arguments: []string{"only-payload"}},
		{Target: "handshake"},
		{Target: "somethingElse", Arguments: []string{"x"}},
	} {
		if _, err := ToEvent(f); !errors.Is(err, domain.ErrBadInvocation) {
			t.Fatalf("ToEvent(%+v) err=%v, want ErrBadInvocation", f, err)
		}
	}
}
