package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/port"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrPeerConnectionFailed = errors.New("peer connection failed")

type Config struct {
	ICEServers []string
	// GatherTimeout bounds how long an offer or answer waits for ICE
	// gathering before it is sent with the candidates found so far.
	GatherTimeout time.Duration
	LoggerFactory logging.LoggerFactory
	// SendAudio adds a local Opus track carrying generated silence, so two
	// headless peers exchange a real stream instead of inactive sections.
	SendAudio bool
}

// Factory builds pion-backed negotiators. It implements port.NegotiatorFactory.
type Factory struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
	sendAudio     bool
}

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Factory{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		config:        webrtc.Configuration{ICEServers: iceServers},
		gatherTimeout: timeout,
		sendAudio:     cfg.SendAudio,
	}, nil
}

func (f *Factory) NewNegotiator(ctx context.Context, remote domain.ConnectionID, initiator bool, hooks port.NegotiatorHooks) (port.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	n := &negotiator{
		remote:        remote,
		pc:            pc,
		hooks:         hooks,
		gatherTimeout: f.gatherTimeout,
		streams:       make(map[string]*domain.MediaStream),
		done:          make(chan struct{}),
	}

	// Receive-only transceivers so the offer carries audio and video sections.
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	if f.sendAudio {
		if err := n.addLocalAudio(); err != nil {
			pc.Close()
			return nil, err
		}
		kinds = kinds[1:]
	}
	for _, kind := range kinds {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	pc.OnICECandidate(n.onICECandidate)
	pc.OnTrack(n.onTrack)
	pc.OnConnectionStateChange(n.onConnectionStateChange)

	if n.audio != nil {
		go n.pumpAudio()
	}
	if initiator {
		go n.offer()
	}
	return n, nil
}

type negotiator struct {
	remote        domain.ConnectionID
	pc            *webrtc.PeerConnection
	hooks         port.NegotiatorHooks
	gatherTimeout time.Duration

	mu sync.Mutex
	// described is set once our own description has gone out; later local
	// candidates are trickled.
	described bool
	// pending holds remote candidates that arrived before the remote description.
	pending []webrtc.ICECandidateInit
	streams map[string]*domain.MediaStream
	closed  bool

	audio *webrtc.TrackLocalStaticSample
	done  chan struct{}
}

func (n *negotiator) Signal(sig domain.Signal) error {
	switch sig.Type {
	case domain.SignalOffer:
		if err := n.setRemote(webrtc.SDPTypeOffer, sig.SDP); err != nil {
			return err
		}
		go n.answer()
		return nil

	case domain.SignalAnswer:
		return n.setRemote(webrtc.SDPTypeAnswer, sig.SDP)

	case domain.SignalCandidate:
		if sig.Candidate == nil {
			return fmt.Errorf("%w: candidate signal without candidate", domain.ErrMalformedSignal)
		}
		cand := webrtc.ICECandidateInit{
			Candidate:        sig.Candidate.Candidate,
			SDPMid:           sig.Candidate.SDPMid,
			SDPMLineIndex:    sig.Candidate.SDPMLineIndex,
			UsernameFragment: sig.Candidate.UsernameFragment,
		}

		n.mu.Lock()
		if n.pc.RemoteDescription() == nil {
			n.pending = append(n.pending, cand)
			n.mu.Unlock()
			return nil
		}
		n.mu.Unlock()
		return n.pc.AddICECandidate(cand)

	default:
		return fmt.Errorf("%w: cannot apply signal of type %q", domain.ErrMalformedSignal, sig.Type)
	}
}

func (n *negotiator) setRemote(t webrtc.SDPType, sdp string) error {
	if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: t, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote %s: %w", t, err)
	}

	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, c := range pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add buffered candidate: %w", err)
		}
	}
	return nil
}

func (n *negotiator) offer() {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		n.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	n.describe(offer, domain.NewOffer)
}

func (n *negotiator) answer() {
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		n.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	n.describe(answer, domain.NewAnswer)
}

// describe applies desc locally, waits for gathering up to the timeout and
// sends the resulting description with the candidates it carries.
func (n *negotiator) describe(desc webrtc.SessionDescription, build func(sdp string) domain.Signal) {
	gathered := webrtc.GatheringCompletePromise(n.pc)
	if err := n.pc.SetLocalDescription(desc); err != nil {
		n.fail(fmt.Errorf("set local %s: %w", desc.Type, err))
		return
	}

	select {
	case <-gathered:
	case <-time.After(n.gatherTimeout):
		log.Debug().Str("remote_id", n.remote.String()).Msg("ICE gathering timed out, sending partial description")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	local := n.pc.LocalDescription()
	n.described = true
	n.mu.Unlock()

	if local == nil {
		n.fail(fmt.Errorf("no local %s description", desc.Type))
		return
	}
	n.emit(build(local.SDP))
}

func (n *negotiator) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}

	n.mu.Lock()
	trickle := n.described && !n.closed
	n.mu.Unlock()
	if !trickle {
		return
	}

	cand := c.ToJSON()
	n.emit(domain.NewCandidate(domain.Candidate{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	}))
}

func (n *negotiator) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Debug().Str("kind", track.Kind().String()).Str("remote_id", n.remote.String()).Msg("Received remote track")

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	stream, ok := n.streams[track.StreamID()]
	if !ok {
		stream = &domain.MediaStream{ID: track.StreamID()}
		n.streams[track.StreamID()] = stream
	}
	stream.Tracks = append(stream.Tracks, domain.Track{ID: track.ID(), Kind: track.Kind().String()})
	snapshot := domain.MediaStream{ID: stream.ID, Tracks: append([]domain.Track(nil), stream.Tracks...)}
	n.mu.Unlock()

	go drain(track)

	if n.hooks.OnStream != nil {
		n.hooks.OnStream(snapshot)
	}
}

// drain keeps reading RTP so the receive buffers never fill up.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("track_id", track.ID()).Msg("Track read ended")
			}
			return
		}
	}
}

func (n *negotiator) onConnectionStateChange(state webrtc.PeerConnectionState) {
	log.Debug().Str("remote_id", n.remote.String()).Str("state", state.String()).Msg("Peer connection state changed")

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if n.hooks.OnConnect != nil {
			n.hooks.OnConnect()
		}
	case webrtc.PeerConnectionStateFailed:
		n.fail(ErrPeerConnectionFailed)
	case webrtc.PeerConnectionStateClosed:
		if n.hooks.OnClose != nil {
			n.hooks.OnClose()
		}
	}
}

func (n *negotiator) emit(sig domain.Signal) {
	if n.hooks.OnSignal != nil {
		n.hooks.OnSignal(sig)
	}
}

func (n *negotiator) fail(err error) {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}
	if n.hooks.OnError != nil {
		n.hooks.OnError(err)
	}
}

func (n *negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.done)
	n.mu.Unlock()
	return n.pc.Close()
}

// opusSilence is a single 20ms Opus frame that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrame = 20 * time.Millisecond

func (n *negotiator) addLocalAudio() error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "callhub",
	)
	if err != nil {
		return fmt.Errorf("create local audio: %w", err)
	}
	sender, err := n.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add local audio: %w", err)
	}

	// RTCP has to be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	n.audio = track
	return nil
}

func (n *negotiator) pumpAudio() {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			if err := n.audio.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("remote_id", n.remote.String()).Msg("Local audio write failed")
				return
			}
		}
	}
}
