package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/callhub/internal/core/domain"
	"github.com/Wyydra/callhub/internal/core/port"
	"github.com/rs/zerolog/log"
)

type PeerState int

const (
	PeerUncontacted PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerUncontacted:
		return "uncontacted"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	default:
		return fmt.Sprintf("PeerState(%d)", int(s))
	}
}

// PeerLink is everything the client tracks about one remote connection.
type PeerLink struct {
	RemoteID  domain.ConnectionID
	Initiator bool
	State     PeerState
	Stream    *domain.MediaStream

	negotiator port.Negotiator
}

// StreamObserver is told about remote streams as they arrive, and with a nil
// stream once the link that carried one is gone.
type StreamObserver func(remote domain.ConnectionID, stream *domain.MediaStream)

// PeerService runs one negotiation per remote peer in a room and decides,
// from the order of events, which side offers.
type PeerService struct {
	room     domain.RoomID
	factory  port.NegotiatorFactory
	signaler port.SignalSender
	onStream StreamObserver

	mu      sync.Mutex
	localID domain.ConnectionID
	links   map[domain.ConnectionID]*PeerLink
	closed  bool
}

type PeerOption func(*PeerService)

func WithStreamObserver(fn StreamObserver) PeerOption {
	return func(s *PeerService) {
		s.onStream = fn
	}
}

func WithLocalID(id domain.ConnectionID) PeerOption {
	return func(s *PeerService) {
		s.localID = id
	}
}

func NewPeerService(room domain.RoomID, factory port.NegotiatorFactory, signaler port.SignalSender, opts ...PeerOption) *PeerService {
	s := &PeerService{
		room:     room,
		factory:  factory,
		signaler: signaler,
		links:    make(map[domain.ConnectionID]*PeerLink),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PeerService) SetLocalID(id domain.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localID = id
}

func (s *PeerService) LocalID() domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

// HandleEvent routes a relay event to the matching transition.
func (s *PeerService) HandleEvent(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventHandshake:
		s.SetLocalID(ev.ConnectionID)
	case domain.EventUserConnected:
		if _, err := s.HandlePeerJoined(ctx, ev.ConnectionID); err != nil {
			log.Error().Err(err).Str("remote_id", ev.ConnectionID.String()).Msg("Failed to start negotiation")
		}
	case domain.EventReceiveSignal:
		if _, err := s.HandleSignal(ctx, ev.Signal, ev.ConnectionID); err != nil {
			log.Warn().Err(err).Str("remote_id", ev.ConnectionID.String()).Msg("Error handling signal")
		}
	case domain.EventUserDisconnected:
		s.HandlePeerLeft(ev.ConnectionID)
	default:
		log.Debug().Str("event", string(ev.Kind)).Msg("Ignoring unknown event")
	}
}

// HandlePeerJoined makes the local side the initiator towards remote unless
// a link already exists or remote is ourselves.
func (s *PeerService) HandlePeerJoined(ctx context.Context, remote domain.ConnectionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || remote == s.localID {
		return false, nil
	}
	if _, ok := s.links[remote]; ok {
		return false, nil
	}
	if _, err := s.createLocked(ctx, remote, true); err != nil {
		return false, err
	}
	return true, nil
}

// HandleSignal applies an inbound payload from remote. It reports whether the
// negotiator was given the signal; signals that do not fit the link's role
// are dropped without error.
func (s *PeerService) HandleSignal(ctx context.Context, payload string, remote domain.ConnectionID) (bool, error) {
	sig, err := domain.ParseSignal(payload)
	if err != nil {
		s.teardown(remote, err)
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, nil
	}
	link, ok := s.links[remote]
	if !ok {
		link, err = s.createLocked(ctx, remote, false)
		if err != nil {
			s.mu.Unlock()
			return false, err
		}
	}
	if !acceptsSignal(link.Initiator, sig.Type) {
		initiator := link.Initiator
		s.mu.Unlock()
		log.Debug().
			Str("remote_id", remote.String()).
			Str("signal_type", string(sig.Type)).
			Bool("initiator", initiator).
			Msg("Dropping signal that does not match role")
		return false, nil
	}
	neg := link.negotiator
	s.mu.Unlock()

	if err := neg.Signal(sig); err != nil {
		s.fail(link, err)
		return false, fmt.Errorf("apply %s from %s: %w", sig.Type, remote, err)
	}
	return true, nil
}

func (s *PeerService) HandlePeerLeft(remote domain.ConnectionID) {
	s.teardown(remote, nil)
}

// Close tears down every link. Later events are ignored.
func (s *PeerService) Close() {
	s.mu.Lock()
	s.closed = true
	pending := make([]released, 0, len(s.links))
	for _, link := range s.links {
		pending = append(pending, s.releaseLocked(link))
	}
	s.mu.Unlock()

	for _, r := range pending {
		s.finish(r, nil)
	}
}

// Reset tears down every link and adopts localID, leaving the service ready
// for a fresh join. It is used when the signaling connection is replaced,
// since remotes knew the old identity and the old links cannot recover.
func (s *PeerService) Reset(localID domain.ConnectionID) {
	s.mu.Lock()
	s.localID = localID
	pending := make([]released, 0, len(s.links))
	for _, link := range s.links {
		pending = append(pending, s.releaseLocked(link))
	}
	closed := s.closed
	s.mu.Unlock()

	for _, r := range pending {
		s.finish(r, nil)
	}
	if !closed {
		log.Info().Str("local_id", localID.String()).Int("released", len(pending)).Msg("Peer links reset")
	}
}

// Link returns a snapshot of the link for remote.
func (s *PeerService) Link(remote domain.ConnectionID) (PeerLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[remote]
	if !ok {
		return PeerLink{}, false
	}
	snapshot := *link
	snapshot.negotiator = nil
	return snapshot, true
}

func (s *PeerService) State(remote domain.ConnectionID) PeerState {
	link, ok := s.Link(remote)
	if !ok {
		return PeerUncontacted
	}
	return link.State
}

func (s *PeerService) Peers() []domain.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]domain.ConnectionID, 0, len(s.links))
	for id := range s.links {
		ids = append(ids, id)
	}
	return ids
}

func acceptsSignal(initiator bool, t domain.SignalType) bool {
	switch t {
	case domain.SignalOffer:
		return !initiator
	case domain.SignalAnswer:
		return initiator
	case domain.SignalCandidate:
		return true
	default:
		return false
	}
}

func (s *PeerService) createLocked(ctx context.Context, remote domain.ConnectionID, initiator bool) (*PeerLink, error) {
	link := &PeerLink{
		RemoteID:  remote,
		Initiator: initiator,
		State:     PeerNegotiating,
	}

	neg, err := s.factory.NewNegotiator(ctx, remote, initiator, s.hooksFor(ctx, link))
	if err != nil {
		return nil, fmt.Errorf("create negotiator for %s: %w", remote, err)
	}
	link.negotiator = neg
	s.links[remote] = link

	log.Info().Str("remote_id", remote.String()).Bool("initiator", initiator).Msg("Created peer")
	return link, nil
}

func (s *PeerService) hooksFor(ctx context.Context, link *PeerLink) port.NegotiatorHooks {
	return port.NegotiatorHooks{
		OnSignal:  func(sig domain.Signal) { s.forward(ctx, link, sig) },
		OnStream:  func(stream domain.MediaStream) { s.attachStream(link, stream) },
		OnConnect: func() { s.markConnected(link) },
		OnError:   func(err error) { s.fail(link, err) },
		OnClose:   func() { s.fail(link, nil) },
	}
}

// currentLocked reports whether link is still the live link for its remote.
func (s *PeerService) currentLocked(link *PeerLink) bool {
	return s.links[link.RemoteID] == link
}

func (s *PeerService) forward(ctx context.Context, link *PeerLink, sig domain.Signal) {
	s.mu.Lock()
	if !s.currentLocked(link) {
		s.mu.Unlock()
		return
	}
	room := s.room
	s.mu.Unlock()

	payload, err := sig.Encode()
	if err != nil {
		log.Error().Err(err).Str("remote_id", link.RemoteID.String()).Msg("Failed to encode signal")
		return
	}
	log.Debug().Str("remote_id", link.RemoteID.String()).Str("signal_type", string(sig.Type)).Msg("Signaling")
	if err := s.signaler.SendSignal(ctx, payload, room, link.RemoteID); err != nil {
		log.Warn().Err(err).Str("remote_id", link.RemoteID.String()).Msg("Failed to send signal")
	}
}

func (s *PeerService) attachStream(link *PeerLink, stream domain.MediaStream) {
	s.mu.Lock()
	if !s.currentLocked(link) {
		s.mu.Unlock()
		return
	}
	link.Stream = &stream
	s.mu.Unlock()

	log.Info().Str("remote_id", link.RemoteID.String()).Str("stream_id", stream.ID).Msg("Received stream")
	if s.onStream != nil {
		s.onStream(link.RemoteID, &stream)
	}
}

func (s *PeerService) markConnected(link *PeerLink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentLocked(link) && link.State == PeerNegotiating {
		link.State = PeerConnected
		log.Info().Str("remote_id", link.RemoteID.String()).Msg("Peer connected")
	}
}

func (s *PeerService) fail(link *PeerLink, cause error) {
	s.mu.Lock()
	if !s.currentLocked(link) {
		s.mu.Unlock()
		return
	}
	r := s.releaseLocked(link)
	s.mu.Unlock()

	s.finish(r, cause)
}

func (s *PeerService) teardown(remote domain.ConnectionID, cause error) bool {
	s.mu.Lock()
	link, ok := s.links[remote]
	if !ok {
		s.mu.Unlock()
		return false
	}
	r := s.releaseLocked(link)
	s.mu.Unlock()

	s.finish(r, cause)
	return true
}

type released struct {
	remote     domain.ConnectionID
	negotiator port.Negotiator
	hadStream  bool
}

// releaseLocked unlinks link and clears negotiator, role and stream in one step.
func (s *PeerService) releaseLocked(link *PeerLink) released {
	delete(s.links, link.RemoteID)

	r := released{
		remote:     link.RemoteID,
		negotiator: link.negotiator,
		hadStream:  link.Stream != nil,
	}
	link.negotiator = nil
	link.Initiator = false
	link.Stream = nil
	link.State = PeerClosed
	return r
}

func (s *PeerService) finish(r released, cause error) {
	l := log.With().Str("remote_id", r.remote.String()).Logger()
	if cause != nil {
		l.Warn().Err(cause).Msg("Removing peer after error")
	} else {
		l.Info().Msg("Removing peer")
	}

	if r.negotiator != nil {
		if err := r.negotiator.Close(); err != nil {
			l.Debug().Err(err).Msg("Error closing negotiator")
		}
	}
	if r.hadStream && s.onStream != nil {
		s.onStream(r.remote, nil)
	}
}
