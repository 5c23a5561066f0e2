package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalUnknown   SignalType = "unknown"
)

// Candidate is an ICE candidate in the shape browsers hand to addIceCandidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is a parsed negotiation message. Raw always holds the payload exactly
// as it travelled over the wire; the relay forwards Raw and nothing else.
type Signal struct {
	Type      SignalType
	SDP       string
	Candidate *Candidate
	Raw       string
}

type signalDTO struct {
	Type      string     `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// ParseSignal decodes a payload into a Signal. Anything that is not a JSON
// object is malformed; objects with an unrecognised type are SignalUnknown.
func ParseSignal(raw string) (Signal, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Signal{}, ErrMalformedSignal
	}

	var dto signalDTO
	if err := json.Unmarshal(trimmed, &dto); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	sig := Signal{Type: SignalUnknown, Raw: raw}
	switch SignalType(dto.Type) {
	case SignalOffer, SignalAnswer:
		sig.Type = SignalType(dto.Type)
		sig.SDP = dto.SDP
	case SignalCandidate:
		sig.Type = SignalCandidate
		sig.Candidate = dto.Candidate
	}
	return sig, nil
}

// ClassifySignal reports the type of a payload for logging. It never fails.
func ClassifySignal(raw string) SignalType {
	sig, err := ParseSignal(raw)
	if err != nil {
		return SignalUnknown
	}
	return sig.Type
}

func NewOffer(sdp string) Signal {
	return Signal{Type: SignalOffer, SDP: sdp}
}

func NewAnswer(sdp string) Signal {
	return Signal{Type: SignalAnswer, SDP: sdp}
}

func NewCandidate(c Candidate) Signal {
	return Signal{Type: SignalCandidate, Candidate: &c}
}

// Encode returns the wire payload. Parsed signals keep their original bytes.
func (s Signal) Encode() (string, error) {
	if s.Raw != "" {
		return s.Raw, nil
	}
	if s.Type == SignalUnknown || s.Type == "" {
		return "", fmt.Errorf("%w: cannot encode signal of type %q", ErrMalformedSignal, s.Type)
	}

	b, err := json.Marshal(signalDTO{
		Type:      string(s.Type),
		SDP:       s.SDP,
		Candidate: s.Candidate,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
