package signal

import (
	webrtc "github.com/pion/webrtc/v3"
)

// Signal is a message the relay delivers to the viewer: an SDP answer, a
// remote ICE candidate, or a terminal error.
type Signal interface {
	isSignal()
}

// Answer carries the device's SDP answer.
type Answer struct {
	SDP string
}

// Candidate carries a device-originated ICE candidate.
type Candidate struct {
	Candidate webrtc.ICECandidateInit
}

// SignalError reports a failed signaling session to the viewer.
type SignalError struct {
	Code    string
	Message string
}

func (Answer) isSignal()      {}
func (Candidate) isSignal()   {}
func (SignalError) isSignal() {}

// SendMessage is the viewer-side sink; the relay invokes it synchronously
// from the session's reader goroutine.
type SendMessage func(Signal)

// Device signaling wire format: a JSON envelope whose data field is itself
// a JSON-encoded string requiring a second decode.
type deviceEnvelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

const (
	eventVideoOffer     = "video-offer"
	eventVideoAnswer    = "video-answer"
	eventVideoCandidate = "video-candidate"
	eventHeartbeat      = "heartbeat"
)

type offerPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type answerPayload struct {
	SDP string `json:"sdp"`
}

// candidatePayload mirrors webrtc.ICECandidateInit; optional fields are
// omitted entirely when absent, never sent as null.
type candidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
