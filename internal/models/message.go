package models

import "encoding/json"

// SignalType represents the type of signaling message exchanged
// between a client and the relay.
type SignalType string

const (
	SignalTypeStartStream  SignalType = "start-stream"
	SignalTypeJoinStream   SignalType = "join-stream"
	SignalTypeLeaveStream  SignalType = "leave-stream"
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeCandidate    SignalType = "ice-candidate"
	SignalTypeEndStream    SignalType = "end-stream"
	SignalTypeViewerCount  SignalType = "viewer-count"
	SignalTypeStreamStatus SignalType = "stream-status"
	SignalTypeError        SignalType = "error"
)

// DefaultStreamID is used when a client supplies no stream id, giving
// the simplest deployment a single well-known stream per relay.
const DefaultStreamID = "main"

// SignalMessage is the wire format for all relay traffic. Payload carries
// the opaque SDP or ICE candidate blob for offer/answer/ice-candidate;
// Count and Active carry viewer-count and stream-status values.
type SignalMessage struct {
	Type     SignalType      `json:"type"`
	StreamID string          `json:"streamId,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Count    int             `json:"count,omitempty"`
	Active   bool            `json:"active,omitempty"`
	Error    string          `json:"error,omitempty"`
}
