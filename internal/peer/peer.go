// Package peer drives peer transports through the offer/answer/candidate
// exchange, using the relay as the only communication path.
package peer

import (
	"encoding/json"
	"errors"

	"github.com/hollis-v/beamcast/internal/models"
)

// State of one negotiation.
type State int

const (
	StateIdle State = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateHaveLocalAnswer
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateHaveLocalAnswer:
		return "have-local-answer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// ErrRemoteRejected reports that the transport refused a remote description.
// The negotiation is torn down and not retried; a viewer must rejoin to get
// a fresh offer.
var ErrRemoteRejected = errors.New("remote description rejected")

// Transport is the point-to-point media transport collaborator. The pion
// adapter implements it; tests use mocks.
type Transport interface {
	// CreateOffer generates and applies the local description, returning it
	// for the wire.
	CreateOffer() (json.RawMessage, error)
	// CreateAnswer applies the remote offer, then generates and applies the
	// local answer.
	CreateAnswer(offer json.RawMessage) (json.RawMessage, error)
	// SetRemoteAnswer applies the remote answer on the offering side.
	SetRemoteAnswer(answer json.RawMessage) error
	// AddCandidate applies a remote network candidate. Callers must only do
	// this after a remote description has been applied.
	AddCandidate(candidate json.RawMessage) error
	// OnCandidate registers the callback for locally discovered candidates.
	OnCandidate(func(candidate json.RawMessage))
	// OnConnected registers the callback for the transport reporting an
	// established connection.
	OnConnected(func())
	Close() error
}

// TransportFactory creates a fresh transport per negotiation.
type TransportFactory func() (Transport, error)

// SendFunc delivers a signaling message to the relay.
type SendFunc func(msg models.SignalMessage)

// negotiation is one transport plus its buffering state. Candidates that
// arrive before the remote description are held and flushed in arrival order
// right after it is applied; applying them earlier fails.
type negotiation struct {
	transport Transport
	state     State
	remoteSet bool
	buffered  []json.RawMessage
}

func (n *negotiation) holdOrApply(candidate json.RawMessage) error {
	if !n.remoteSet {
		n.buffered = append(n.buffered, candidate)
		return nil
	}
	return n.transport.AddCandidate(candidate)
}

func (n *negotiation) flush() error {
	for i, c := range n.buffered {
		if err := n.transport.AddCandidate(c); err != nil {
			// Keep only what has not been applied yet.
			n.buffered = n.buffered[i+1:]
			return err
		}
	}
	n.buffered = nil
	return nil
}

func (n *negotiation) close() {
	if n.state == StateClosed {
		return
	}
	n.state = StateClosed
	n.transport.Close()
}
