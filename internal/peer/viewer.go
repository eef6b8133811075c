package peer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hollis-v/beamcast/internal/models"
)

// Viewer holds the single transport of a watching client. It answers the
// broadcaster's offer and buffers candidates that arrive before the offer
// has been applied.
type Viewer struct {
	streamID     string
	send         SendFunc
	newTransport TransportFactory

	mu     sync.Mutex
	n      *negotiation
	closed bool
}

func NewViewer(streamID string, send SendFunc, factory TransportFactory) *Viewer {
	return &Viewer{
		streamID:     streamID,
		send:         send,
		newTransport: factory,
	}
}

// HandleOffer creates the transport if absent, applies the offer and sends
// the answer back through the relay. A rejected offer tears the transport
// down; the viewer must rejoin to get a new one.
func (v *Viewer) HandleOffer(offer json.RawMessage) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}

	if v.n == nil {
		v.n = &negotiation{state: StateIdle}
	}
	if v.n.transport == nil {
		t, err := v.newTransport()
		if err != nil {
			return fmt.Errorf("create transport: %w", err)
		}
		n := v.n
		n.transport = t
		t.OnCandidate(func(candidate json.RawMessage) {
			v.send(models.SignalMessage{
				Type:     models.SignalTypeCandidate,
				StreamID: v.streamID,
				Payload:  candidate,
			})
		})
		t.OnConnected(func() {
			v.mu.Lock()
			if v.n == n && n.state == StateHaveLocalAnswer {
				n.state = StateConnected
			}
			v.mu.Unlock()
		})
	}

	v.n.state = StateHaveRemoteOffer
	answer, err := v.n.transport.CreateAnswer(offer)
	if err != nil {
		v.n.close()
		v.n = nil
		return fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	v.n.remoteSet = true
	v.n.state = StateHaveLocalAnswer

	if err := v.n.flush(); err != nil {
		return fmt.Errorf("flush buffered candidates: %w", err)
	}

	v.send(models.SignalMessage{
		Type:     models.SignalTypeAnswer,
		StreamID: v.streamID,
		Payload:  answer,
	})
	return nil
}

// HandleCandidate applies a broadcaster candidate, buffering until the offer
// has been applied.
func (v *Viewer) HandleCandidate(candidate json.RawMessage) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}

	if v.n == nil {
		// No offer seen yet; hold the candidate until one arrives.
		v.n = &negotiation{state: StateIdle}
	}
	if v.n.transport == nil {
		v.n.buffered = append(v.n.buffered, candidate)
		return nil
	}
	return v.n.holdOrApply(candidate)
}

// State reports the current negotiation state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return StateClosed
	}
	if v.n == nil {
		return StateIdle
	}
	return v.n.state
}

// Shutdown closes the transport. Viewers capture no local media, so there is
// nothing to release.
func (v *Viewer) Shutdown() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.n != nil && v.n.transport != nil {
		v.n.close()
	}
	v.n = nil
}
