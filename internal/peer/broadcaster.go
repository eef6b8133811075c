package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hollis-v/beamcast/internal/models"
)

// Broadcaster owns one transport per viewer, keyed by the viewer's connection
// id with explicit removal when a viewer leaves. Offers go out as relay
// fan-out; the answer's viewer tag binds the pending transport to its viewer.
type Broadcaster struct {
	streamID     string
	send         SendFunc
	newTransport TransportFactory
	releaseMedia func()

	mu      sync.Mutex
	viewers map[string]*negotiation
	// Transports announced but not yet claimed by an answer, oldest first.
	unclaimed []*negotiation
	// Candidates from viewers we have not matched a transport to yet.
	early  map[string][]json.RawMessage
	closed bool
}

// NewBroadcaster creates the broadcasting coordinator for streamID.
// releaseMedia is invoked once on shutdown to free the captured tracks; it
// may be nil.
func NewBroadcaster(streamID string, send SendFunc, factory TransportFactory, releaseMedia func()) *Broadcaster {
	return &Broadcaster{
		streamID:     streamID,
		send:         send,
		newTransport: factory,
		releaseMedia: releaseMedia,
		viewers:      make(map[string]*negotiation),
		early:        make(map[string][]json.RawMessage),
	}
}

// Announce creates a fresh transport, generates its offer and sends it
// through the relay. Called once per viewer the broadcaster learns about
// (viewer-count increases trigger it).
func (b *Broadcaster) Announce() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	t, err := b.newTransport()
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	n := &negotiation{transport: t, state: StateIdle}

	// Candidates discovered before an answer claims this transport cannot be
	// addressed to a viewer; the relay fans them out to the whole session.
	t.OnCandidate(func(candidate json.RawMessage) {
		b.mu.Lock()
		to := b.viewerOf(n)
		b.mu.Unlock()
		b.send(models.SignalMessage{
			Type:     models.SignalTypeCandidate,
			StreamID: b.streamID,
			To:       to,
			Payload:  candidate,
		})
	})
	t.OnConnected(func() {
		b.mu.Lock()
		if n.state != StateClosed {
			n.state = StateConnected
		}
		b.mu.Unlock()
	})

	offer, err := t.CreateOffer()
	if err != nil {
		t.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	n.state = StateHaveLocalOffer
	b.unclaimed = append(b.unclaimed, n)

	b.send(models.SignalMessage{
		Type:     models.SignalTypeOffer,
		StreamID: b.streamID,
		Payload:  offer,
	})
	return nil
}

// viewerOf returns the id of the viewer a negotiation is bound to, empty
// while unclaimed. Caller holds the lock.
func (b *Broadcaster) viewerOf(n *negotiation) string {
	for id, owned := range b.viewers {
		if owned == n {
			return id
		}
	}
	return ""
}

// HandleAnswer binds the oldest unclaimed transport to the answering viewer
// and applies the remote description. A second answer from the same viewer
// goes to its existing transport.
func (b *Broadcaster) HandleAnswer(viewerID string, answer json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	n, ok := b.viewers[viewerID]
	if !ok {
		if len(b.unclaimed) == 0 {
			slog.Warn("answer with no pending offer dropped", "viewerId", viewerID)
			return nil
		}
		n = b.unclaimed[0]
		b.unclaimed = b.unclaimed[1:]
		b.viewers[viewerID] = n

		// Candidates that raced ahead of the answer.
		n.buffered = append(b.early[viewerID], n.buffered...)
		delete(b.early, viewerID)
	}

	if err := n.transport.SetRemoteAnswer(answer); err != nil {
		n.close()
		delete(b.viewers, viewerID)
		return fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	n.remoteSet = true
	if n.state == StateHaveLocalOffer {
		n.state = StateConnected
	}

	if err := n.flush(); err != nil {
		return fmt.Errorf("flush buffered candidates: %w", err)
	}
	return nil
}

// HandleCandidate applies a candidate from a viewer, buffering it while the
// viewer's transport has no remote description yet.
func (b *Broadcaster) HandleCandidate(viewerID string, candidate json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	n, ok := b.viewers[viewerID]
	if !ok {
		b.early[viewerID] = append(b.early[viewerID], candidate)
		return nil
	}
	return n.holdOrApply(candidate)
}

// RemoveViewer closes and discards the transport of a departed viewer.
func (b *Broadcaster) RemoveViewer(viewerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.viewers[viewerID]; ok {
		n.close()
		delete(b.viewers, viewerID)
	}
	delete(b.early, viewerID)
}

// ViewerState reports the negotiation state for a viewer.
func (b *Broadcaster) ViewerState(viewerID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n, ok := b.viewers[viewerID]; ok {
		return n.state
	}
	return StateIdle
}

// Shutdown closes every owned transport and releases the local media.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, n := range b.viewers {
		n.close()
		delete(b.viewers, id)
	}
	for _, n := range b.unclaimed {
		n.close()
	}
	b.unclaimed = nil
	release := b.releaseMedia
	b.mu.Unlock()

	if release != nil {
		release()
	}
}
