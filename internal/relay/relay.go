package relay

import (
	"log/slog"

	"github.com/hollis-v/beamcast/internal/models"
	"github.com/hollis-v/beamcast/internal/registry"
)

// Sender is one attached signaling connection the relay can push messages to.
type Sender interface {
	ID() string
	Send(msg models.SignalMessage) error
}

type inbound struct {
	connID string
	msg    models.SignalMessage
}

// Relay interprets the wire protocol, mutates the session registry and fans
// messages out to the right peers. All state is owned by the Run goroutine:
// each inbound message is handled to completion before the next, so registry
// mutations never race.
type Relay struct {
	registry *registry.Registry
	presence Presence
	conns    map[string]Sender

	attach   chan Sender
	detach   chan string
	submit   chan inbound
	forceEnd chan forceEndReq
	done     chan struct{}
	stopped  chan struct{}
}

type forceEndReq struct {
	streamID string
	reply    chan bool
}

func New(reg *registry.Registry, presence Presence) *Relay {
	if presence == nil {
		presence = NopPresence{}
	}
	return &Relay{
		registry: reg,
		presence: presence,
		conns:    make(map[string]Sender),
		attach:   make(chan Sender),
		detach:   make(chan string),
		submit:   make(chan inbound, 64),
		forceEnd: make(chan forceEndReq),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Attach hands a freshly connected client to the relay.
func (r *Relay) Attach(s Sender) { r.attach <- s }

// Detach reports that a connection's channel has closed.
func (r *Relay) Detach(connID string) { r.detach <- connID }

// Submit queues an inbound protocol message for dispatch.
func (r *Relay) Submit(connID string, msg models.SignalMessage) {
	r.submit <- inbound{connID: connID, msg: msg}
}

// ForceEnd tears down a stream on behalf of an operator, notifying the
// broadcaster and every viewer. Returns false when no such live stream exists.
func (r *Relay) ForceEnd(streamID string) bool {
	req := forceEndReq{streamID: streamID, reply: make(chan bool, 1)}
	select {
	case r.forceEnd <- req:
		return <-req.reply
	case <-r.done:
		return false
	}
}

// Run drains the relay's channels until Stop is called.
func (r *Relay) Run() {
	defer close(r.stopped)
	for {
		select {
		case s := <-r.attach:
			r.handleAttach(s)
		case id := <-r.detach:
			r.handleDetach(id)
		case in := <-r.submit:
			r.handleMessage(in.connID, in.msg)
		case req := <-r.forceEnd:
			req.reply <- r.handleForceEnd(req.streamID)
		case <-r.done:
			return
		}
	}
}

// Stop terminates the Run loop and waits for it to exit.
func (r *Relay) Stop() {
	close(r.done)
	<-r.stopped
}

func (r *Relay) handleAttach(s Sender) {
	r.conns[s.ID()] = s
	slog.Info("connection attached", "connId", s.ID())
}

func (r *Relay) handleDetach(connID string) {
	delete(r.conns, connID)
	res := r.registry.RemoveConnection(connID)
	r.applyRemoval(res, connID)
	slog.Info("connection detached", "connId", connID)
}

// applyRemoval fans out the notifications a registry removal calls for.
func (r *Relay) applyRemoval(res registry.Removal, connID string) {
	switch res.Kind {
	case registry.RemovedBroadcaster:
		r.presence.StreamEnded(res.StreamID)
		for _, viewerID := range res.Viewers {
			r.sendTo(viewerID, models.SignalMessage{
				Type:     models.SignalTypeEndStream,
				StreamID: res.StreamID,
			})
			r.sendTo(viewerID, models.SignalMessage{
				Type:     models.SignalTypeStreamStatus,
				StreamID: res.StreamID,
				Active:   false,
			})
		}
		slog.Info("broadcaster left, stream ended", "streamId", res.StreamID, "connId", connID)

	case registry.RemovedViewer:
		r.presence.ViewerLeft(res.StreamID, connID)
		if res.BroadcasterID != "" {
			// From names the departed viewer so the broadcaster can drop
			// its transport.
			r.sendTo(res.BroadcasterID, models.SignalMessage{
				Type:     models.SignalTypeViewerCount,
				StreamID: res.StreamID,
				From:     connID,
				Count:    res.ViewerCount,
			})
		}
	}
}

func (r *Relay) handleMessage(connID string, msg models.SignalMessage) {
	if msg.StreamID == "" {
		msg.StreamID = models.DefaultStreamID
	}

	switch msg.Type {
	case models.SignalTypeStartStream:
		r.handleStartStream(connID, msg)
	case models.SignalTypeJoinStream:
		r.handleJoinStream(connID, msg)
	case models.SignalTypeLeaveStream:
		r.handleLeaveStream(connID)
	case models.SignalTypeOffer:
		r.handleOffer(connID, msg)
	case models.SignalTypeAnswer:
		r.handleAnswer(connID, msg)
	case models.SignalTypeCandidate:
		r.handleCandidate(connID, msg)
	case models.SignalTypeEndStream:
		r.handleEndStream(connID, msg)
	default:
		slog.Warn("unknown message type dropped", "type", msg.Type, "connId", connID)
	}
}

// releasePriorRole drops connID's membership in any other stream, notifying
// that stream's peers, before connID takes a role in streamID.
func (r *Relay) releasePriorRole(connID, streamID string) {
	role := r.registry.Role(connID)
	if role.Kind == models.RoleUnassigned || role.StreamID == streamID {
		return
	}
	res := r.registry.RemoveConnection(connID)
	r.applyRemoval(res, connID)
}

func (r *Relay) handleStartStream(connID string, msg models.SignalMessage) {
	r.releasePriorRole(connID, msg.StreamID)
	replaced, viewers := r.registry.RegisterBroadcaster(msg.StreamID, connID)
	r.presence.StreamStarted(msg.StreamID, connID)

	if replaced != "" {
		r.sendTo(replaced, models.SignalMessage{
			Type:     models.SignalTypeError,
			StreamID: msg.StreamID,
			Error:    "replaced by another broadcaster",
		})
		slog.Warn("broadcaster replaced", "streamId", msg.StreamID, "old", replaced, "new", connID)
	}

	// Viewers that joined before the broadcaster (or across a reconnect)
	// learn the stream is live now.
	for _, viewerID := range viewers {
		r.sendTo(viewerID, models.SignalMessage{
			Type:     models.SignalTypeStreamStatus,
			StreamID: msg.StreamID,
			Active:   true,
		})
	}

	r.sendTo(connID, models.SignalMessage{
		Type:     models.SignalTypeViewerCount,
		StreamID: msg.StreamID,
		Count:    len(viewers),
	})
	slog.Info("stream started", "streamId", msg.StreamID, "connId", connID, "viewers", len(viewers))
}

func (r *Relay) handleJoinStream(connID string, msg models.SignalMessage) {
	r.releasePriorRole(connID, msg.StreamID)
	active, broadcasterID := r.registry.RegisterViewer(msg.StreamID, connID)
	r.presence.ViewerJoined(msg.StreamID, connID)

	r.sendTo(connID, models.SignalMessage{
		Type:     models.SignalTypeStreamStatus,
		StreamID: msg.StreamID,
		Active:   active,
	})

	// The broadcaster tracks its audience through count updates and reacts
	// with a fresh offer; the relay never synthesizes one.
	if broadcasterID != "" {
		r.sendTo(broadcasterID, models.SignalMessage{
			Type:     models.SignalTypeViewerCount,
			StreamID: msg.StreamID,
			From:     connID,
			Count:    r.registry.ViewerCount(msg.StreamID),
		})
	}
	slog.Info("viewer joined", "streamId", msg.StreamID, "connId", connID, "active", active)
}

func (r *Relay) handleLeaveStream(connID string) {
	res := r.registry.RemoveConnection(connID)
	r.applyRemoval(res, connID)
}

func (r *Relay) handleOffer(connID string, msg models.SignalMessage) {
	role := r.registry.Role(connID)
	if role.Kind != models.RoleBroadcaster || role.StreamID != msg.StreamID {
		slog.Warn("offer from non-broadcaster dropped", "connId", connID, "streamId", msg.StreamID)
		return
	}

	out := models.SignalMessage{
		Type:     models.SignalTypeOffer,
		StreamID: msg.StreamID,
		From:     connID,
		Payload:  msg.Payload,
	}
	for _, viewerID := range r.registry.Viewers(msg.StreamID) {
		r.sendTo(viewerID, out)
	}
}

func (r *Relay) handleAnswer(connID string, msg models.SignalMessage) {
	role := r.registry.Role(connID)
	if role.Kind != models.RoleViewer || role.StreamID != msg.StreamID {
		slog.Warn("answer without matching session dropped", "connId", connID, "streamId", msg.StreamID)
		return
	}

	broadcasterID := r.registry.Broadcaster(msg.StreamID)
	if broadcasterID == "" {
		slog.Warn("answer for broadcasterless stream dropped", "connId", connID, "streamId", msg.StreamID)
		return
	}

	// Tagged with the viewer's id so the broadcaster can route it to the
	// matching per-viewer transport.
	r.sendTo(broadcasterID, models.SignalMessage{
		Type:     models.SignalTypeAnswer,
		StreamID: msg.StreamID,
		From:     connID,
		Payload:  msg.Payload,
	})
}

func (r *Relay) handleCandidate(connID string, msg models.SignalMessage) {
	role := r.registry.Role(connID)
	if role.StreamID != msg.StreamID {
		slog.Warn("candidate without matching session dropped", "connId", connID, "streamId", msg.StreamID)
		return
	}

	out := models.SignalMessage{
		Type:     models.SignalTypeCandidate,
		StreamID: msg.StreamID,
		From:     connID,
		Payload:  msg.Payload,
	}

	switch role.Kind {
	case models.RoleBroadcaster:
		if msg.To != "" {
			// Unicast to anything but a current viewer of this stream is
			// a silent no-op; a departed or foreign id must not leak the
			// candidate into another session.
			target := r.registry.Role(msg.To)
			if target.Kind == models.RoleViewer && target.StreamID == msg.StreamID {
				r.sendTo(msg.To, out)
			}
			return
		}
		for _, viewerID := range r.registry.Viewers(msg.StreamID) {
			r.sendTo(viewerID, out)
		}
	case models.RoleViewer:
		if broadcasterID := r.registry.Broadcaster(msg.StreamID); broadcasterID != "" {
			r.sendTo(broadcasterID, out)
		}
	default:
		slog.Warn("candidate from unassigned connection dropped", "connId", connID)
	}
}

func (r *Relay) handleEndStream(connID string, msg models.SignalMessage) {
	viewers, err := r.registry.EndStream(msg.StreamID, connID)
	if err != nil {
		r.sendTo(connID, models.SignalMessage{
			Type:     models.SignalTypeError,
			StreamID: msg.StreamID,
			Error:    "only the broadcaster may end the stream",
		})
		return
	}

	r.presence.StreamEnded(msg.StreamID)
	for _, viewerID := range viewers {
		r.sendTo(viewerID, models.SignalMessage{
			Type:     models.SignalTypeEndStream,
			StreamID: msg.StreamID,
		})
		r.sendTo(viewerID, models.SignalMessage{
			Type:     models.SignalTypeStreamStatus,
			StreamID: msg.StreamID,
			Active:   false,
		})
	}
	slog.Info("stream ended", "streamId", msg.StreamID, "connId", connID, "viewers", len(viewers))
}

func (r *Relay) handleForceEnd(streamID string) bool {
	broadcasterID := r.registry.Broadcaster(streamID)
	if broadcasterID == "" {
		return false
	}

	viewers, err := r.registry.EndStream(streamID, broadcasterID)
	if err != nil {
		return false
	}

	r.presence.StreamEnded(streamID)
	for _, id := range append(viewers, broadcasterID) {
		r.sendTo(id, models.SignalMessage{
			Type:     models.SignalTypeEndStream,
			StreamID: streamID,
		})
		r.sendTo(id, models.SignalMessage{
			Type:     models.SignalTypeStreamStatus,
			StreamID: streamID,
			Active:   false,
		})
	}
	slog.Info("stream force-ended", "streamId", streamID, "viewers", len(viewers))
	return true
}

// sendTo delivers msg to connID if it is still attached. A vanished target is
// not an error: the peer already left.
func (r *Relay) sendTo(connID string, msg models.SignalMessage) {
	s, ok := r.conns[connID]
	if !ok {
		return
	}
	if err := s.Send(msg); err != nil {
		slog.Warn("send failed", "connId", connID, "type", msg.Type, "error", err)
	}
}
