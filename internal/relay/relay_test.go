package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-v/beamcast/internal/models"
	"github.com/hollis-v/beamcast/internal/registry"
)

type mockSender struct {
	id   string
	sent []models.SignalMessage
}

func (m *mockSender) ID() string { return m.id }

func (m *mockSender) Send(msg models.SignalMessage) error {
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) byType(t models.SignalType) []models.SignalMessage {
	var out []models.SignalMessage
	for _, msg := range m.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSender) last() models.SignalMessage {
	return m.sent[len(m.sent)-1]
}

func newTestRelay() (*Relay, *registry.Registry) {
	reg := registry.New()
	return New(reg, nil), reg
}

func attach(r *Relay, id string) *mockSender {
	s := &mockSender{id: id}
	r.handleAttach(s)
	return s
}

func sdp(s string) json.RawMessage {
	return json.RawMessage(`{"sdp":"` + s + `"}`)
}

func TestBroadcastViewerScenario(t *testing.T) {
	r, reg := newTestRelay()
	b := attach(r, "B")
	v1 := attach(r, "V1")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	statuses := v1.byType(models.SignalTypeStreamStatus)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Active)

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeOffer, StreamID: "main", Payload: sdp("X")})

	offers := v1.byType(models.SignalTypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "B", offers[0].From)
	assert.JSONEq(t, string(sdp("X")), string(offers[0].Payload))

	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeAnswer, StreamID: "main", Payload: sdp("Y")})

	answers := b.byType(models.SignalTypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "V1", answers[0].From)
	assert.JSONEq(t, string(sdp("Y")), string(answers[0].Payload))

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeEndStream, StreamID: "main"})

	assert.Len(t, v1.byType(models.SignalTypeEndStream), 1)
	statuses = v1.byType(models.SignalTypeStreamStatus)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].Active)

	exists, _ := reg.Status("main")
	assert.False(t, exists)
}

func TestViewersJoinBeforeBroadcaster(t *testing.T) {
	r, _ := newTestRelay()
	b := attach(r, "B")
	v1 := attach(r, "V1")
	v2 := attach(r, "V2")

	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	// Both learn the stream is not live yet.
	assert.False(t, v1.last().Active)
	assert.False(t, v2.last().Active)

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})

	for _, v := range []*mockSender{v1, v2} {
		statuses := v.byType(models.SignalTypeStreamStatus)
		require.Len(t, statuses, 2)
		assert.True(t, statuses[1].Active)
	}

	counts := b.byType(models.SignalTypeViewerCount)
	require.Len(t, counts, 1)
	assert.Equal(t, 2, counts[0].Count)

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeOffer, StreamID: "main", Payload: sdp("X")})

	for _, v := range []*mockSender{v1, v2} {
		offers := v.byType(models.SignalTypeOffer)
		require.Len(t, offers, 1)
		assert.Equal(t, "B", offers[0].From)
	}
}

func TestViewerJoinsBroadcasterlessStream(t *testing.T) {
	r, reg := newTestRelay()
	v := attach(r, "V")

	r.handleMessage("V", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "quiet"})

	statuses := v.byType(models.SignalTypeStreamStatus)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Active)

	exists, active := reg.Status("quiet")
	assert.True(t, exists)
	assert.False(t, active)
	assert.Equal(t, 1, reg.ViewerCount("quiet"))
}

func TestOfferScopedToStream(t *testing.T) {
	r, _ := newTestRelay()
	attach(r, "B")
	v1 := attach(r, "V1")
	outsider := attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "other"})

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeOffer, StreamID: "main", Payload: sdp("X")})

	assert.Len(t, v1.byType(models.SignalTypeOffer), 1)
	assert.Empty(t, outsider.byType(models.SignalTypeOffer))
}

func TestOfferFromNonBroadcasterDropped(t *testing.T) {
	r, _ := newTestRelay()
	attach(r, "B")
	attach(r, "V1")
	v2 := attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeOffer, StreamID: "main", Payload: sdp("X")})

	assert.Empty(t, v2.byType(models.SignalTypeOffer))
}

func TestCandidateRouting(t *testing.T) {
	r, _ := newTestRelay()
	b := attach(r, "B")
	v1 := attach(r, "V1")
	v2 := attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	t.Run("broadcaster unicast", func(t *testing.T) {
		r.handleMessage("B", models.SignalMessage{
			Type: models.SignalTypeCandidate, StreamID: "main", To: "V1", Payload: sdp("c1"),
		})
		assert.Len(t, v1.byType(models.SignalTypeCandidate), 1)
		assert.Empty(t, v2.byType(models.SignalTypeCandidate))
	})

	t.Run("broadcaster broadcast", func(t *testing.T) {
		r.handleMessage("B", models.SignalMessage{
			Type: models.SignalTypeCandidate, StreamID: "main", Payload: sdp("c2"),
		})
		assert.Len(t, v1.byType(models.SignalTypeCandidate), 2)
		assert.Len(t, v2.byType(models.SignalTypeCandidate), 1)
	})

	t.Run("viewer to broadcaster", func(t *testing.T) {
		r.handleMessage("V1", models.SignalMessage{
			Type: models.SignalTypeCandidate, StreamID: "main", Payload: sdp("c3"),
		})
		candidates := b.byType(models.SignalTypeCandidate)
		require.Len(t, candidates, 1)
		assert.Equal(t, "V1", candidates[0].From)
	})

	t.Run("unicast to departed viewer is silent", func(t *testing.T) {
		r.handleMessage("B", models.SignalMessage{
			Type: models.SignalTypeCandidate, StreamID: "main", To: "gone", Payload: sdp("c4"),
		})
		assert.Empty(t, b.byType(models.SignalTypeError))
	})

	t.Run("unicast never crosses sessions", func(t *testing.T) {
		outsider := attach(r, "X")
		r.handleMessage("X", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "other"})

		r.handleMessage("B", models.SignalMessage{
			Type: models.SignalTypeCandidate, StreamID: "main", To: "X", Payload: sdp("c5"),
		})

		assert.Empty(t, outsider.byType(models.SignalTypeCandidate))
	})
}

func TestEndStreamAuthorization(t *testing.T) {
	r, reg := newTestRelay()
	attach(r, "B")
	v1 := attach(r, "V1")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeEndStream, StreamID: "main"})

	errs := v1.byType(models.SignalTypeError)
	require.Len(t, errs, 1)

	exists, active := reg.Status("main")
	assert.True(t, exists)
	assert.True(t, active)
	assert.Empty(t, v1.byType(models.SignalTypeEndStream))
}

func TestBroadcasterDisconnect(t *testing.T) {
	r, reg := newTestRelay()
	attach(r, "B")
	v1 := attach(r, "V1")
	v2 := attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	r.handleDetach("B")

	for _, v := range []*mockSender{v1, v2} {
		assert.Len(t, v.byType(models.SignalTypeEndStream), 1)

		var inactive int
		for _, msg := range v.byType(models.SignalTypeStreamStatus) {
			if !msg.Active {
				inactive++
			}
		}
		assert.Equal(t, 1, inactive)
	}

	exists, _ := reg.Status("main")
	assert.False(t, exists)
}

func TestViewerDisconnectUpdatesCount(t *testing.T) {
	r, _ := newTestRelay()
	b := attach(r, "B")
	attach(r, "V1")
	attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	r.handleDetach("V1")

	counts := b.byType(models.SignalTypeViewerCount)
	require.NotEmpty(t, counts)
	last := counts[len(counts)-1]
	assert.Equal(t, 1, last.Count)
	assert.Equal(t, "V1", last.From)
}

func TestBroadcasterTakeover(t *testing.T) {
	r, reg := newTestRelay()
	old := attach(r, "B1")
	attach(r, "B2")

	r.handleMessage("B1", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("B2", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})

	errs := old.byType(models.SignalTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "B2", reg.Broadcaster("main"))
}

func TestBroadcasterRestartKeepsViewers(t *testing.T) {
	r, reg := newTestRelay()
	b := attach(r, "B")
	v1 := attach(r, "V1")
	v2 := attach(r, "V2")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V2", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	// Re-issued intent after a signaling reconnect: the session survives.
	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})

	assert.Equal(t, 2, reg.ViewerCount("main"))
	assert.Equal(t, "B", reg.Broadcaster("main"))
	for _, v := range []*mockSender{v1, v2} {
		assert.Empty(t, v.byType(models.SignalTypeEndStream))
	}
	assert.Empty(t, b.byType(models.SignalTypeError))

	counts := b.byType(models.SignalTypeViewerCount)
	require.NotEmpty(t, counts)
	assert.Equal(t, 2, counts[len(counts)-1].Count)
}

func TestBroadcasterSwitchesStreams(t *testing.T) {
	r, reg := newTestRelay()
	attach(r, "B")
	v1 := attach(r, "V1")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "other"})

	// The abandoned stream ends like any broadcaster departure.
	assert.Len(t, v1.byType(models.SignalTypeEndStream), 1)
	exists, _ := reg.Status("main")
	assert.False(t, exists)
	assert.Equal(t, "B", reg.Broadcaster("other"))
}

func TestAnswerWithoutSessionDropped(t *testing.T) {
	r, _ := newTestRelay()
	b := attach(r, "B")
	attach(r, "X")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})

	// X never joined; its answer must vanish without an error or a crash.
	r.handleMessage("X", models.SignalMessage{Type: models.SignalTypeAnswer, StreamID: "main", Payload: sdp("Y")})

	assert.Empty(t, b.byType(models.SignalTypeAnswer))
}

func TestDefaultStreamID(t *testing.T) {
	r, reg := newTestRelay()
	attach(r, "B")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream})

	assert.Equal(t, "B", reg.Broadcaster(models.DefaultStreamID))
}

func TestLeaveStreamKeepsConnection(t *testing.T) {
	r, reg := newTestRelay()
	b := attach(r, "B")
	attach(r, "V1")

	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "main"})
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeLeaveStream, StreamID: "main"})

	assert.Equal(t, 0, reg.ViewerCount("main"))
	counts := b.byType(models.SignalTypeViewerCount)
	assert.Equal(t, 0, counts[len(counts)-1].Count)

	// The connection is still attached and may join another stream.
	r.handleMessage("V1", models.SignalMessage{Type: models.SignalTypeJoinStream, StreamID: "other"})
	assert.Equal(t, 1, reg.ViewerCount("other"))
}

func TestForceEnd(t *testing.T) {
	r, reg := newTestRelay()
	attach(r, "B")
	r.handleMessage("B", models.SignalMessage{Type: models.SignalTypeStartStream, StreamID: "main"})

	go r.Run()
	defer r.Stop()

	assert.True(t, r.ForceEnd("main"))
	assert.False(t, r.ForceEnd("main"))

	exists, _ := reg.Status("main")
	assert.False(t, exists)
}
