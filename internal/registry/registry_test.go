package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollis-v/beamcast/internal/models"
)

func TestRegisterBroadcaster(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(*Registry)
		wantReplaced string
		wantViewers  int
	}{
		{
			name:         "fresh stream",
			setup:        func(r *Registry) {},
			wantReplaced: "",
			wantViewers:  0,
		},
		{
			name: "takes over from prior broadcaster",
			setup: func(r *Registry) {
				r.RegisterBroadcaster("main", "old")
			},
			wantReplaced: "old",
			wantViewers:  0,
		},
		{
			name: "viewers joined before broadcaster",
			setup: func(r *Registry) {
				r.RegisterViewer("main", "v1")
				r.RegisterViewer("main", "v2")
			},
			wantReplaced: "",
			wantViewers:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			tt.setup(r)

			replaced, viewers := r.RegisterBroadcaster("main", "b1")

			assert.Equal(t, tt.wantReplaced, replaced)
			assert.Len(t, viewers, tt.wantViewers)
			assert.Equal(t, "b1", r.Broadcaster("main"))
			assert.Equal(t, models.Broadcaster("main"), r.Role("b1"))

			_, active := r.Status("main")
			assert.True(t, active)
		})
	}
}

func TestAtMostOneBroadcaster(t *testing.T) {
	r := New()

	r.RegisterBroadcaster("main", "b1")
	r.RegisterBroadcaster("main", "b2")
	r.RegisterBroadcaster("main", "b3")

	assert.Equal(t, "b3", r.Broadcaster("main"))
	assert.Equal(t, models.Unassigned(), r.Role("b1"))
	assert.Equal(t, models.Unassigned(), r.Role("b2"))

	// Removing a replaced broadcaster must not disturb the session.
	res := r.RemoveConnection("b1")
	assert.Equal(t, RemovedNone, res.Kind)
	assert.Equal(t, "b3", r.Broadcaster("main"))
}

func TestBroadcasterReregisterKeepsViewers(t *testing.T) {
	r := New()
	r.RegisterBroadcaster("main", "b1")
	r.RegisterViewer("main", "v1")
	r.RegisterViewer("main", "v2")

	replaced, viewers := r.RegisterBroadcaster("main", "b1")

	assert.Empty(t, replaced)
	assert.ElementsMatch(t, []string{"v1", "v2"}, viewers)
	assert.Equal(t, 2, r.ViewerCount("main"))
	assert.Equal(t, models.Viewer("main"), r.Role("v1"))
}

func TestBroadcasterSwitchingStreams(t *testing.T) {
	r := New()
	r.RegisterBroadcaster("main", "b1")
	r.RegisterViewer("main", "v1")

	r.RegisterBroadcaster("other", "b1")

	// The old session ends with its broadcaster; the new one starts fresh.
	exists, _ := r.Status("main")
	assert.False(t, exists)
	assert.Equal(t, models.Unassigned(), r.Role("v1"))
	assert.Equal(t, "b1", r.Broadcaster("other"))
}

func TestRegisterViewer(t *testing.T) {
	t.Run("before broadcaster", func(t *testing.T) {
		r := New()

		active, broadcasterID := r.RegisterViewer("main", "v1")

		assert.False(t, active)
		assert.Empty(t, broadcasterID)
		assert.Equal(t, 1, r.ViewerCount("main"))

		exists, liveNow := r.Status("main")
		assert.True(t, exists)
		assert.False(t, liveNow)
	})

	t.Run("after broadcaster", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")

		active, broadcasterID := r.RegisterViewer("main", "v1")

		assert.True(t, active)
		assert.Equal(t, "b1", broadcasterID)
	})

	t.Run("rejoin is idempotent on count", func(t *testing.T) {
		r := New()
		r.RegisterViewer("main", "v1")
		r.RegisterViewer("main", "v1")

		assert.Equal(t, 1, r.ViewerCount("main"))
	})
}

func TestStartJoinRaceConverges(t *testing.T) {
	joinFirst := New()
	joinFirst.RegisterViewer("main", "v1")
	joinFirst.RegisterBroadcaster("main", "b1")

	startFirst := New()
	startFirst.RegisterBroadcaster("main", "b1")
	startFirst.RegisterViewer("main", "v1")

	for _, r := range []*Registry{joinFirst, startFirst} {
		assert.Equal(t, "b1", r.Broadcaster("main"))
		assert.Equal(t, 1, r.ViewerCount("main"))
		_, active := r.Status("main")
		assert.True(t, active)
	}
}

func TestRemoveConnection(t *testing.T) {
	t.Run("broadcaster leaves", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")
		r.RegisterViewer("main", "v1")
		r.RegisterViewer("main", "v2")

		res := r.RemoveConnection("b1")

		require.Equal(t, RemovedBroadcaster, res.Kind)
		assert.Equal(t, "main", res.StreamID)
		assert.ElementsMatch(t, []string{"v1", "v2"}, res.Viewers)

		exists, _ := r.Status("main")
		assert.False(t, exists, "session must be gone")
		assert.Equal(t, 0, r.ViewerCount("main"))
		assert.Equal(t, models.Unassigned(), r.Role("v1"))
	})

	t.Run("viewer leaves", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")
		r.RegisterViewer("main", "v1")
		r.RegisterViewer("main", "v2")

		res := r.RemoveConnection("v1")

		require.Equal(t, RemovedViewer, res.Kind)
		assert.Equal(t, 1, res.ViewerCount)
		assert.Equal(t, "b1", res.BroadcasterID)
		assert.Equal(t, 1, r.ViewerCount("main"))
	})

	t.Run("join then leave restores count", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")
		r.RegisterViewer("main", "v1")
		before := r.ViewerCount("main")

		r.RegisterViewer("main", "v2")
		r.RemoveConnection("v2")

		assert.Equal(t, before, r.ViewerCount("main"))
	})

	t.Run("unknown connection", func(t *testing.T) {
		r := New()
		res := r.RemoveConnection("ghost")
		assert.Equal(t, RemovedNone, res.Kind)
	})

	t.Run("last viewer of inactive session removes it", func(t *testing.T) {
		r := New()
		r.RegisterViewer("main", "v1")

		r.RemoveConnection("v1")

		exists, _ := r.Status("main")
		assert.False(t, exists)
	})
}

func TestEndStream(t *testing.T) {
	t.Run("broadcaster ends own stream", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")
		r.RegisterViewer("main", "v1")

		viewers, err := r.EndStream("main", "b1")

		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"v1"}, viewers)

		exists, _ := r.Status("main")
		assert.False(t, exists)
	})

	t.Run("viewer cannot end stream", func(t *testing.T) {
		r := New()
		r.RegisterBroadcaster("main", "b1")
		r.RegisterViewer("main", "v1")

		_, err := r.EndStream("main", "v1")

		require.ErrorIs(t, err, ErrNotBroadcaster)
		assert.Equal(t, "b1", r.Broadcaster("main"))
		assert.Equal(t, 1, r.ViewerCount("main"))
	})

	t.Run("unknown stream", func(t *testing.T) {
		r := New()
		_, err := r.EndStream("nope", "b1")
		assert.ErrorIs(t, err, ErrNotBroadcaster)
	})
}

func TestStats(t *testing.T) {
	r := New()
	r.RegisterBroadcaster("main", "b1")
	r.RegisterViewer("main", "v1")
	r.RegisterViewer("other", "v2")

	sessions, connections := r.Stats()

	assert.Equal(t, 2, sessions)
	assert.Equal(t, 3, connections)
}
