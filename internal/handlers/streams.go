package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hollis-v/beamcast/internal/registry"
	"github.com/hollis-v/beamcast/internal/relay"
)

// StreamInfo is the public view of a session.
type StreamInfo struct {
	StreamID    string `json:"streamId"`
	Active      bool   `json:"active"`
	ViewerCount int    `json:"viewerCount"`
}

// GetStream returns live info about a stream (public).
func GetStream(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamID := c.Param("streamId")

		exists, active := reg.Status(streamID)
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
			return
		}

		c.JSON(http.StatusOK, StreamInfo{
			StreamID:    streamID,
			Active:      active,
			ViewerCount: reg.ViewerCount(streamID),
		})
	}
}

// EndStream force-ends a live stream (requires JWT, operator tooling).
func EndStream(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("user_id"); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		streamID := c.Param("streamId")
		if !rl.ForceEnd(streamID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Stream ended"})
	}
}

// Stats reports registry totals.
func Stats(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, connections := reg.Stats()
		c.JSON(http.StatusOK, gin.H{
			"sessions":    sessions,
			"connections": connections,
		})
	}
}
