package relay

// Presence mirrors live session membership to an external store so operators
// can inspect streams without touching the relay. Implementations must never
// block the dispatch loop on failure; errors are logged and swallowed.
type Presence interface {
	StreamStarted(streamID, broadcasterID string)
	StreamEnded(streamID string)
	ViewerJoined(streamID, connID string)
	ViewerLeft(streamID, connID string)
}

// NopPresence is used in tests and when no store is configured.
type NopPresence struct{}

func (NopPresence) StreamStarted(string, string) {}
func (NopPresence) StreamEnded(string)           {}
func (NopPresence) ViewerJoined(string, string)  {}
func (NopPresence) ViewerLeft(string, string)    {}
