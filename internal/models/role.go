package models

// RoleKind is the assignment state of a connection.
type RoleKind int

const (
	RoleUnassigned RoleKind = iota
	RoleBroadcaster
	RoleViewer
)

func (k RoleKind) String() string {
	switch k {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	default:
		return "unassigned"
	}
}

// Role ties a connection's assignment to its stream. A role without a
// stream id is only representable as Unassigned.
type Role struct {
	Kind     RoleKind
	StreamID string
}

func Unassigned() Role { return Role{Kind: RoleUnassigned} }

func Broadcaster(streamID string) Role {
	return Role{Kind: RoleBroadcaster, StreamID: streamID}
}

func Viewer(streamID string) Role {
	return Role{Kind: RoleViewer, StreamID: streamID}
}
