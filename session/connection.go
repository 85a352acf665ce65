package session

import "fmt"

// ConnectionState is the tagged connection status. Exactly one of
// Disconnected, ConnectedAsOwner and ConnectedAsClient holds at a time;
// callers branch with a type switch:
//
//	switch c := st.Connection().(type) {
//	case session.ConnectedAsOwner:
//	    // fan out to members
//	case session.ConnectedAsClient:
//	    // unicast to c.OwnerAddress
//	case session.Disconnected:
//	    // nothing to do
//	}
type ConnectionState interface {
	// IsConnected reports whether a group link is established.
	IsConnected() bool
	// IsGroupOwner reports whether the local side owns the group.
	IsGroupOwner() bool
	// PeerAddress returns the address passed to connect, or "".
	PeerAddress() string
	String() string

	connectionState()
}

// Disconnected is the initial state and the state after any teardown.
type Disconnected struct{}

func (Disconnected) IsConnected() bool   { return false }
func (Disconnected) IsGroupOwner() bool  { return false }
func (Disconnected) PeerAddress() string { return "" }
func (Disconnected) String() string      { return "disconnected" }
func (Disconnected) connectionState()    {}

// ConnectedAsOwner means the local device owns the group and relays
// traffic to every known member.
type ConnectedAsOwner struct {
	Peer         string
	OwnerAddress string
}

func (ConnectedAsOwner) IsConnected() bool     { return true }
func (ConnectedAsOwner) IsGroupOwner() bool    { return true }
func (c ConnectedAsOwner) PeerAddress() string { return c.Peer }
func (c ConnectedAsOwner) String() string {
	return fmt.Sprintf("connected to %s as group owner", c.Peer)
}
func (ConnectedAsOwner) connectionState() {}

// ConnectedAsClient means the local device is a group member that reaches
// the rest of the group through OwnerAddress.
type ConnectedAsClient struct {
	Peer         string
	OwnerAddress string
}

func (ConnectedAsClient) IsConnected() bool     { return true }
func (ConnectedAsClient) IsGroupOwner() bool    { return false }
func (c ConnectedAsClient) PeerAddress() string { return c.Peer }
func (c ConnectedAsClient) String() string {
	return fmt.Sprintf("connected to %s as client (owner %s)", c.Peer, c.OwnerAddress)
}
func (ConnectedAsClient) connectionState() {}

// NewConnected builds the connected variant matching the negotiated role.
func NewConnected(peer string, isGroupOwner bool, ownerAddress string) ConnectionState {
	if isGroupOwner {
		return ConnectedAsOwner{Peer: peer, OwnerAddress: ownerAddress}
	}
	return ConnectedAsClient{Peer: peer, OwnerAddress: ownerAddress}
}
