package interfaces

import (
	"context"
	"fmt"
)

// Device is the identity a discoverable peer advertises.
type Device struct {
	// Address identifies the peer for the lifetime of a discovery session.
	Address string `json:"address"`
	// Name is a human readable label and is not guaranteed to be unique.
	Name string `json:"name"`
}

// String returns "name (address)".
func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Address)
}

// Subscription is a live peer scan started by Scanner.ScanStart.
type Subscription interface {
	// Updates delivers the complete current peer list on every change.
	// The channel is closed when the scan ends, either through ScanStop
	// or because the radio failed.
	Updates() <-chan []Device

	// Err reports why Updates was closed. It returns nil while the scan is
	// running and after a clean ScanStop.
	Err() error
}

// RoleInfo is the outcome of group negotiation as reported by the radio.
type RoleInfo struct {
	IsGroupOwner bool
	// OwnerAddress is the address clients use to reach the group owner.
	OwnerAddress string
}

// InboundMessage is a chat payload read from the group.
type InboundMessage struct {
	FromAddress string
	Content     string
}

// TeardownMode selects how a group link is torn down.
type TeardownMode uint8

const (
	// TeardownRemoveGroup dissolves the whole group. Used by the group owner.
	TeardownRemoveGroup TeardownMode = iota
	// TeardownCancelConnect drops only the local link. Used by clients.
	TeardownCancelConnect
)

// String returns the teardown mode name.
func (m TeardownMode) String() string {
	switch m {
	case TeardownRemoveGroup:
		return "remove_group"
	case TeardownCancelConnect:
		return "cancel_connect"
	default:
		return fmt.Sprintf("teardown(%d)", uint8(m))
	}
}

// Scanner starts and stops peer discovery.
type Scanner interface {
	// ScanStart begins scanning and returns the update stream.
	ScanStart(ctx context.Context) (Subscription, error)

	// ScanStop ends the scan behind sub and releases it.
	ScanStop(ctx context.Context, sub Subscription) error
}

// Connector forms and tears down groups.
type Connector interface {
	// Connect requests a group link with the peer at address.
	Connect(ctx context.Context, address string) error

	// Disconnect tears down the current group link.
	Disconnect(ctx context.Context, mode TeardownMode) error

	// QueryRole reports the negotiated role for the current group.
	QueryRole(ctx context.Context) (RoleInfo, error)
}

// Messenger exchanges chat payloads inside a group.
type Messenger interface {
	// SendTo sends content to a single group member.
	SendTo(ctx context.Context, address, content string) error

	// Send sends content to the group owner. Only meaningful for clients.
	Send(ctx context.Context, content string) error

	// Receive blocks until one message arrives or ctx is done.
	Receive(ctx context.Context) (InboundMessage, error)
}

// PeerTransport is the full capability set consumed by the coordinator.
type PeerTransport interface {
	Scanner
	Connector
	Messenger

	// Close releases every resource held by the transport.
	Close() error
}

// MaxGroupOwnerIntent is the highest group owner intent a peer may declare.
const MaxGroupOwnerIntent = 15

// NegotiateOwner applies the group owner negotiation rule to two peers that
// are both outside any group: the higher intent owns the group and a tie
// goes to the greater address. It reports whether the local peer owns.
// Both sides evaluate the rule with swapped arguments and agree.
func NegotiateOwner(localAddr string, localIntent uint8, remoteAddr string, remoteIntent uint8) bool {
	if localIntent != remoteIntent {
		return localIntent > remoteIntent
	}
	return localAddr > remoteAddr
}
