package wifip2p

import (
	"fmt"
	"strings"

	"github.com/opd-ai/wifip2p/session"
)

// Status lines shown while disconnected.
const (
	StatusNotConnected = "You are not connected."
	StatusTapDiscover  = "Tap discover to begin."
	StatusScanning     = "Searching for nearby devices..."
)

// StatusLines renders the two status lines for snap. Only confirmed states
// are shown: a pending connect still reads as not connected.
func StatusLines(snap session.Snapshot) []string {
	switch conn := snap.Connection.(type) {
	case session.ConnectedAsOwner:
		return []string{
			fmt.Sprintf("Connected to %s as group owner.", conn.Peer),
			memberLine(len(snap.Members)),
		}
	case session.ConnectedAsClient:
		return []string{
			fmt.Sprintf("Connected to %s as client.", conn.Peer),
			fmt.Sprintf("Group owner: %s", ownerLabel(conn.OwnerAddress)),
		}
	}

	second := StatusTapDiscover
	switch {
	case snap.Discovery == session.DiscoveryScanning && len(snap.Devices) == 0:
		second = StatusScanning
	case len(snap.Devices) > 0:
		if d, ok := snap.SelectedDevice(); ok {
			second = fmt.Sprintf("Selected %s. Tap connect.", d.Name)
		} else {
			second = fmt.Sprintf("%d device(s) found. Select one to connect.", len(snap.Devices))
		}
	}
	return []string{StatusNotConnected, second}
}

// StatusText joins StatusLines with a newline.
func StatusText(snap session.Snapshot) string {
	return strings.Join(StatusLines(snap), "\n")
}

func memberLine(n int) string {
	switch n {
	case 0:
		return "Waiting for members to say hello."
	case 1:
		return "1 member in the group."
	default:
		return fmt.Sprintf("%d members in the group.", n)
	}
}

func ownerLabel(addr string) string {
	if addr == "" {
		return "unknown"
	}
	return addr
}
