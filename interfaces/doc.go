// Package interfaces defines the capability set wifip2p consumes from the
// radio layer, together with the shared value types and error kinds used by
// every coordinator component.
//
// The radio (Wi-Fi Direct through wpa_supplicant, mDNS on a LAN, or an
// in-memory simulation) is an external collaborator. It performs peer
// scanning, group formation and raw datagram exchange; the coordinator only
// drives it through [PeerTransport].
//
// # Core Interfaces
//
// [PeerTransport] is split into three narrow interfaces so that each
// component depends only on what it uses:
//
//   - [Scanner]: ScanStart / ScanStop, used by the discovery controller
//   - [Connector]: Connect / Disconnect / QueryRole, used by the connection manager
//   - [Messenger]: SendTo / Send / Receive, used by the message router
//
// A scan yields a [Subscription]. Every value received from
// Subscription.Updates is the complete set of peers currently visible;
// consumers replace their list instead of merging:
//
//	sub, err := transport.ScanStart(ctx)
//	if err != nil {
//	    return err
//	}
//	for devices := range sub.Updates() {
//	    fmt.Printf("%d peers visible\n", len(devices))
//	}
//	if err := sub.Err(); err != nil {
//	    log.Printf("scan ended: %v", err)
//	}
//
// # Group Roles
//
// The side that becomes group owner is negotiated by the radio. Callers must
// call QueryRole after a successful Connect instead of guessing:
//
//	if err := transport.Connect(ctx, addr); err != nil {
//	    return err
//	}
//	role, err := transport.QueryRole(ctx)
//	if err != nil {
//	    return err
//	}
//	if role.IsGroupOwner {
//	    // members will be learned from inbound traffic
//	}
//
// Teardown is role aware: an owner removes the whole group
// ([TeardownRemoveGroup]) while a client cancels its own link
// ([TeardownCancelConnect]).
//
// # Error Handling
//
// Operations report failures as [*Error], which carries the operation name,
// an optional peer address, an error kind and the underlying cause. Both the
// kind and the cause are reachable through errors.Is:
//
//	err := router.Send(ctx, "hi")
//	if errors.Is(err, interfaces.ErrPartialDelivery) {
//	    var pd *interfaces.PartialDeliveryError
//	    errors.As(err, &pd)
//	    log.Printf("%d members missed the message", len(pd.Failed))
//	}
//
// # Thread Safety
//
// Implementations of PeerTransport must be safe for concurrent use. Send and
// Receive in particular are expected to be in flight at the same time.
package interfaces
