// Package messaging routes chat payloads inside a connected group.
//
// # Overview
//
// The Router applies the role policy recorded in the session state:
//
//   - Group owner: the payload is sent individually to every known member.
//     The fan-out is best effort. A failed member is logged and does not stop
//     the others, and the failures are reported together as one
//     [interfaces.PartialDeliveryError].
//   - Client: the payload is sent exactly once, to the group owner.
//
// Receiving a message records it as the last received message and, for the
// group owner, adds its sender to the member set in the same state update.
// The owner learns its members only this way, so clients are expected to
// say something before they can be reached.
//
// # Usage
//
//	router := messaging.NewRouter(transport, state, 8)
//
//	if err := router.Send(ctx, "hi"); err != nil {
//	    var partial *interfaces.PartialDeliveryError
//	    if errors.As(err, &partial) {
//	        log.Printf("missed %v", partial.FailedAddresses())
//	    }
//	}
//
//	msg, err := router.Receive(ctx)
//
// # Thread Safety
//
// Send and Receive may run concurrently with each other and with discovery
// and connection changes. The router holds no lock across transport calls.
package messaging
