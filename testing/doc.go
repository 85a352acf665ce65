// Package testing provides an in-memory simulated radio for deterministic
// testing of wifip2p.
//
// # Overview
//
// SimulatedNetwork stands in for the air around a set of devices. Every
// device joins the network through a SimulatedTransport, which implements
// interfaces.PeerTransport without any real I/O:
//
//   - Discovery: scan subscriptions receive the full list of other joined
//     devices whenever a device joins or leaves.
//   - Group formation: Connect negotiates ownership with the owner intent
//     rule. An existing group owner keeps its group and the caller joins it
//     as a client.
//   - Messaging: SendTo and Send place the message in the recipient's inbox.
//     Only members of the same group can reach each other.
//
// # Simulation vs Real Implementation
//
// The radio transports in the lan and wpas packages talk to real hardware.
// This package is used by unit tests, integration tests and the
// simulated_group example, and by the factory when the simulation transport
// is configured.
//
// # Usage
//
//	network := testing.NewSimulatedNetwork()
//	phone := network.Join("02:00:00:00:00:01", "Phone", 7)
//	network.AddEchoPeer("02:00:00:00:00:02", "Echo", 15)
//
//	sub, _ := phone.ScanStart(ctx)
//	devices := <-sub.Updates()
//
// # Verification
//
// Every transport records its calls. Tests inspect them with Calls and
// CallsFor, and inject failures with FailNext:
//
//	phone.FailNext(testing.OpConnect, errors.New("busy"))
//	...
//	sends := phone.CallsFor(testing.OpSendTo)
//
// # Thread Safety
//
// All types are safe for concurrent use.
package testing
