// Package wifip2p coordinates peer discovery, group formation and chat
// message routing for a Wi-Fi Direct style group network.
//
// A group has one group owner and one or more clients. The Coordinator
// discovers nearby peers, lets the caller select and connect to one, records
// the role the radio negotiated and routes messages by that role: clients
// send only to the owner, the owner fans out to every member it has heard
// from.
//
// Example:
//
//	transport, err := factory.NewTransportFactory(cfg).Create()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	coord := wifip2p.New(transport, wifip2p.NewOptions())
//	defer coord.Close()
//
//	coord.OnDevices(func(devices []interfaces.Device) {
//	    fmt.Println("found", devices)
//	})
//	coord.OnMessage(func(msg session.Message) {
//	    fmt.Printf("%s: %s\n", msg.FromAddress, msg.Content)
//	})
//
//	if err := coord.StartDiscovery(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	// ... once the peer shows up
//	coord.SelectDevice(address)
//	if err := coord.ToggleConnect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	coord.SendMessage(ctx, "hi")
//
// # Transports
//
// The radio is an interfaces.PeerTransport. The testing package provides an
// in-memory network, the lan package uses mDNS and UDP on an existing
// network, and the wpas package drives wpa_supplicant over D-Bus.
//
// # Concurrency
//
// Every Coordinator method may be called from any goroutine. Blocking
// operations can be started with Go, which returns a Future. State changes
// are delivered to the registered callbacks in the order they were applied.
package wifip2p
