// Package real provides the production message path for a formed group.
//
// LinkMessenger implements interfaces.Messenger on top of a
// transport.Transport, normally a UDP socket bound on the group interface.
// The radio transports (lan and wpas) form the group and delegate every
// chat operation to a LinkMessenger.
//
// # Architecture
//
//	┌─────────────────────────────────────────┐
//	│             LinkMessenger               │
//	│  ┌─────────────┐  ┌─────────────────┐   │
//	│  │ Group owner │  │  Bounded inbox  │   │
//	│  │   address   │  │ (drop when full)│   │
//	│  └─────────────┘  └─────────────────┘   │
//	└───────────────┬─────────────────────────┘
//	                │
//	                ▼
//	┌─────────────────────────────────────────┐
//	│     transport.Transport (PacketChat)    │
//	└─────────────────────────────────────────┘
//
// Addresses are "host:port" strings. A bare host gets the configured
// default port. The sender address of an inbound message is the UDP source
// address, which is also the address to reply to.
//
// # Usage
//
//	link, _ := transport.NewUDPTransport(":8988")
//	m := real.NewLinkMessenger(link, real.LinkConfig{InboxSize: 64, DefaultPort: 8988})
//	defer m.Close()
//
//	_ = m.SetGroupOwner("192.168.49.1")
//	_ = m.Send(ctx, "hello owner")
//	msg, err := m.Receive(ctx)
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package real
