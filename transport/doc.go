// Package transport provides the datagram link used to carry chat traffic
// between members of a group once the radio has formed it.
//
// # Architecture
//
// The core abstraction is the Transport interface:
//
//	type Transport interface {
//	    Send(packet *Packet, addr net.Addr) error
//	    Close() error
//	    LocalAddr() net.Addr
//	    RegisterHandler(packetType PacketType, handler PacketHandler)
//	}
//
// UDPTransport is the only implementation. It runs one read loop that
// parses each datagram and dispatches it to the handler registered for its
// packet type. Handlers run on the read loop, so datagrams from one sender
// are handled in arrival order and handlers must not block.
//
// # Wire Format
//
// Every datagram is framed as
//
//	[packet type (1 byte)][payload]
//
// Chat payloads are the raw UTF-8 message. Hello payloads announce the
// sender during group formation in LAN mode, see Hello.
//
// # Example
//
//	tr, err := transport.NewUDPTransport(":8988")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tr.Close()
//
//	tr.RegisterHandler(transport.PacketChat, func(p *transport.Packet, addr net.Addr) error {
//	    fmt.Printf("%s: %s\n", addr, p.Data)
//	    return nil
//	})
package transport
