// Package lan emulates Wi-Fi Direct group formation on an ordinary local
// network.
//
// # Overview
//
// Devices advertise themselves over multicast DNS with the configured
// service type and these TXT records:
//
//	id=<device id>   stable identifier, see DeviceID
//	name=<name>      human readable device name
//	intent=<0..15>   group owner intent
//
// Browsing streams the complete device list on every change. Forming a
// group is a two packet handshake on the chat socket: the initiator sends
// transport.PacketHello and the responder answers with
// transport.PacketHelloAck. The responder decides the roles. A device that
// already owns a group keeps it, otherwise the owner intent rule of
// interfaces.NegotiateOwner applies. Leaving a group sends
// transport.PacketBye to the linked peers.
//
// Chat traffic is carried by a real.LinkMessenger on the same socket, so the
// address a client sends from is also the address the owner replies to.
//
// # Usage
//
//	tr, err := lan.New(lan.Config{DeviceName: "kitchen", ListenPort: 8988, Intent: 7})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tr.Close()
//
//	coordinator := wifip2p.New(tr, wifip2p.Options{})
package lan
