package real

import (
	"net"
	"sync"

	"github.com/opd-ai/wifip2p/transport"
)

// mockAddr implements net.Addr for testing
type mockAddr struct {
	network string
	address string
}

func (m *mockAddr) Network() string { return m.network }
func (m *mockAddr) String() string  { return m.address }

type sentPacket struct {
	packet *transport.Packet
	addr   string
}

// mockLink implements transport.Transport for testing
type mockLink struct {
	mu          sync.Mutex
	handlers    map[transport.PacketType]transport.PacketHandler
	sent        []sentPacket
	sendErr     error
	closeCalled int
}

func newMockLink() *mockLink {
	return &mockLink{handlers: make(map[transport.PacketType]transport.PacketHandler)}
}

func (m *mockLink) Send(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentPacket{packet: packet, addr: addr.String()})
	return m.sendErr
}

func (m *mockLink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled++
	return nil
}

func (m *mockLink) LocalAddr() net.Addr {
	return &mockAddr{network: "udp", address: "192.168.49.1:8988"}
}

func (m *mockLink) RegisterHandler(packetType transport.PacketType, handler transport.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[packetType] = handler
}

// inject simulates a datagram arriving from addr.
func (m *mockLink) inject(packetType transport.PacketType, data []byte, addr string) error {
	m.mu.Lock()
	handler := m.handlers[packetType]
	m.mu.Unlock()
	return handler(&transport.Packet{PacketType: packetType, Data: data}, &mockAddr{network: "udp", address: addr})
}

func (m *mockLink) sentPackets() []sentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentPacket(nil), m.sent...)
}
