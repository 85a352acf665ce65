package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the type of a link packet.
type PacketType byte

const (
	// PacketChat carries one chat message.
	PacketChat PacketType = iota + 1
	// PacketHello asks a peer to form a group.
	PacketHello
	// PacketHelloAck accepts a PacketHello.
	PacketHelloAck
	// PacketBye announces that the sender left or dissolved the group.
	PacketBye
)

var packetTypeNames = map[PacketType]string{
	PacketChat:     "chat",
	PacketHello:    "hello",
	PacketHelloAck: "hello_ack",
	PacketBye:      "bye",
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("packet(%d)", byte(t))
}

// Packet represents a link packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, errors.New("packet too short")
	}

	packetType := PacketType(data[0])
	packet := &Packet{
		PacketType: packetType,
		Data:       make([]byte, len(data)-1),
	}

	copy(packet.Data, data[1:])

	return packet, nil
}

// maxHelloField bounds the id and name fields of a Hello.
const maxHelloField = 255

// Hello is the payload of PacketHello and PacketHelloAck.
type Hello struct {
	DeviceID   string
	Name       string
	Intent     uint8
	ListenPort uint16
	// Owner is set when the sender owns the group being formed or joined.
	Owner bool
}

const helloFlagOwner = 0x01

// Serialize converts a Hello to a byte slice.
func (h *Hello) Serialize() ([]byte, error) {
	if h.DeviceID == "" {
		return nil, errors.New("hello device id is empty")
	}
	if len(h.DeviceID) > maxHelloField || len(h.Name) > maxHelloField {
		return nil, fmt.Errorf("hello field exceeds %d bytes", maxHelloField)
	}

	var flags byte
	if h.Owner {
		flags |= helloFlagOwner
	}

	// Format: [flags (1)][intent (1)][port (2)][id len (1)][id][name len (1)][name]
	result := make([]byte, 0, 6+len(h.DeviceID)+len(h.Name))
	result = append(result, flags, h.Intent)
	result = binary.BigEndian.AppendUint16(result, h.ListenPort)
	result = append(result, byte(len(h.DeviceID)))
	result = append(result, h.DeviceID...)
	result = append(result, byte(len(h.Name)))
	result = append(result, h.Name...)

	return result, nil
}

// ParseHello converts a byte slice to a Hello.
func ParseHello(data []byte) (*Hello, error) {
	if len(data) < 5 {
		return nil, errors.New("hello too short")
	}

	h := &Hello{
		Owner:      data[0]&helloFlagOwner != 0,
		Intent:     data[1],
		ListenPort: binary.BigEndian.Uint16(data[2:4]),
	}

	idLen := int(data[4])
	rest := data[5:]
	if idLen == 0 || len(rest) < idLen+1 {
		return nil, errors.New("hello device id truncated")
	}
	h.DeviceID = string(rest[:idLen])
	rest = rest[idLen:]

	nameLen := int(rest[0])
	rest = rest[1:]
	if len(rest) != nameLen {
		return nil, errors.New("hello name length mismatch")
	}
	h.Name = string(rest)

	return h, nil
}
