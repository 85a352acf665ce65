package lan

import (
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/transport"
)

func (t *Transport) sendHello(packetType transport.PacketType, addr net.Addr, owner bool) error {
	port := t.link.LocalAddr().(*net.UDPAddr).Port
	hello := &transport.Hello{
		DeviceID:   t.id,
		Name:       t.config.DeviceName,
		Intent:     t.config.Intent,
		ListenPort: uint16(port),
		Owner:      owner,
	}
	data, err := hello.Serialize()
	if err != nil {
		return err
	}
	return t.link.Send(&transport.Packet{PacketType: packetType, Data: data}, addr)
}

// respondRole decides the local role for a hello from remote. A current
// owner keeps its group; a client of another group declines.
func respondRole(g *groupState, localID string, localIntent uint8, remote *transport.Hello) (owner bool, accept bool) {
	switch {
	case g != nil && g.isOwner:
		return true, true
	case g != nil:
		_, linked := g.linked[remote.DeviceID]
		return false, linked
	case remote.Owner:
		return false, true
	default:
		return interfaces.NegotiateOwner(localID, localIntent, remote.DeviceID, remote.Intent), true
	}
}

// handleHello answers a group request and records the resulting group.
func (t *Transport) handleHello(packet *transport.Packet, addr net.Addr) error {
	hello, err := transport.ParseHello(packet.Data)
	if err != nil {
		return err
	}
	if hello.DeviceID == t.id {
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	owner, accept := respondRole(t.group, t.id, t.config.Intent, hello)
	if !accept {
		t.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Transport.handleHello",
			"peer_id":  hello.DeviceID,
			"from":     addr.String(),
		}).Warn("Declining hello while client of another group")
		return nil
	}

	if t.group == nil {
		t.group = &groupState{linked: make(map[string]net.Addr)}
		if owner {
			t.group.isOwner = true
			t.group.ownerID = t.id
			t.group.ownerAddr = t.link.LocalAddr().String()
		} else {
			t.group.ownerID = hello.DeviceID
			t.group.ownerAddr = addr.String()
		}
	}
	t.group.linked[hello.DeviceID] = addr
	ownerAddr := t.group.ownerAddr
	t.mu.Unlock()

	if !owner {
		if err := t.messenger.SetGroupOwner(ownerAddr); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Transport.handleHello",
		"peer_id":     hello.DeviceID,
		"peer_name":   hello.Name,
		"from":        addr.String(),
		"group_owner": owner,
	}).Info("Accepted group request")

	return t.sendHello(transport.PacketHelloAck, addr, owner)
}

// handleHelloAck completes a pending Connect.
func (t *Transport) handleHelloAck(packet *transport.Packet, addr net.Addr) error {
	hello, err := transport.ParseHello(packet.Data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	ack, ok := t.pending[hello.DeviceID]
	t.mu.Unlock()
	if !ok {
		return errors.New("unsolicited hello ack from " + hello.DeviceID)
	}

	select {
	case ack <- hello:
	default:
	}
	return nil
}

// handleBye drops a peer that left. A client whose owner left has no
// group any more.
func (t *Transport) handleBye(packet *transport.Packet, addr net.Addr) error {
	id := string(packet.Data)

	t.mu.Lock()
	g := t.group
	if g == nil {
		t.mu.Unlock()
		return nil
	}
	if _, ok := g.linked[id]; !ok {
		t.mu.Unlock()
		return nil
	}
	delete(g.linked, id)
	ownerLeft := !g.isOwner && g.ownerID == id
	if ownerLeft {
		t.group = nil
	}
	t.mu.Unlock()

	if ownerLeft {
		_ = t.messenger.SetGroupOwner("")
		logrus.WithFields(logrus.Fields{
			"function": "Transport.handleBye",
			"owner_id": id,
		}).Warn("Group owner left, group dissolved")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transport.handleBye",
		"peer_id":  id,
		"from":     addr.String(),
	}).Info("Peer left group")
	return nil
}
