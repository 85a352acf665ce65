package testing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
)

var (
	// ErrPeerNotFound indicates the target device is not on the network.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrNotInGroup indicates the operation needs a formed group.
	ErrNotInGroup = errors.New("not in a group")

	// ErrPeerBusy indicates the target is a client of another group.
	ErrPeerBusy = errors.New("peer is a client of another group")

	// ErrInboxFull indicates the recipient's inbox cannot take more messages.
	ErrInboxFull = errors.New("recipient inbox full")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("simulated transport closed")
)

// DefaultInboxSize is the per-device inbox capacity.
const DefaultInboxSize = 64

// SimulatedNetwork is an in-memory radio neighbourhood.
//
// Lock order: network.mu, then SimulatedTransport.mu, then subscription.mu.
type SimulatedNetwork struct {
	mu        sync.Mutex
	peers     map[string]*SimulatedTransport
	groups    map[string]*group // owner address -> group
	inboxSize int
}

type group struct {
	owner   string
	clients map[string]struct{}
}

func (g *group) contains(address string) bool {
	if address == g.owner {
		return true
	}
	_, ok := g.clients[address]
	return ok
}

// NewSimulatedNetwork creates an empty network.
func NewSimulatedNetwork() *SimulatedNetwork {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	return &SimulatedNetwork{
		peers:     make(map[string]*SimulatedTransport),
		groups:    make(map[string]*group),
		inboxSize: DefaultInboxSize,
	}
}

// SetInboxSize changes the inbox capacity of devices joining afterwards.
func (n *SimulatedNetwork) SetInboxSize(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size > 0 {
		n.inboxSize = size
	}
}

// Join adds a device to the network and returns its transport. The
// intent is clamped to interfaces.MaxGroupOwnerIntent. Joining with an
// address already present replaces nothing and returns the existing
// transport.
func (n *SimulatedNetwork) Join(address, name string, intent uint8) *SimulatedTransport {
	if intent > interfaces.MaxGroupOwnerIntent {
		intent = interfaces.MaxGroupOwnerIntent
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.peers[address]; ok {
		return existing
	}

	t := &SimulatedTransport{
		network:  n,
		device:   interfaces.Device{Address: address, Name: name},
		intent:   intent,
		subs:     make(map[*subscription]struct{}),
		inbox:    make(chan interfaces.InboundMessage, n.inboxSize),
		failures: make(map[string][]error),
		done:     make(chan struct{}),
	}
	n.peers[address] = t

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedNetwork.Join",
		"address":  address,
		"name":     name,
		"intent":   intent,
	}).Info("Device joined simulated network")

	n.broadcastLocked()
	return t
}

// Leave removes a device, dissolving or leaving its group first.
func (n *SimulatedNetwork) Leave(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[address]; !ok {
		return
	}
	n.leaveGroupLocked(address)
	delete(n.peers, address)

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedNetwork.Leave",
		"address":  address,
	}).Info("Device left simulated network")

	n.broadcastLocked()
}

// Devices returns every joined device except exclude, sorted by address.
func (n *SimulatedNetwork) Devices(exclude string) []interfaces.Device {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.devicesLocked(exclude)
}

func (n *SimulatedNetwork) devicesLocked(exclude string) []interfaces.Device {
	devices := make([]interfaces.Device, 0, len(n.peers))
	for addr, p := range n.peers {
		if addr != exclude {
			devices = append(devices, p.device)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

// GroupOf returns the owner and sorted clients of the group address is in.
func (n *SimulatedNetwork) GroupOf(address string) (owner string, clients []string, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	g := n.groupOfLocked(address)
	if g == nil {
		return "", nil, false
	}
	for c := range g.clients {
		clients = append(clients, c)
	}
	sort.Strings(clients)
	return g.owner, clients, true
}

func (n *SimulatedNetwork) groupOfLocked(address string) *group {
	if g, ok := n.groups[address]; ok {
		return g
	}
	for _, g := range n.groups {
		if _, ok := g.clients[address]; ok {
			return g
		}
	}
	return nil
}

// broadcastLocked pushes the current device list to every subscription.
func (n *SimulatedNetwork) broadcastLocked() {
	for addr, p := range n.peers {
		p.publish(n.devicesLocked(addr))
	}
}

// formGroupLocked links from and to, negotiating ownership when neither is
// in a group yet.
func (n *SimulatedNetwork) formGroupLocked(from, to string) error {
	self := n.peers[from]
	target, ok := n.peers[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, to)
	}

	fromGroup := n.groupOfLocked(from)
	toGroup := n.groupOfLocked(to)

	switch {
	case fromGroup != nil && fromGroup == toGroup:
		// Already linked, e.g. the other side formed the group first.
		return nil
	case fromGroup != nil:
		return fmt.Errorf("%s is already in the group of %s", from, fromGroup.owner)
	case toGroup != nil && toGroup.owner == to:
		toGroup.clients[from] = struct{}{}
		return nil
	case toGroup != nil:
		return fmt.Errorf("%w: %s", ErrPeerBusy, to)
	}

	owner, client := to, from
	if interfaces.NegotiateOwner(from, self.intent, to, target.intent) {
		owner, client = from, to
	}
	n.groups[owner] = &group{
		owner:   owner,
		clients: map[string]struct{}{client: {}},
	}

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedNetwork.formGroup",
		"owner":    owner,
		"client":   client,
	}).Info("Simulated group formed")
	return nil
}

// leaveGroupLocked removes address from its group. An owner leaving
// dissolves the group.
func (n *SimulatedNetwork) leaveGroupLocked(address string) bool {
	g := n.groupOfLocked(address)
	if g == nil {
		return false
	}
	if g.owner == address {
		delete(n.groups, address)
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedNetwork.leaveGroup",
			"owner":    address,
			"clients":  len(g.clients),
		}).Info("Simulated group dissolved")
		return true
	}
	delete(g.clients, address)
	return true
}

// roleLocked reports the role of address in its group.
func (n *SimulatedNetwork) roleLocked(address string) (interfaces.RoleInfo, error) {
	g := n.groupOfLocked(address)
	if g == nil {
		return interfaces.RoleInfo{}, ErrNotInGroup
	}
	return interfaces.RoleInfo{
		IsGroupOwner: g.owner == address,
		OwnerAddress: g.owner,
	}, nil
}

// deliverLocked places a message in the inbox of to.
func (n *SimulatedNetwork) deliverLocked(from, to, content string) error {
	g := n.groupOfLocked(from)
	if g == nil {
		return ErrNotInGroup
	}
	if !g.contains(to) {
		return fmt.Errorf("%w: %s is not a member of the group of %s", ErrNotInGroup, to, g.owner)
	}
	target, ok := n.peers[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, to)
	}

	select {
	case target.inbox <- interfaces.InboundMessage{FromAddress: from, Content: content}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, to)
	}
}

// AddEchoPeer joins a device that answers every message it receives by
// sending "echo: <content>" back to the sender. It stops when its transport
// is closed.
func (n *SimulatedNetwork) AddEchoPeer(address, name string, intent uint8) *SimulatedTransport {
	t := n.Join(address, name, intent)
	t.setRecording(false)

	go func() {
		ctx := context.Background()
		for {
			msg, err := t.Receive(ctx)
			if err != nil {
				return
			}
			if err := t.SendTo(ctx, msg.FromAddress, "echo: "+msg.Content); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SimulatedNetwork.AddEchoPeer",
					"address":  address,
					"to":       msg.FromAddress,
					"error":    err.Error(),
				}).Warn("Echo peer failed to reply")
			}
		}
	}()

	return t
}
