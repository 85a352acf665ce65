package real

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/limits"
	"github.com/opd-ai/wifip2p/transport"
)

// DefaultInboxSize is used when LinkConfig.InboxSize is not positive.
const DefaultInboxSize = 64

var (
	// ErrNoGroupOwner is returned by Send before SetGroupOwner.
	ErrNoGroupOwner = errors.New("group owner address not set")

	// ErrLinkClosed is returned after Close.
	ErrLinkClosed = errors.New("link closed")
)

// LinkConfig configures a LinkMessenger.
type LinkConfig struct {
	// InboxSize bounds queued inbound messages. Extra messages are dropped.
	InboxSize int
	// DefaultPort is applied to addresses given without a port.
	DefaultPort int
}

// LinkStats is a snapshot of link counters.
type LinkStats struct {
	Sent         uint64
	SendFailures uint64
	Received     uint64
	Dropped      uint64
	Queued       int
	HasOwner     bool
}

// LinkMessenger implements interfaces.Messenger over a datagram link.
type LinkMessenger struct {
	link        transport.Transport
	defaultPort int
	inbox       chan interfaces.InboundMessage
	done        chan struct{}
	closeOnce   sync.Once

	mu    sync.RWMutex
	owner net.Addr
	stats LinkStats
}

// NewLinkMessenger creates a messenger and registers its chat handler on link.
func NewLinkMessenger(link transport.Transport, config LinkConfig) *LinkMessenger {
	size := config.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}

	m := &LinkMessenger{
		link:        link,
		defaultPort: config.DefaultPort,
		inbox:       make(chan interfaces.InboundMessage, size),
		done:        make(chan struct{}),
	}
	link.RegisterHandler(transport.PacketChat, m.handleChat)

	logrus.WithFields(logrus.Fields{
		"function":     "NewLinkMessenger",
		"local_addr":   link.LocalAddr().String(),
		"inbox_size":   size,
		"default_port": config.DefaultPort,
	}).Info("Link messenger ready")

	return m
}

// ResolveAddress parses "host[:port]", applying defaultPort to a bare host.
func ResolveAddress(address string, defaultPort int) (*net.UDPAddr, error) {
	if address == "" {
		return nil, errors.New("empty address")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		if defaultPort <= 0 {
			return nil, fmt.Errorf("address %q has no port and no default is configured", address)
		}
		address = net.JoinHostPort(address, strconv.Itoa(defaultPort))
	}
	return net.ResolveUDPAddr("udp", address)
}

// SetGroupOwner records the address Send targets. An empty address clears it.
func (m *LinkMessenger) SetGroupOwner(address string) error {
	if address == "" {
		m.mu.Lock()
		m.owner = nil
		m.stats.HasOwner = false
		m.mu.Unlock()
		return nil
	}

	addr, err := ResolveAddress(address, m.defaultPort)
	if err != nil {
		return fmt.Errorf("resolve group owner: %w", err)
	}

	m.mu.Lock()
	m.owner = addr
	m.stats.HasOwner = true
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "LinkMessenger.SetGroupOwner",
		"owner":    addr.String(),
	}).Info("Group owner address set")
	return nil
}

// GroupOwner returns the configured owner address, or nil.
func (m *LinkMessenger) GroupOwner() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}

// SendTo implements interfaces.Messenger.
func (m *LinkMessenger) SendTo(ctx context.Context, address, content string) error {
	addr, err := ResolveAddress(address, m.defaultPort)
	if err != nil {
		return err
	}
	return m.sendChat(ctx, addr, content)
}

// Send implements interfaces.Messenger by sending to the group owner.
func (m *LinkMessenger) Send(ctx context.Context, content string) error {
	owner := m.GroupOwner()
	if owner == nil {
		return ErrNoGroupOwner
	}
	return m.sendChat(ctx, owner, content)
}

func (m *LinkMessenger) sendChat(ctx context.Context, addr net.Addr, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.done:
		return ErrLinkClosed
	default:
	}
	if err := limits.ValidateChatMessage(content); err != nil {
		return err
	}

	err := m.link.Send(&transport.Packet{PacketType: transport.PacketChat, Data: []byte(content)}, addr)

	m.mu.Lock()
	if err != nil {
		m.stats.SendFailures++
	} else {
		m.stats.Sent++
	}
	m.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LinkMessenger.SendTo",
			"address":  addr.String(),
			"error":    err.Error(),
		}).Warn("Chat packet send failed")
		return fmt.Errorf("send chat to %s: %w", addr, err)
	}
	return nil
}

// Receive implements interfaces.Messenger. A ctx deadline is reported as
// interfaces.ErrReceiveTimeout.
func (m *LinkMessenger) Receive(ctx context.Context) (interfaces.InboundMessage, error) {
	select {
	case msg := <-m.inbox:
		return msg, nil
	case <-m.done:
		return interfaces.InboundMessage{}, ErrLinkClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return interfaces.InboundMessage{}, fmt.Errorf("%w: %w", interfaces.ErrReceiveTimeout, ctx.Err())
		}
		return interfaces.InboundMessage{}, ctx.Err()
	}
}

// handleChat queues an inbound chat packet. It runs on the link read loop
// and never blocks.
func (m *LinkMessenger) handleChat(packet *transport.Packet, addr net.Addr) error {
	if err := limits.ValidateChatMessage(string(packet.Data)); err != nil {
		return err
	}
	if !utf8.Valid(packet.Data) {
		return errors.New("chat payload is not valid UTF-8")
	}

	msg := interfaces.InboundMessage{FromAddress: addr.String(), Content: string(packet.Data)}
	select {
	case m.inbox <- msg:
		m.mu.Lock()
		m.stats.Received++
		m.mu.Unlock()
		return nil
	default:
		m.mu.Lock()
		m.stats.Dropped++
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "LinkMessenger.handleChat",
			"from":     addr.String(),
		}).Warn("Inbox full, dropping chat message")
		return nil
	}
}

// Drain discards queued messages and returns how many were dropped. It is
// called when a group is torn down so the next group starts clean.
func (m *LinkMessenger) Drain() int {
	n := 0
	for {
		select {
		case <-m.inbox:
			n++
		default:
			return n
		}
	}
}

// GetTypedStats returns link counters.
func (m *LinkMessenger) GetTypedStats() LinkStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Queued = len(m.inbox)
	return stats
}

// LocalAddr returns the link address.
func (m *LinkMessenger) LocalAddr() net.Addr {
	return m.link.LocalAddr()
}

// Close unblocks pending Receive calls and closes the link.
func (m *LinkMessenger) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = m.link.Close()
		logrus.WithFields(logrus.Fields{
			"function": "LinkMessenger.Close",
		}).Info("Link messenger closed")
	})
	return err
}

var _ interfaces.Messenger = (*LinkMessenger)(nil)
