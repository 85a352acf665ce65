package lan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/real"
	"github.com/opd-ai/wifip2p/transport"
)

const (
	// DefaultServiceType is the advertised mDNS service.
	DefaultServiceType = "_wifip2p-chat._udp"
	// DefaultDomain is the mDNS browse domain.
	DefaultDomain = "local."
	// DefaultConnectTimeout bounds the hello handshake.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultListenPort is the chat socket port.
	DefaultListenPort = 8988
)

var (
	// ErrUnknownPeer indicates Connect was given an id that was never discovered.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNotInGroup indicates the operation needs a formed group.
	ErrNotInGroup = errors.New("not in a group")

	// ErrAlreadyInGroup indicates Connect was called while linked to another peer.
	ErrAlreadyInGroup = errors.New("already in a group")

	// ErrConnectTimeout indicates the peer did not answer the hello.
	ErrConnectTimeout = errors.New("peer did not answer")
)

// Config configures a LAN transport.
type Config struct {
	DeviceName     string
	BindAddress    string // empty listens on all interfaces
	ListenPort     int
	Intent         uint8
	ServiceType    string
	Domain         string
	ConnectTimeout time.Duration
	InboxSize      int
	Interfaces     []net.Interface // nil advertises on all interfaces
}

func (c *Config) applyDefaults() {
	if c.DeviceName == "" {
		c.DeviceName, _ = os.Hostname()
	}
	if c.ServiceType == "" {
		c.ServiceType = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Intent > interfaces.MaxGroupOwnerIntent {
		c.Intent = interfaces.MaxGroupOwnerIntent
	}
}

// DeviceID derives the stable device identifier advertised in TXT id=.
func DeviceID(hostname, deviceName string) string {
	sum := blake2b.Sum256([]byte(hostname + "/" + deviceName))
	return hex.EncodeToString(sum[:8])
}

// registerFunc and browseFunc are the mDNS operations, replaceable in tests.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (shutdowner, error)

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

type shutdowner interface {
	Shutdown()
}

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (shutdowner, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, err
	}
	return server, nil
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// groupState is the local view of the formed group.
type groupState struct {
	isOwner   bool
	ownerID   string
	ownerAddr string
	linked    map[string]net.Addr // device id -> link address
}

// Transport implements interfaces.PeerTransport over mDNS and UDP.
type Transport struct {
	config    Config
	id        string
	link      *transport.UDPTransport
	messenger *real.LinkMessenger
	server    shutdowner
	browse    browseFunc

	mu      sync.Mutex
	peers   map[string]peer
	scans   map[*scan]struct{}
	group   *groupState
	pending map[string]chan *transport.Hello // device id -> ack
	closed  bool
}

// New opens the chat socket, starts advertising and returns the transport.
func New(config Config) (*Transport, error) {
	return newTransport(config, zeroconfRegister, zeroconfBrowse)
}

func newTransport(config Config, register registerFunc, browse browseFunc) (*Transport, error) {
	config.applyDefaults()
	hostname, _ := os.Hostname()

	link, err := transport.NewUDPTransport(net.JoinHostPort(config.BindAddress, strconv.Itoa(config.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("open chat socket: %w", err)
	}
	port := link.LocalAddr().(*net.UDPAddr).Port

	t := &Transport{
		config:  config,
		id:      DeviceID(hostname, config.DeviceName),
		link:    link,
		browse:  browse,
		peers:   make(map[string]peer),
		scans:   make(map[*scan]struct{}),
		pending: make(map[string]chan *transport.Hello),
	}
	t.messenger = real.NewLinkMessenger(link, real.LinkConfig{InboxSize: config.InboxSize, DefaultPort: port})
	link.RegisterHandler(transport.PacketHello, t.handleHello)
	link.RegisterHandler(transport.PacketHelloAck, t.handleHelloAck)
	link.RegisterHandler(transport.PacketBye, t.handleBye)

	text := []string{
		"id=" + t.id,
		"name=" + config.DeviceName,
		"intent=" + strconv.Itoa(int(config.Intent)),
	}
	instance := fmt.Sprintf("%s-%s", config.DeviceName, t.id)
	t.server, err = register(instance, config.ServiceType, config.Domain, port, text, config.Interfaces)
	if err != nil {
		_ = t.messenger.Close()
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "lan.New",
		"device_id":    t.id,
		"device_name":  config.DeviceName,
		"port":         port,
		"intent":       config.Intent,
		"service_type": config.ServiceType,
	}).Info("LAN transport advertising")

	return t, nil
}

// ID returns the local device id.
func (t *Transport) ID() string {
	return t.id
}

// LocalAddr returns the chat socket address.
func (t *Transport) LocalAddr() net.Addr {
	return t.link.LocalAddr()
}

// Connect implements interfaces.Connector. address is a discovered device id.
func (t *Transport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return net.ErrClosed
	}
	p, ok := t.peers[address]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPeer, address)
	}
	if t.group != nil {
		_, linked := t.group.linked[address]
		t.mu.Unlock()
		if linked {
			return nil
		}
		return ErrAlreadyInGroup
	}
	ack := make(chan *transport.Hello, 1)
	t.pending[address] = ack
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, address)
		t.mu.Unlock()
	}()

	if err := t.sendHello(transport.PacketHello, p.addr, false); err != nil {
		return fmt.Errorf("send hello to %s: %w", p.addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transport.Connect",
		"peer_id":  address,
		"addr":     p.addr.String(),
	}).Info("Hello sent, awaiting answer")

	timer := time.NewTimer(t.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case reply := <-ack:
		return t.completeHandshake(p, reply)
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, address, t.config.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completeHandshake records the group on the initiating side. The responder
// decided the roles and reported its own in the ack.
func (t *Transport) completeHandshake(p peer, reply *transport.Hello) error {
	g := &groupState{linked: map[string]net.Addr{p.device.Address: p.addr}}
	if reply.Owner {
		g.ownerID = p.device.Address
		g.ownerAddr = p.addr.String()
	} else {
		g.isOwner = true
		g.ownerID = t.id
		g.ownerAddr = t.link.LocalAddr().String()
	}

	t.mu.Lock()
	t.group = g
	t.mu.Unlock()

	if !g.isOwner {
		if err := t.messenger.SetGroupOwner(g.ownerAddr); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Transport.Connect",
		"peer_id":     p.device.Address,
		"group_owner": g.isOwner,
		"owner_addr":  g.ownerAddr,
	}).Info("Group formed")
	return nil
}

// QueryRole implements interfaces.Connector.
func (t *Transport) QueryRole(ctx context.Context) (interfaces.RoleInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.group == nil {
		return interfaces.RoleInfo{}, ErrNotInGroup
	}
	return interfaces.RoleInfo{IsGroupOwner: t.group.isOwner, OwnerAddress: t.group.ownerAddr}, nil
}

// Disconnect implements interfaces.Connector. Linked peers are told with a
// bye packet. Cancelling without a group is a no-op.
func (t *Transport) Disconnect(ctx context.Context, mode interfaces.TeardownMode) error {
	t.mu.Lock()
	g := t.group
	t.group = nil
	t.mu.Unlock()

	if g == nil {
		if mode == interfaces.TeardownRemoveGroup {
			return ErrNotInGroup
		}
		return nil
	}

	var errs []error
	for id, addr := range g.linked {
		bye := &transport.Packet{PacketType: transport.PacketBye, Data: []byte(t.id)}
		if err := t.link.Send(bye, addr); err != nil {
			errs = append(errs, fmt.Errorf("bye to %s: %w", id, err))
		}
	}

	_ = t.messenger.SetGroupOwner("")
	dropped := t.messenger.Drain()

	logrus.WithFields(logrus.Fields{
		"function": "Transport.Disconnect",
		"mode":     mode.String(),
		"linked":   len(g.linked),
		"dropped":  dropped,
	}).Info("Left group")

	return errors.Join(errs...)
}

// SendTo implements interfaces.Messenger.
func (t *Transport) SendTo(ctx context.Context, address, content string) error {
	return t.messenger.SendTo(ctx, address, content)
}

// Send implements interfaces.Messenger.
func (t *Transport) Send(ctx context.Context, content string) error {
	return t.messenger.Send(ctx, content)
}

// Receive implements interfaces.Messenger.
func (t *Transport) Receive(ctx context.Context) (interfaces.InboundMessage, error) {
	return t.messenger.Receive(ctx)
}

// Close stops advertising, ends every scan and closes the chat socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	scans := t.scans
	t.scans = make(map[*scan]struct{})
	t.mu.Unlock()

	for s := range scans {
		s.stop(nil)
	}
	_ = t.Disconnect(context.Background(), interfaces.TeardownCancelConnect)
	t.server.Shutdown()

	logrus.WithFields(logrus.Fields{
		"function":  "Transport.Close",
		"device_id": t.id,
	}).Info("LAN transport closed")

	return t.messenger.Close()
}

var _ interfaces.PeerTransport = (*Transport)(nil)
