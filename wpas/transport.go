package wpas

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/real"
	"github.com/opd-ai/wifip2p/transport"
)

const (
	// DefaultInterface is the wireless interface handed to GetInterface.
	DefaultInterface = "wlan0"
	// DefaultGroupOwnerIP is the address wpa_supplicant gives the owner.
	DefaultGroupOwnerIP = "192.168.49.1"
	// DefaultConnectTimeout bounds group formation.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultFindTimeout is the Find duration requested from wpa_supplicant.
	DefaultFindTimeout = 120 * time.Second
)

var (
	// ErrNotInGroup indicates the operation needs a formed group.
	ErrNotInGroup = errors.New("not in a group")

	// ErrAlreadyInGroup indicates Connect was called while in another group.
	ErrAlreadyInGroup = errors.New("already in a group")

	// ErrConnectInProgress indicates another Connect is awaiting its group.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrConnectTimeout indicates no group was started in time.
	ErrConnectTimeout = errors.New("group formation timed out")

	// ErrGroupFormation indicates wpa_supplicant reported a failed negotiation.
	ErrGroupFormation = errors.New("group formation failed")

	// ErrFindStopped indicates wpa_supplicant ended the find on its own.
	ErrFindStopped = errors.New("p2p find stopped")
)

// Config configures a wpa_supplicant transport.
type Config struct {
	Interface      string
	DeviceName     string // empty keeps the wpa_supplicant setting
	BindAddress    string
	ListenPort     int
	Intent         uint8
	GroupOwnerIP   string
	ConnectTimeout time.Duration
	FindTimeout    time.Duration
	InboxSize      int
}

func (c *Config) applyDefaults() {
	if c.Interface == "" {
		c.Interface = DefaultInterface
	}
	if c.GroupOwnerIP == "" {
		c.GroupOwnerIP = DefaultGroupOwnerIP
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.FindTimeout <= 0 {
		c.FindTimeout = DefaultFindTimeout
	}
	if c.Intent > interfaces.MaxGroupOwnerIntent {
		c.Intent = interfaces.MaxGroupOwnerIntent
	}
}

// group is the formed P2P group.
type group struct {
	isOwner   bool
	ifacePath dbus.ObjectPath
	peer      string
}

// Transport implements interfaces.PeerTransport on top of wpa_supplicant.
type Transport struct {
	config    Config
	bus       busConn
	ifacePath dbus.ObjectPath
	ownerAddr string
	link      *transport.UDPTransport
	messenger *real.LinkMessenger
	signals   chan *dbus.Signal
	match     []dbus.MatchOption
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	peers   map[string]interfaces.Device
	scans   map[*scan]struct{}
	group   *group
	pending chan groupResult
	closed  bool
}

// New connects to the system bus and prepares the P2P device.
func New(config Config) (*Transport, error) {
	bus, err := newSystemBus()
	if err != nil {
		return nil, err
	}
	t, err := newTransport(config, bus)
	if err != nil {
		_ = bus.close()
		return nil, err
	}
	return t, nil
}

func newTransport(config Config, bus busConn) (*Transport, error) {
	config.applyDefaults()

	var ifacePath dbus.ObjectPath
	if err := bus.call(rootPath, getInterface, config.Interface).Store(&ifacePath); err != nil {
		return nil, fmt.Errorf("get interface %s: %w", config.Interface, err)
	}

	if config.DeviceName != "" {
		cfg := map[string]dbus.Variant{"DeviceName": dbus.MakeVariant(config.DeviceName)}
		if err := bus.setProperty(ifacePath, p2pIface+".P2PDeviceConfig", cfg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "wpas.New",
				"device_name": config.DeviceName,
				"error":       err.Error(),
			}).Warn("Failed to set P2P device name")
		}
	}

	link, err := transport.NewUDPTransport(net.JoinHostPort(config.BindAddress, strconv.Itoa(config.ListenPort)))
	if err != nil {
		return nil, fmt.Errorf("open chat socket: %w", err)
	}
	port := link.LocalAddr().(*net.UDPAddr).Port

	t := &Transport{
		config:    config,
		bus:       bus,
		ifacePath: ifacePath,
		ownerAddr: net.JoinHostPort(config.GroupOwnerIP, strconv.Itoa(port)),
		link:      link,
		signals:   make(chan *dbus.Signal, 32),
		match:     []dbus.MatchOption{dbus.WithMatchInterface(p2pIface)},
		done:      make(chan struct{}),
		peers:     make(map[string]interfaces.Device),
		scans:     make(map[*scan]struct{}),
	}
	t.messenger = real.NewLinkMessenger(link, real.LinkConfig{InboxSize: config.InboxSize, DefaultPort: port})

	if err := bus.subscribe(t.signals, t.match...); err != nil {
		_ = t.messenger.Close()
		return nil, fmt.Errorf("subscribe to %s signals: %w", p2pIface, err)
	}
	t.wg.Add(1)
	go t.dispatch(t.signals)

	logrus.WithFields(logrus.Fields{
		"function":   "wpas.New",
		"interface":  config.Interface,
		"iface_path": string(ifacePath),
		"port":       port,
		"intent":     config.Intent,
	}).Info("wpa_supplicant transport ready")

	return t, nil
}

// InterfacePath returns the wpa_supplicant object of the P2P device.
func (t *Transport) InterfacePath() dbus.ObjectPath {
	return t.ifacePath
}

// LocalAddr returns the chat socket address.
func (t *Transport) LocalAddr() net.Addr {
	return t.link.LocalAddr()
}

// peerFound reads the peer's name and republishes the device list.
func (t *Transport) peerFound(path dbus.ObjectPath) {
	addr := addrFromPeerPath(path)
	if addr == "" {
		return
	}

	name := addr
	v, err := t.bus.property(path, peerIface+".DeviceName")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.peerFound",
			"peer":     addr,
			"error":    err.Error(),
		}).Debug("Peer name unavailable")
	} else if s, ok := v.Value().(string); ok && s != "" {
		name = s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[addr] = interfaces.Device{Address: addr, Name: name}
	t.publishLocked()
}

func (t *Transport) peerLost(path dbus.ObjectPath) {
	addr := addrFromPeerPath(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[addr]; !ok {
		return
	}
	delete(t.peers, addr)
	t.publishLocked()
}

// findStopped ends every scan once wpa_supplicant stops the find.
func (t *Transport) findStopped() {
	t.mu.Lock()
	scans := t.scans
	t.scans = make(map[*scan]struct{})
	t.mu.Unlock()

	if len(scans) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.findStopped",
			"scans":    len(scans),
		}).Warn("P2P find stopped by wpa_supplicant")
	}
	for s := range scans {
		s.stop(ErrFindStopped)
	}
}

func (t *Transport) publishLocked() {
	devices := make([]interfaces.Device, 0, len(t.peers))
	for _, d := range t.peers {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Address < devices[j].Address
	})
	for s := range t.scans {
		s.offer(devices)
	}
}

// completePending hands res to a waiting Connect. It reports whether one
// was waiting.
func (t *Transport) completePending(res groupResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return false
	}
	select {
	case t.pending <- res:
	default:
	}
	return true
}

func (t *Transport) recordGroup(info groupInfo, peer string) *group {
	g := &group{isOwner: info.isOwner, ifacePath: info.ifacePath, peer: peer}

	t.mu.Lock()
	t.group = g
	t.mu.Unlock()

	if !g.isOwner {
		if err := t.messenger.SetGroupOwner(t.ownerAddr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Transport.recordGroup",
				"owner_addr": t.ownerAddr,
				"error":      err.Error(),
			}).Error("Failed to set group owner address")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Transport.recordGroup",
		"peer":        peer,
		"group_owner": g.isOwner,
		"group_iface": string(g.ifacePath),
	}).Info("Group started")
	return g
}

func (t *Transport) groupFinished() {
	t.mu.Lock()
	g := t.group
	t.group = nil
	t.mu.Unlock()

	if g == nil {
		return
	}
	_ = t.messenger.SetGroupOwner("")
	dropped := t.messenger.Drain()
	logrus.WithFields(logrus.Fields{
		"function": "Transport.groupFinished",
		"peer":     g.peer,
		"dropped":  dropped,
	}).Info("Group finished")
}

// ScanStart implements interfaces.Scanner.
func (t *Transport) ScanStart(ctx context.Context) (interfaces.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := map[string]dbus.Variant{
		"Timeout": dbus.MakeVariant(int32(t.config.FindTimeout / time.Second)),
	}
	if err := t.bus.call(t.ifacePath, methodFind, args).Err; err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.ScanStart",
			"error":    err.Error(),
		}).Error("P2P find failed")
		return nil, fmt.Errorf("p2p find: %w", err)
	}

	s := &scan{updates: make(chan []interfaces.Device, 1)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, net.ErrClosed
	}
	t.scans[s] = struct{}{}
	t.publishLocked()
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Transport.ScanStart",
		"timeout":  t.config.FindTimeout,
	}).Info("P2P find started")
	return s, nil
}

// ScanStop implements interfaces.Scanner. The find is stopped once no scan
// remains.
func (t *Transport) ScanStop(ctx context.Context, sub interfaces.Subscription) error {
	s, ok := sub.(*scan)
	if !ok {
		return errors.New("subscription was not started by this transport")
	}

	t.mu.Lock()
	delete(t.scans, s)
	remaining := len(t.scans)
	t.mu.Unlock()

	s.stop(nil)
	if remaining > 0 {
		return nil
	}
	if err := t.bus.call(t.ifacePath, methodStop).Err; err != nil {
		return fmt.Errorf("p2p stop find: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transport.ScanStop",
	}).Info("P2P find stopped")
	return nil
}

// Connect implements interfaces.Connector. address is the peer's P2P device
// address. It returns once GroupStarted arrives.
func (t *Transport) Connect(ctx context.Context, address string) error {
	peerPath, err := peerObjectPath(t.ifacePath, address)
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return net.ErrClosed
	case t.group != nil:
		same := t.group.peer == address
		t.mu.Unlock()
		if same {
			return nil
		}
		return ErrAlreadyInGroup
	case t.pending != nil:
		t.mu.Unlock()
		return ErrConnectInProgress
	}
	result := make(chan groupResult, 1)
	t.pending = result
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()
	}()

	args := map[string]dbus.Variant{
		"peer":       dbus.MakeVariant(peerPath),
		"wps_method": dbus.MakeVariant("pbc"),
		"go_intent":  dbus.MakeVariant(int32(t.config.Intent)),
	}
	if err := t.bus.call(t.ifacePath, methodConnect, args).Err; err != nil {
		return fmt.Errorf("p2p connect %s: %w", address, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transport.Connect",
		"peer":     address,
		"intent":   t.config.Intent,
	}).Info("Connect requested, awaiting group")

	timer := time.NewTimer(t.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			return res.err
		}
		t.recordGroup(res.info, address)
		return nil
	case <-timer.C:
		t.cancel()
		return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, address, t.config.ConnectTimeout)
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}

// cancel abandons an ongoing negotiation. Errors are logged only.
func (t *Transport) cancel() {
	if err := t.bus.call(t.ifacePath, methodCancel).Err; err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.cancel",
			"error":    err.Error(),
		}).Debug("P2P cancel failed")
	}
}

// QueryRole implements interfaces.Connector.
func (t *Transport) QueryRole(ctx context.Context) (interfaces.RoleInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.group == nil {
		return interfaces.RoleInfo{}, ErrNotInGroup
	}
	return interfaces.RoleInfo{IsGroupOwner: t.group.isOwner, OwnerAddress: t.ownerAddr}, nil
}

// Disconnect implements interfaces.Connector. RemoveGroup disconnects the
// group interface. CancelConnect cancels first and then leaves the group.
func (t *Transport) Disconnect(ctx context.Context, mode interfaces.TeardownMode) error {
	t.mu.Lock()
	g := t.group
	t.group = nil
	t.mu.Unlock()

	if g == nil {
		if mode == interfaces.TeardownRemoveGroup {
			return ErrNotInGroup
		}
		t.cancel()
		return nil
	}

	if mode == interfaces.TeardownCancelConnect {
		t.cancel()
	}
	err := t.bus.call(g.ifacePath, methodDisconn).Err

	_ = t.messenger.SetGroupOwner("")
	dropped := t.messenger.Drain()

	logrus.WithFields(logrus.Fields{
		"function":    "Transport.Disconnect",
		"mode":        mode.String(),
		"group_iface": string(g.ifacePath),
		"dropped":     dropped,
	}).Info("Left group")

	if err != nil {
		return fmt.Errorf("p2p disconnect: %w", err)
	}
	return nil
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

// Close ends every scan, leaves the group and releases the bus.
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
	if len(scans) > 0 {
		_ = t.bus.call(t.ifacePath, methodStop).Err
	}
	_ = t.Disconnect(context.Background(), interfaces.TeardownCancelConnect)

	close(t.done)
	t.wg.Wait()

	var errs []error
	if err := t.bus.unsubscribe(t.signals, t.match...); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, t.messenger.Close(), t.bus.close())

	logrus.WithFields(logrus.Fields{
		"function":  "Transport.Close",
		"interface": t.config.Interface,
	}).Info("wpa_supplicant transport closed")

	return errors.Join(errs...)
}

var _ interfaces.PeerTransport = (*Transport)(nil)
