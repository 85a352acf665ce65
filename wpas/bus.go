package wpas

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	serviceName   = "fi.w1.wpa_supplicant1"
	rootPath      = dbus.ObjectPath("/fi/w1/wpa_supplicant1")
	p2pIface      = "fi.w1.wpa_supplicant1.Interface.P2PDevice"
	peerIface     = "fi.w1.wpa_supplicant1.Peer"
	propsIface    = "org.freedesktop.DBus.Properties"
	getInterface  = serviceName + ".GetInterface"
	methodFind    = p2pIface + ".Find"
	methodStop    = p2pIface + ".StopFind"
	methodConnect = p2pIface + ".Connect"
	methodCancel  = p2pIface + ".Cancel"
	methodDisconn = p2pIface + ".Disconnect"

	signalDeviceFound      = p2pIface + ".DeviceFound"
	signalDeviceLost       = p2pIface + ".DeviceLost"
	signalFindStopped      = p2pIface + ".FindStopped"
	signalGroupStarted     = p2pIface + ".GroupStarted"
	signalGroupFinished    = p2pIface + ".GroupFinished"
	signalGONegFailure     = p2pIface + ".GONegotiationFailure"
	signalFormationFailure = p2pIface + ".GroupFormationFailure"
)

// busConn is the subset of a D-Bus connection the transport needs.
type busConn interface {
	call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call
	property(path dbus.ObjectPath, name string) (dbus.Variant, error)
	setProperty(path dbus.ObjectPath, name string, value interface{}) error
	subscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error
	unsubscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error
	close() error
}

// systemBus wraps a system D-Bus connection for wpa_supplicant calls.
type systemBus struct {
	conn *dbus.Conn
}

func newSystemBus() (*systemBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	// Quick check that wpa_supplicant is on the bus.
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	for _, n := range names {
		if n == serviceName {
			return &systemBus{conn: conn}, nil
		}
	}
	conn.Close()
	return nil, fmt.Errorf("%s not found on system bus, is wpa_supplicant running with -u?", serviceName)
}

func (b *systemBus) call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return b.conn.Object(serviceName, path).Call(method, 0, args...)
}

func (b *systemBus) property(path dbus.ObjectPath, name string) (dbus.Variant, error) {
	return b.conn.Object(serviceName, path).GetProperty(name)
}

func (b *systemBus) setProperty(path dbus.ObjectPath, name string, value interface{}) error {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return fmt.Errorf("property name %q has no interface", name)
	}
	obj := b.conn.Object(serviceName, path)
	return obj.Call(propsIface+".Set", 0, name[:i], name[i+1:], dbus.MakeVariant(value)).Err
}

func (b *systemBus) subscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error {
	if err := b.conn.AddMatchSignal(options...); err != nil {
		return err
	}
	b.conn.Signal(ch)
	return nil
}

func (b *systemBus) unsubscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error {
	b.conn.RemoveSignal(ch)
	return b.conn.RemoveMatchSignal(options...)
}

func (b *systemBus) close() error {
	return b.conn.Close()
}

// peerObjectPath converts a device address like "aa:bb:cc:dd:ee:ff" to
// "<iface>/Peers/aabbccddeeff".
func peerObjectPath(ifacePath dbus.ObjectPath, addr string) (dbus.ObjectPath, error) {
	mac, err := net.ParseMAC(addr)
	if err != nil {
		return "", fmt.Errorf("invalid device address %q: %w", addr, err)
	}
	return dbus.ObjectPath(string(ifacePath) + "/Peers/" + hex.EncodeToString(mac)), nil
}

// addrFromPeerPath extracts the device address from a peer object path.
func addrFromPeerPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/Peers/")
	if i < 0 {
		return ""
	}
	raw, err := hex.DecodeString(s[i+len("/Peers/"):])
	if err != nil || len(raw) != 6 {
		return ""
	}
	return net.HardwareAddr(raw).String()
}
