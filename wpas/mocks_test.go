package wpas

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

const testIfacePath = dbus.ObjectPath("/fi/w1/wpa_supplicant1/Interfaces/1")

// busCall is one recorded method call.
type busCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

// fakeBus stands in for the system bus. onCall runs after a call is
// recorded and may emit signals.
type fakeBus struct {
	mu       sync.Mutex
	calls    []busCall
	errs     map[string]error
	names    map[dbus.ObjectPath]string
	setProps map[string]interface{}
	signals  chan<- *dbus.Signal
	onCall   func(method string, args []interface{})
	unsubbed bool
	closed   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		errs:     make(map[string]error),
		names:    make(map[dbus.ObjectPath]string),
		setProps: make(map[string]interface{}),
	}
}

func (b *fakeBus) call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	b.mu.Lock()
	b.calls = append(b.calls, busCall{path: path, method: method, args: args})
	err := b.errs[method]
	hook := b.onCall
	b.mu.Unlock()

	if err != nil {
		return &dbus.Call{Err: err}
	}
	if hook != nil {
		hook(method, args)
	}
	if method == getInterface {
		return &dbus.Call{Body: []interface{}{testIfacePath}}
	}
	return &dbus.Call{}
}

func (b *fakeBus) property(path dbus.ObjectPath, name string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name != peerIface+".DeviceName" {
		return dbus.Variant{}, errors.New("unknown property")
	}
	n, ok := b.names[path]
	if !ok {
		return dbus.Variant{}, errors.New("no such object")
	}
	return dbus.MakeVariant(n), nil
}

func (b *fakeBus) setProperty(path dbus.ObjectPath, name string, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setProps[name] = value
	return nil
}

func (b *fakeBus) subscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = ch
	return nil
}

func (b *fakeBus) unsubscribe(ch chan<- *dbus.Signal, options ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubbed = true
	return nil
}

func (b *fakeBus) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// emit delivers a P2PDevice signal to the transport.
func (b *fakeBus) emit(member string, body ...interface{}) {
	b.mu.Lock()
	ch := b.signals
	b.mu.Unlock()
	ch <- &dbus.Signal{
		Sender: serviceName,
		Path:   testIfacePath,
		Name:   p2pIface + "." + member,
		Body:   body,
	}
}

func (b *fakeBus) addPeer(addr, name string) dbus.ObjectPath {
	path, err := peerObjectPath(testIfacePath, addr)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	b.names[path] = name
	b.mu.Unlock()
	return path
}

func (b *fakeBus) fail(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[method] = err
}

func (b *fakeBus) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.method)
	}
	return out
}

func (b *fakeBus) lastCall(method string) (busCall, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].method == method {
			return b.calls[i], true
		}
	}
	return busCall{}, false
}

func groupStartedProps(role string, iface dbus.ObjectPath) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"role":             dbus.MakeVariant(role),
		"interface_object": dbus.MakeVariant(iface),
		"group_object":     dbus.MakeVariant(dbus.ObjectPath(string(iface) + "/Groups/0")),
	}
}
