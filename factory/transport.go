package factory

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/lan"
	"github.com/opd-ai/wifip2p/testing"
	"github.com/opd-ai/wifip2p/wpas"
)

// SimulatedLocalAddress is the local device address on the simulated network.
const SimulatedLocalAddress = "02:00:00:00:00:01"

// EchoPeerAddress returns the address of the i-th simulated echo peer.
func EchoPeerAddress(i int) string {
	return fmt.Sprintf("02:00:00:00:01:%02x", i)
}

// TransportFactory creates the configured peer transport. It is safe for
// concurrent use.
type TransportFactory struct {
	config Config

	mu      sync.Mutex
	network *testing.SimulatedNetwork
}

// NewTransportFactory creates a factory for config.
func NewTransportFactory(config Config) *TransportFactory {
	return &TransportFactory{config: config}
}

// Config returns the factory configuration.
func (f *TransportFactory) Config() Config {
	return f.config
}

// Network returns the simulated network behind the last simulation
// transport, or nil.
func (f *TransportFactory) Network() *testing.SimulatedNetwork {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network
}

// Create builds the transport named by Config.Transport.
func (f *TransportFactory) Create() (interfaces.PeerTransport, error) {
	if err := f.config.Validate(); err != nil {
		return nil, err
	}

	name := f.config.DeviceName
	if name == "" {
		name, _ = os.Hostname()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "TransportFactory.Create",
		"transport":   f.config.Transport,
		"device_name": name,
	}).Info("Creating peer transport")

	switch f.config.Transport {
	case TransportSimulation:
		return f.createSimulation(name), nil

	case TransportLAN:
		t, err := lan.New(lan.Config{
			DeviceName:     name,
			ListenPort:     f.config.ListenPort,
			Intent:         f.config.GroupOwnerIntent,
			ServiceType:    f.config.ServiceType,
			ConnectTimeout: f.config.ConnectTimeout,
			InboxSize:      f.config.InboxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("create lan transport: %w", err)
		}
		return t, nil

	case TransportWPAS:
		t, err := wpas.New(wpas.Config{
			Interface:      f.config.Interface,
			DeviceName:     f.config.DeviceName,
			ListenPort:     f.config.ListenPort,
			Intent:         f.config.GroupOwnerIntent,
			GroupOwnerIP:   f.config.GroupOwnerIP,
			ConnectTimeout: f.config.ConnectTimeout,
			FindTimeout:    f.config.FindTimeout,
			InboxSize:      f.config.InboxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("create wpas transport: %w", err)
		}
		return t, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, f.config.Transport)
}

// createSimulation joins the local device to a fresh network of echo peers.
// Echo peers declare the highest intent so the local device joins their
// groups as a client.
func (f *TransportFactory) createSimulation(name string) interfaces.PeerTransport {
	network := testing.NewSimulatedNetwork()
	network.SetInboxSize(f.config.InboxSize)
	for i := 1; i <= f.config.SimulatedPeers; i++ {
		network.AddEchoPeer(EchoPeerAddress(i), fmt.Sprintf("Echo-%d", i), interfaces.MaxGroupOwnerIntent)
	}
	local := network.Join(SimulatedLocalAddress, name, f.config.GroupOwnerIntent)

	f.mu.Lock()
	f.network = network
	f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "TransportFactory.createSimulation",
		"echo_peers": f.config.SimulatedPeers,
	}).Info("Simulated network ready")
	return local
}
