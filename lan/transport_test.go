package lan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/real"
	"github.com/opd-ai/wifip2p/transport"
)

func newTestTransport(t *testing.T, registry *fakeMDNS, name string, intent uint8) *Transport {
	t.Helper()
	tr, err := newTransport(Config{
		DeviceName:     name,
		BindAddress:    "127.0.0.1",
		Intent:         intent,
		ConnectTimeout: 2 * time.Second,
	}, registry.register, registry.browse)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func waitForDevice(t *testing.T, sub interfaces.Subscription, id string) []interfaces.Device {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case devices, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed")
			for _, d := range devices {
				if d.Address == id {
					return devices
				}
			}
		case <-deadline:
			t.Fatalf("device %s not discovered", id)
			return nil
		}
	}
}

func TestDeviceID(t *testing.T) {
	a := DeviceID("host", "kitchen")
	assert.Len(t, a, 16)
	assert.Equal(t, a, DeviceID("host", "kitchen"), "stable across calls")
	assert.NotEqual(t, a, DeviceID("host", "bedroom"))
	assert.NotEqual(t, a, DeviceID("other", "kitchen"))
}

func TestParseEntry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	base := func() *zeroconf.ServiceEntry {
		e := zeroconf.NewServiceEntry("kitchen-abc", DefaultServiceType, DefaultDomain)
		e.Port = 8988
		e.TTL = 120
		e.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
		e.Text = []string{"id=abc", "name=Kitchen", "intent=9"}
		return e
	}

	p, ok := parseEntry(base(), now)
	require.True(t, ok)
	assert.Equal(t, interfaces.Device{Address: "abc", Name: "Kitchen"}, p.device)
	assert.Equal(t, "192.168.1.20:8988", p.addr.String())
	assert.Equal(t, uint8(9), p.intent)
	assert.Equal(t, now.Add(120*time.Second), p.expiresAt)

	noName := base()
	noName.Text = []string{"id=abc", "intent=99"}
	p, ok = parseEntry(noName, now)
	require.True(t, ok)
	assert.Equal(t, "kitchen-abc", p.device.Name, "instance name is the fallback")
	assert.Equal(t, uint8(0), p.intent, "out of range intent is ignored")

	noID := base()
	noID.Text = []string{"name=Kitchen"}
	_, ok = parseEntry(noID, now)
	assert.False(t, ok)

	noAddr := base()
	noAddr.AddrIPv4 = nil
	_, ok = parseEntry(noAddr, now)
	assert.False(t, ok)
}

func TestRespondRole(t *testing.T) {
	owner := &groupState{isOwner: true}
	client := &groupState{linked: map[string]net.Addr{"known": nil}}

	tests := []struct {
		name        string
		group       *groupState
		remote      transport.Hello
		localIntent uint8
		wantOwner   bool
		wantAccept  bool
	}{
		{"existing owner keeps group", owner, transport.Hello{DeviceID: "z", Intent: 15}, 0, true, true},
		{"client of another group declines", client, transport.Hello{DeviceID: "stranger"}, 15, false, false},
		{"client re-greeted by its owner", client, transport.Hello{DeviceID: "known", Owner: true}, 15, false, true},
		{"remote owner keeps group", nil, transport.Hello{DeviceID: "a", Intent: 0, Owner: true}, 15, false, true},
		{"higher local intent owns", nil, transport.Hello{DeviceID: "z", Intent: 3}, 9, true, true},
		{"higher remote intent owns", nil, transport.Hello{DeviceID: "a", Intent: 12}, 9, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := tt.remote
			gotOwner, gotAccept := respondRole(tt.group, "m", tt.localIntent, &remote)
			assert.Equal(t, tt.wantOwner, gotOwner)
			assert.Equal(t, tt.wantAccept, gotAccept)
		})
	}
}

func TestDiscoverConnectAndChat(t *testing.T) {
	registry := newFakeMDNS()
	phone := newTestTransport(t, registry, "phone", 0)
	tablet := newTestTransport(t, registry, "tablet", 15)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := phone.ScanStart(ctx)
	require.NoError(t, err)
	devices := waitForDevice(t, sub, tablet.ID())
	assert.Contains(t, devices, interfaces.Device{Address: tablet.ID(), Name: "tablet"})
	for _, d := range devices {
		assert.NotEqual(t, phone.ID(), d.Address, "own advertisement is not listed")
	}
	require.NoError(t, phone.ScanStop(ctx, sub))

	require.NoError(t, phone.Connect(ctx, tablet.ID()))

	phoneRole, err := phone.QueryRole(ctx)
	require.NoError(t, err)
	assert.False(t, phoneRole.IsGroupOwner)
	assert.Equal(t, tablet.LocalAddr().String(), phoneRole.OwnerAddress)

	require.Eventually(t, func() bool {
		role, err := tablet.QueryRole(ctx)
		return err == nil && role.IsGroupOwner
	}, 2*time.Second, 10*time.Millisecond)

	// Connecting again to the linked peer is a no-op on either side.
	require.NoError(t, phone.Connect(ctx, tablet.ID()))

	require.NoError(t, phone.Send(ctx, "hello owner"))
	in, err := tablet.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello owner", in.Content)
	assert.Equal(t, phone.LocalAddr().String(), in.FromAddress)

	require.NoError(t, tablet.SendTo(ctx, in.FromAddress, "welcome"))
	reply, err := phone.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "welcome", reply.Content)
}

func TestOwnerRemovingGroupDissolvesClient(t *testing.T) {
	registry := newFakeMDNS()
	owner := newTestTransport(t, registry, "owner", 15)
	client := newTestTransport(t, registry, "client", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.ScanStart(ctx)
	require.NoError(t, err)
	waitForDevice(t, sub, owner.ID())
	require.NoError(t, client.Connect(ctx, owner.ID()))
	require.Eventually(t, func() bool {
		_, err := owner.QueryRole(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, owner.Disconnect(ctx, interfaces.TeardownRemoveGroup))

	require.Eventually(t, func() bool {
		_, err := client.QueryRole(ctx)
		return errors.Is(err, ErrNotInGroup)
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, client.Send(ctx, "anyone?"), real.ErrNoGroupOwner)
}

func TestDisconnectWithoutGroup(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)
	ctx := context.Background()

	assert.NoError(t, tr.Disconnect(ctx, interfaces.TeardownCancelConnect))
	assert.ErrorIs(t, tr.Disconnect(ctx, interfaces.TeardownRemoveGroup), ErrNotInGroup)
	_, err := tr.QueryRole(ctx)
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestConnectUnknownPeer(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)

	err := tr.Connect(context.Background(), "feedfacefeedface")

	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestConnectTimeout(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)
	tr.config.ConnectTimeout = 50 * time.Millisecond

	// A silent socket stands in for a peer that never answers.
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	entry := zeroconf.NewServiceEntry("ghost-1", DefaultServiceType, DefaultDomain)
	entry.Port = silent.LocalAddr().(*net.UDPAddr).Port
	entry.TTL = 120
	entry.AddrIPv4 = []net.IP{net.IPv4(127, 0, 0, 1)}
	entry.Text = []string{"id=ghost", "name=Ghost"}
	tr.observe(entry, time.Now())

	err = tr.Connect(context.Background(), "ghost")

	assert.ErrorIs(t, err, ErrConnectTimeout)
	_, err = tr.QueryRole(context.Background())
	assert.ErrorIs(t, err, ErrNotInGroup)
}

func TestTTLZeroAndExpiryRemoveDevice(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)
	now := time.Now()

	entry := zeroconf.NewServiceEntry("ghost-1", DefaultServiceType, DefaultDomain)
	entry.Port = 9000
	entry.TTL = 60
	entry.AddrIPv4 = []net.IP{net.IPv4(127, 0, 0, 1)}
	entry.Text = []string{"id=ghost", "name=Ghost"}

	tr.observe(entry, now)
	tr.mu.Lock()
	assert.Len(t, tr.deviceListLocked(now), 1)
	assert.Empty(t, tr.deviceListLocked(now.Add(61*time.Second)), "expired after TTL")
	tr.mu.Unlock()

	tr.observe(entry, now)
	goodbye := *entry
	goodbye.TTL = 0
	tr.observe(&goodbye, now)
	tr.mu.Lock()
	assert.Empty(t, tr.deviceListLocked(now))
	tr.mu.Unlock()
}

func TestBrowseFailureAndEnd(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)
	ctx := context.Background()

	registry.browseErr = errors.New("no multicast interface")
	_, err := tr.ScanStart(ctx)
	assert.Error(t, err)

	registry.mu.Lock()
	registry.browseErr = nil
	registry.endBrowses = true
	registry.mu.Unlock()

	sub, err := tr.ScanStart(ctx)
	require.NoError(t, err)
	for range sub.Updates() {
	}
	assert.ErrorIs(t, sub.Err(), ErrBrowseEnded)
}

func TestScanStopIsClean(t *testing.T) {
	registry := newFakeMDNS()
	tr := newTestTransport(t, registry, "solo", 7)
	ctx := context.Background()

	sub, err := tr.ScanStart(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.ScanStop(ctx, sub))

	for range sub.Updates() {
	}
	assert.NoError(t, sub.Err())
}

func TestCloseStopsAdvertising(t *testing.T) {
	registry := newFakeMDNS()
	tr, err := newTransport(Config{DeviceName: "solo", BindAddress: "127.0.0.1"}, registry.register, registry.browse)
	require.NoError(t, err)

	registry.mu.Lock()
	assert.Len(t, registry.services, 1)
	registry.mu.Unlock()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	registry.mu.Lock()
	assert.Empty(t, registry.services)
	registry.mu.Unlock()
}
