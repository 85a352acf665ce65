package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func phone(addr string) interfaces.Device {
	return interfaces.Device{Address: addr, Name: "Phone-" + addr}
}

// connectedOwner returns a state connected to peer as group owner.
func connectedOwner(t *testing.T, peer string) *State {
	t.Helper()
	s := New()
	h := s.ActivateScan()
	require.True(t, s.ApplyDevices(h, []interfaces.Device{phone(peer)}))
	require.NoError(t, s.Select(peer))
	require.NoError(t, s.BeginConnect(peer))
	_, err := s.CompleteConnect(peer, interfaces.RoleInfo{IsGroupOwner: true, OwnerAddress: "self"})
	require.NoError(t, err)
	return s
}

// record stores a message received under the current link.
func record(t *testing.T, s *State, from, content string) (Message, bool) {
	t.Helper()
	link, _ := s.CurrentLink()
	msg, added, err := s.RecordReceived(link, interfaces.InboundMessage{FromAddress: from, Content: content})
	assert.NoError(t, err)
	return msg, added
}

func TestNewStateIsIdleAndDisconnected(t *testing.T) {
	s := New()
	snap := s.Snapshot()

	assert.Equal(t, DiscoveryIdle, snap.Discovery)
	assert.False(t, snap.Connection.IsConnected())
	assert.Empty(t, snap.Devices)
	assert.Empty(t, snap.Members)
	assert.False(t, snap.HasSelection)
	assert.Nil(t, snap.LastMessage)
	assert.False(t, snap.CanConnect())
}

func TestScanHandleInvalidation(t *testing.T) {
	s := New()
	h := s.ActivateScan()
	assert.Equal(t, DiscoveryScanning, s.Discovery())

	require.True(t, s.ApplyDevices(h, []interfaces.Device{phone("A")}))
	require.True(t, s.DeactivateScan(h))
	assert.Equal(t, DiscoveryIdle, s.Discovery())

	// A late update from the cancelled subscription must be dropped.
	assert.False(t, s.ApplyDevices(h, []interfaces.Device{phone("B"), phone("C")}))
	assert.Equal(t, []interfaces.Device{phone("A")}, s.Devices())

	// Deactivating twice is a no-op.
	assert.False(t, s.DeactivateScan(h))
}

func TestNewScanInvalidatesOldHandle(t *testing.T) {
	s := New()
	old := s.ActivateScan()
	current := s.ActivateScan()
	assert.NotEqual(t, old, current)

	assert.False(t, s.ApplyDevices(old, []interfaces.Device{phone("stale")}))
	assert.True(t, s.ApplyDevices(current, []interfaces.Device{phone("fresh")}))
	assert.Equal(t, []interfaces.Device{phone("fresh")}, s.Devices())
}

func TestApplyDevicesReplacesList(t *testing.T) {
	s := New()
	h := s.ActivateScan()

	s.ApplyDevices(h, []interfaces.Device{phone("A"), phone("B")})
	s.ApplyDevices(h, []interfaces.Device{phone("C")})

	assert.Equal(t, []interfaces.Device{phone("C")}, s.Devices())
}

func TestBeginConnectPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(s *State, h ScanHandle)
		address string
	}{
		{
			name:    "no selection",
			setup:   func(s *State, h ScanHandle) {},
			address: "A",
		},
		{
			name: "selection differs",
			setup: func(s *State, h ScanHandle) {
				_ = s.Select("B")
			},
			address: "A",
		},
		{
			name: "selected device disappeared",
			setup: func(s *State, h ScanHandle) {
				_ = s.Select("A")
				s.ApplyDevices(h, []interfaces.Device{phone("B")})
			},
			address: "A",
		},
		{
			name: "attempt already pending",
			setup: func(s *State, h ScanHandle) {
				_ = s.Select("A")
				_ = s.BeginConnect("A")
			},
			address: "A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			h := s.ActivateScan()
			s.ApplyDevices(h, []interfaces.Device{phone("A"), phone("B")})
			tt.setup(s, h)

			err := s.BeginConnect(tt.address)
			assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation)
			assert.False(t, s.Connection().IsConnected())
		})
	}
}

func TestBeginConnectRejectsWhenConnected(t *testing.T) {
	s := connectedOwner(t, "A")
	require.NoError(t, s.Select("A"))

	err := s.BeginConnect("A")
	assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation)
}

func TestCompleteConnectUsesReportedRole(t *testing.T) {
	s := New()
	h := s.ActivateScan()
	s.ApplyDevices(h, []interfaces.Device{phone("A")})
	require.NoError(t, s.Select("A"))
	require.NoError(t, s.BeginConnect("A"))

	conn, err := s.CompleteConnect("A", interfaces.RoleInfo{IsGroupOwner: false, OwnerAddress: "192.168.49.1:8988"})
	require.NoError(t, err)

	client, ok := conn.(ConnectedAsClient)
	require.True(t, ok)
	assert.Equal(t, "A", client.Peer)
	assert.Equal(t, "192.168.49.1:8988", client.OwnerAddress)
	assert.False(t, s.Snapshot().Pending)
}

func TestMemberWritesIgnoredUnlessOwner(t *testing.T) {
	s := New()
	assert.False(t, s.AddMember("X"))
	assert.Empty(t, s.Members())

	_, added := record(t, s, "X", "hi")
	assert.False(t, added)
	assert.Empty(t, s.Members())

	msg, ok := s.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Content)
}

func TestRecordReceivedAddsSenderOnce(t *testing.T) {
	s := connectedOwner(t, "A")

	_, added := record(t, s, "X", "one")
	assert.True(t, added)
	_, added = record(t, s, "X", "two")
	assert.False(t, added)
	_, added = record(t, s, "Y", "three")
	assert.True(t, added)

	assert.Equal(t, []string{"X", "Y"}, s.Members())
	msg, _ := s.LastMessage()
	assert.Equal(t, "three", msg.Content)
	assert.Equal(t, "Y", msg.FromAddress)
}

func TestResetConnectionClearsEverythingTogether(t *testing.T) {
	s := connectedOwner(t, "A")
	s.AddMember("X")

	var seen []Snapshot
	s.Subscribe(func(ev Event) {
		if ev.Kind == EventConnection {
			seen = append(seen, ev.Snapshot)
		}
	})

	s.ResetConnection()

	require.Len(t, seen, 1)
	snap := seen[0]
	assert.False(t, snap.Connection.IsConnected())
	assert.Empty(t, snap.Members)
	assert.False(t, snap.HasSelection)
	assert.False(t, snap.Pending)
}

func TestRecordReceivedDropsStaleLink(t *testing.T) {
	s := connectedOwner(t, "A")
	stale, connected := s.CurrentLink()
	require.True(t, connected)

	s.ResetConnection()
	require.NoError(t, s.Select("A"))
	require.NoError(t, s.BeginConnect("A"))
	_, err := s.CompleteConnect("A", interfaces.RoleInfo{IsGroupOwner: true})
	require.NoError(t, err)

	current, _ := s.CurrentLink()
	assert.NotEqual(t, stale, current)

	_, added, err := s.RecordReceived(stale, interfaces.InboundMessage{FromAddress: "OLD", Content: "late"})
	assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation)
	assert.False(t, added)
	assert.Empty(t, s.Members())
	_, ok := s.LastMessage()
	assert.False(t, ok)
}

func TestCloseRefusesConnect(t *testing.T) {
	s := New()
	h := s.ActivateScan()
	s.ApplyDevices(h, []interfaces.Device{phone("A"), phone("B")})
	require.NoError(t, s.Select("A"))
	require.NoError(t, s.BeginConnect("A"))

	// The attempt is in flight when the session closes.
	s.Close()
	conn, err := s.CompleteConnect("A", interfaces.RoleInfo{IsGroupOwner: true})

	assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation)
	assert.False(t, conn.IsConnected())
	snap := s.Snapshot()
	assert.False(t, snap.Connection.IsConnected())
	assert.False(t, snap.Pending)

	require.NoError(t, s.Select("B"))
	assert.ErrorIs(t, s.BeginConnect("B"), interfaces.ErrPreconditionViolation)
}

func TestCloseResetsConnection(t *testing.T) {
	s := connectedOwner(t, "A")
	s.AddMember("X")

	s.Close()
	s.Close()

	snap := s.Snapshot()
	assert.False(t, snap.Connection.IsConnected())
	assert.Empty(t, snap.Members)
}

func TestBeginDisconnectRequiresConnection(t *testing.T) {
	s := New()
	_, err := s.BeginDisconnect()
	assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation)

	s = connectedOwner(t, "A")
	conn, err := s.BeginDisconnect()
	require.NoError(t, err)
	assert.True(t, conn.IsGroupOwner())

	_, err = s.BeginDisconnect()
	assert.ErrorIs(t, err, interfaces.ErrPreconditionViolation, "second teardown must be rejected while pending")
}

func TestSelectRejectsEmptyAddress(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Select(""), interfaces.ErrPreconditionViolation)
}

func TestSnapshotSelectedDeviceMissing(t *testing.T) {
	s := New()
	h := s.ActivateScan()
	s.ApplyDevices(h, []interfaces.Device{phone("A")})
	require.NoError(t, s.Select("A"))
	assert.True(t, s.Snapshot().CanConnect())

	s.ApplyDevices(h, []interfaces.Device{phone("B")})
	snap := s.Snapshot()
	_, ok := snap.SelectedDevice()
	assert.False(t, ok)
	assert.False(t, snap.CanConnect())
	assert.Equal(t, "A", snap.Selection)
}

func TestDraft(t *testing.T) {
	s := New()
	s.SetDraft("hello")
	assert.Equal(t, "hello", s.Draft())
	s.ClearDraft()
	assert.Equal(t, "", s.Draft())
}

func TestListenersReceiveOrderedVersions(t *testing.T) {
	s := New()
	var versions []uint64
	var kinds []EventKind
	unsubscribe := s.Subscribe(func(ev Event) {
		versions = append(versions, ev.Snapshot.Version)
		kinds = append(kinds, ev.Kind)
	})

	h := s.ActivateScan()
	s.ApplyDevices(h, []interfaces.Device{phone("A")})
	_ = s.Select("A")
	unsubscribe()
	s.SetDraft("ignored")

	assert.Equal(t, []uint64{1, 2, 3}, versions)
	assert.Equal(t, []EventKind{EventDiscovery, EventDevices, EventSelection}, kinds)
}

func TestRecordReceivedStampsTime(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetTimeSource(func() time.Time { return fixed })

	msg, _ := record(t, s, "X", "hi")
	assert.Equal(t, fixed, msg.ReceivedAt)
}

func TestConcurrentMemberAddsAreNotLost(t *testing.T) {
	s := connectedOwner(t, "A")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		addr := fmt.Sprintf("peer-%02d", i)
		go func() {
			defer wg.Done()
			record(t, s, addr, "x")
		}()
		go func() {
			defer wg.Done()
			s.AddMember(addr)
		}()
	}
	wg.Wait()

	assert.Len(t, s.Members(), 50)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "members", EventMembers.String())
	assert.Equal(t, "unknown", EventKind(42).String())
	assert.Equal(t, "scanning", DiscoveryScanning.String())
}
