// Package session holds the shared state of a wifip2p session.
//
// State is the single owner of the device list, the selection, the
// discovery and connection status, the group member set, the last received
// message and the outbound draft. The discovery controller, the connection
// manager and the message router read and mutate it while performing an
// operation but never keep copies of their own.
//
// Every mutation happens inside one critical section, so no reader can see
// a half-applied transition such as a cleared selection next to a still
// connected link. After each mutation the registered listeners receive an
// Event carrying a full Snapshot. Listeners run outside the lock on the
// mutating goroutine; Snapshot.Version orders events that race each other.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/wifip2p/interfaces"
)

// DiscoveryState is the peer scan status.
type DiscoveryState uint8

const (
	// DiscoveryIdle means no scan is running.
	DiscoveryIdle DiscoveryState = iota
	// DiscoveryScanning means a scan is running and updates are applied.
	DiscoveryScanning
)

func (d DiscoveryState) String() string {
	if d == DiscoveryScanning {
		return "scanning"
	}
	return "idle"
}

// ScanHandle identifies one discovery subscription. Updates tagged with a
// handle other than the active one are dropped.
type ScanHandle uint64

// LinkEpoch identifies one connection. It changes on every connect and
// every reset, so a receive that started under an older link cannot write
// into the current one.
type LinkEpoch uint64

// Message is a received chat message.
type Message struct {
	Content     string
	FromAddress string
	ReceivedAt  time.Time
}

// EventKind tells listeners which part of the state changed.
type EventKind uint8

const (
	EventDiscovery EventKind = iota
	EventDevices
	EventSelection
	EventConnection
	EventMembers
	EventMessage
	EventDraft
)

var eventKindNames = map[EventKind]string{
	EventDiscovery:  "discovery",
	EventDevices:    "devices",
	EventSelection:  "selection",
	EventConnection: "connection",
	EventMembers:    "members",
	EventMessage:    "message",
	EventDraft:      "draft",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is delivered to listeners after every mutation.
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Listener receives state change events. It must not block for long.
type Listener func(Event)

// Snapshot is a consistent copy of the whole state.
type Snapshot struct {
	Version      uint64
	Discovery    DiscoveryState
	Devices      []interfaces.Device
	Selection    string
	HasSelection bool
	Connection   ConnectionState
	Pending      bool
	Members      []string
	LastMessage  *Message
	Draft        string
}

// SelectedDevice returns the selected device if it is still in the list.
func (s Snapshot) SelectedDevice() (interfaces.Device, bool) {
	if !s.HasSelection {
		return interfaces.Device{}, false
	}
	for _, d := range s.Devices {
		if d.Address == s.Selection {
			return d, true
		}
	}
	return interfaces.Device{}, false
}

// CanConnect reports whether the connect action is currently enabled.
func (s Snapshot) CanConnect() bool {
	if s.Pending || s.Connection.IsConnected() {
		return false
	}
	_, ok := s.SelectedDevice()
	return ok
}

// State is the mutex guarded session state container.
type State struct {
	mu sync.RWMutex

	version    uint64
	discovery  DiscoveryState
	activeScan ScanHandle
	lastScan   ScanHandle

	devices      []interfaces.Device
	selection    string
	hasSelection bool

	connection ConnectionState
	pending    bool
	members    map[string]struct{}
	link       LinkEpoch
	closed     bool

	lastMessage *Message
	draft       string

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	now func() time.Time
}

// New creates an idle, disconnected session.
func New() *State {
	return &State{
		connection: Disconnected{},
		members:    make(map[string]struct{}),
		listeners:  make(map[int]Listener),
		now:        time.Now,
	}
}

// SetTimeSource replaces the clock used to stamp received messages.
func (s *State) SetTimeSource(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Subscribe registers a listener and returns a function removing it.
func (s *State) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// commit bumps the version and captures the event. Caller holds s.mu.
func (s *State) commit(kind EventKind) Event {
	s.version++
	return Event{Kind: kind, Snapshot: s.snapshotLocked()}
}

func (s *State) publish(events ...Event) {
	s.listenersMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:      s.version,
		Discovery:    s.discovery,
		Devices:      append([]interfaces.Device(nil), s.devices...),
		Selection:    s.selection,
		HasSelection: s.hasSelection,
		Connection:   s.connection,
		Pending:      s.pending,
		Members:      s.membersLocked(),
		Draft:        s.draft,
	}
	if s.lastMessage != nil {
		msg := *s.lastMessage
		snap.LastMessage = &msg
	}
	return snap
}

func (s *State) membersLocked() []string {
	members := make([]string, 0, len(s.members))
	for addr := range s.members {
		members = append(members, addr)
	}
	sort.Strings(members)
	return members
}

// Snapshot returns a consistent copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Discovery returns the scan status.
func (s *State) Discovery() DiscoveryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discovery
}

// Devices returns a copy of the live device list.
func (s *State) Devices() []interfaces.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.Device(nil), s.devices...)
}

// Selection returns the selected address.
func (s *State) Selection() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection, s.hasSelection
}

// Connection returns the connection status.
func (s *State) Connection() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// Members returns the member set in sorted order.
func (s *State) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked()
}

// LastMessage returns the most recently received message.
func (s *State) LastMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastMessage == nil {
		return Message{}, false
	}
	return *s.lastMessage, true
}

// Draft returns the pending outbound message.
func (s *State) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

// ActivateScan marks discovery as scanning and returns the handle that
// updates for the new subscription must carry. Any previous handle is
// invalidated.
func (s *State) ActivateScan() ScanHandle {
	s.mu.Lock()
	s.lastScan++
	s.activeScan = s.lastScan
	s.discovery = DiscoveryScanning
	h := s.activeScan
	ev := s.commit(EventDiscovery)
	s.mu.Unlock()

	s.publish(ev)
	return h
}

// DeactivateScan invalidates h and returns discovery to idle. It reports
// false when h is not the active handle, in which case nothing changes.
func (s *State) DeactivateScan(h ScanHandle) bool {
	s.mu.Lock()
	if h == 0 || h != s.activeScan {
		s.mu.Unlock()
		return false
	}
	s.activeScan = 0
	s.discovery = DiscoveryIdle
	ev := s.commit(EventDiscovery)
	s.mu.Unlock()

	s.publish(ev)
	return true
}

// ApplyDevices replaces the device list with devices if h is still the
// active scan handle. Updates from stale handles are dropped and false is
// returned.
func (s *State) ApplyDevices(h ScanHandle, devices []interfaces.Device) bool {
	s.mu.Lock()
	if h == 0 || h != s.activeScan {
		s.mu.Unlock()
		return false
	}
	s.devices = append([]interfaces.Device(nil), devices...)
	ev := s.commit(EventDevices)
	s.mu.Unlock()

	s.publish(ev)
	return true
}

// Select records address as the chosen peer.
func (s *State) Select(address string) error {
	if address == "" {
		return interfaces.Precondition("select", "", "empty device address")
	}

	s.mu.Lock()
	s.selection = address
	s.hasSelection = true
	ev := s.commit(EventSelection)
	s.mu.Unlock()

	s.publish(ev)
	return nil
}

// ClearSelection drops the current selection.
func (s *State) ClearSelection() {
	s.mu.Lock()
	if !s.hasSelection {
		s.mu.Unlock()
		return
	}
	s.selection = ""
	s.hasSelection = false
	ev := s.commit(EventSelection)
	s.mu.Unlock()

	s.publish(ev)
}

// BeginConnect reserves the connection slot for a connect attempt to
// address. It fails with a PreconditionViolation unless the session is
// disconnected, no attempt is pending, address is the selection and the
// selected device is still listed.
func (s *State) BeginConnect(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return interfaces.Precondition("connect", address, "session closed")
	case s.pending:
		return interfaces.Precondition("connect", address, "connection attempt already in progress")
	case s.connection.IsConnected():
		return interfaces.Precondition("connect", address, "already connected")
	case !s.hasSelection:
		return interfaces.Precondition("connect", address, "no device selected")
	case s.selection != address:
		return interfaces.Precondition("connect", address, "address is not the selected device")
	}

	listed := false
	for _, d := range s.devices {
		if d.Address == address {
			listed = true
			break
		}
	}
	if !listed {
		return interfaces.Precondition("connect", address, "selected device is no longer discovered")
	}

	s.pending = true
	return nil
}

// CompleteConnect finishes a connect attempt started with BeginConnect.
// The member set starts empty. It fails once the session has been closed
// while the attempt was in flight, leaving the session disconnected.
func (s *State) CompleteConnect(address string, role interfaces.RoleInfo) (ConnectionState, error) {
	s.mu.Lock()
	s.pending = false
	if s.closed {
		s.mu.Unlock()
		return Disconnected{}, interfaces.Precondition("connect", address, "session closed")
	}
	s.connection = NewConnected(address, role.IsGroupOwner, role.OwnerAddress)
	s.members = make(map[string]struct{})
	s.link++
	conn := s.connection
	ev := s.commit(EventConnection)
	s.mu.Unlock()

	s.publish(ev)
	return conn, nil
}

// AbortConnect releases the slot reserved by BeginConnect without
// changing the connection.
func (s *State) AbortConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
}

// BeginDisconnect reserves the connection slot for a teardown and returns
// the connection being torn down.
func (s *State) BeginDisconnect() (ConnectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return nil, interfaces.Precondition("disconnect", "", "connection attempt already in progress")
	}
	if !s.connection.IsConnected() {
		return nil, interfaces.Precondition("disconnect", "", "not connected")
	}
	s.pending = true
	return s.connection, nil
}

// ResetConnection returns to Disconnected and clears the member set and the
// selection in one step. It also releases any reserved connection slot.
func (s *State) ResetConnection() {
	s.mu.Lock()
	ev := s.resetConnectionLocked()
	s.mu.Unlock()

	s.publish(ev)
}

func (s *State) resetConnectionLocked() Event {
	s.pending = false
	s.connection = Disconnected{}
	s.members = make(map[string]struct{})
	s.selection = ""
	s.hasSelection = false
	s.link++
	return s.commit(EventConnection)
}

// Close resets the connection and refuses every later connect, including
// one already in flight. Closing twice is a no-op.
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ev := s.resetConnectionLocked()
	s.mu.Unlock()

	s.publish(ev)
}

// CurrentLink returns the epoch of the current connection and whether the
// session is connected.
func (s *State) CurrentLink() (LinkEpoch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.link, s.connection.IsConnected()
}

// AddMember adds address to the member set. Writes are ignored unless the
// session is connected as group owner. It reports whether the set grew.
func (s *State) AddMember(address string) bool {
	s.mu.Lock()
	if !s.addMemberLocked(address) {
		s.mu.Unlock()
		return false
	}
	ev := s.commit(EventMembers)
	s.mu.Unlock()

	s.publish(ev)
	return true
}

func (s *State) addMemberLocked(address string) bool {
	if address == "" || !s.connection.IsGroupOwner() {
		return false
	}
	if _, ok := s.members[address]; ok {
		return false
	}
	s.members[address] = struct{}{}
	return true
}

// RecordReceived publishes msg as the last received message and, when the
// session owns the group, adds its sender to the member set. Both happen in
// one critical section. link is the epoch read before the receive started;
// when the connection changed since, nothing is recorded and a
// PreconditionViolation is returned. added reports whether the member set
// grew.
func (s *State) RecordReceived(link LinkEpoch, msg interfaces.InboundMessage) (received Message, added bool, err error) {
	s.mu.Lock()
	if link != s.link {
		s.mu.Unlock()
		return Message{}, false, interfaces.Precondition("receive", msg.FromAddress, "connection changed while receiving")
	}
	received = Message{
		Content:     msg.Content,
		FromAddress: msg.FromAddress,
		ReceivedAt:  s.now(),
	}
	s.lastMessage = &received
	events := []Event{s.commit(EventMessage)}
	added = s.addMemberLocked(msg.FromAddress)
	if added {
		events = append(events, s.commit(EventMembers))
	}
	s.mu.Unlock()

	s.publish(events...)
	return received, added, nil
}

// SetDraft replaces the outbound draft.
func (s *State) SetDraft(content string) {
	s.mu.Lock()
	s.draft = content
	ev := s.commit(EventDraft)
	s.mu.Unlock()

	s.publish(ev)
}

// ClearDraft empties the outbound draft.
func (s *State) ClearDraft() {
	s.mu.Lock()
	if s.draft == "" {
		s.mu.Unlock()
		return
	}
	s.draft = ""
	ev := s.commit(EventDraft)
	s.mu.Unlock()

	s.publish(ev)
}
