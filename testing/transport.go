package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
)

// Operation names used in the call log and by FailNext.
const (
	OpScanStart  = "scan_start"
	OpScanStop   = "scan_stop"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpQueryRole  = "query_role"
	OpSendTo     = "send_to"
	OpSend       = "send"
	OpReceive    = "receive"
)

var errOwnerSend = errors.New("group owner has no owner to send to")

// Call is one recorded transport call. Receive calls are not recorded.
type Call struct {
	Op      string
	Address string
	Content string
	Mode    interfaces.TeardownMode
	Err     error
}

// SimulatedTransport is one device on a SimulatedNetwork.
type SimulatedTransport struct {
	network *SimulatedNetwork
	device  interfaces.Device
	intent  uint8
	inbox   chan interfaces.InboundMessage
	done    chan struct{}

	mu        sync.Mutex
	subs      map[*subscription]struct{}
	calls     []Call
	noRecord  bool
	failures  map[string][]error
	closed    bool
	closeOnce sync.Once
}

// Device returns the identity this transport advertises.
func (t *SimulatedTransport) Device() interfaces.Device {
	return t.device
}

// Intent returns the group owner intent.
func (t *SimulatedTransport) Intent() uint8 {
	return t.intent
}

// FailNext makes the next call of op fail with err. Calls queue up.
func (t *SimulatedTransport) FailNext(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[op] = append(t.failures[op], err)
}

// Calls returns a copy of the call log.
func (t *SimulatedTransport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallsFor returns the logged calls of one operation.
func (t *SimulatedTransport) CallsFor(op string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Call
	for _, c := range t.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (t *SimulatedTransport) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

func (t *SimulatedTransport) setRecording(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noRecord = !on
}

// begin records a call and pops an injected failure for its operation. It
// returns the log index of the call, or -1 when the call was not logged.
func (t *SimulatedTransport) begin(ctx context.Context, call Call) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := ctx.Err()
	if t.closed {
		err = ErrClosed
	}
	if err == nil {
		if queue := t.failures[call.Op]; len(queue) > 0 {
			err = queue[0]
			t.failures[call.Op] = queue[1:]
		}
	}

	if call.Op == OpReceive || t.noRecord {
		return -1, err
	}
	call.Err = err
	t.calls = append(t.calls, call)
	return len(t.calls) - 1, err
}

// record sets the outcome of the logged call at idx.
func (t *SimulatedTransport) record(idx int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx >= 0 && idx < len(t.calls) {
		t.calls[idx].Err = err
	}
}

// ScanStart implements interfaces.Scanner. The subscription receives the
// current device list right away.
func (t *SimulatedTransport) ScanStart(ctx context.Context) (interfaces.Subscription, error) {
	if _, err := t.begin(ctx, Call{Op: OpScanStart}); err != nil {
		return nil, err
	}

	t.network.mu.Lock()
	defer t.network.mu.Unlock()

	sub := newSubscription()
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	sub.offer(t.network.devicesLocked(t.device.Address))

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedTransport.ScanStart",
		"address":  t.device.Address,
	}).Debug("Simulated scan started")
	return sub, nil
}

// ScanStop implements interfaces.Scanner.
func (t *SimulatedTransport) ScanStop(ctx context.Context, sub interfaces.Subscription) error {
	if _, err := t.begin(ctx, Call{Op: OpScanStop}); err != nil {
		return err
	}

	s, ok := sub.(*subscription)
	if !ok {
		return nil
	}
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
	s.close(nil)
	return nil
}

// PushDevices delivers a scripted device list to every open subscription,
// as if the radio had reported it.
func (t *SimulatedTransport) PushDevices(devices []interfaces.Device) {
	t.publish(devices)
}

// FailScan ends every open subscription with err, as a radio reset would.
func (t *SimulatedTransport) FailScan(err error) {
	t.mu.Lock()
	subs := t.subs
	t.subs = make(map[*subscription]struct{})
	t.mu.Unlock()

	for s := range subs {
		s.close(err)
	}
}

func (t *SimulatedTransport) publish(devices []interfaces.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		s.offer(devices)
	}
}

// Connect implements interfaces.Connector.
func (t *SimulatedTransport) Connect(ctx context.Context, address string) error {
	idx, err := t.begin(ctx, Call{Op: OpConnect, Address: address})
	if err != nil {
		return err
	}

	t.network.mu.Lock()
	err = t.network.formGroupLocked(t.device.Address, address)
	t.network.mu.Unlock()

	t.record(idx, err)
	return err
}

// Disconnect implements interfaces.Connector. Removing the group as its
// owner dissolves it; cancelling without a group is a no-op.
func (t *SimulatedTransport) Disconnect(ctx context.Context, mode interfaces.TeardownMode) error {
	idx, err := t.begin(ctx, Call{Op: OpDisconnect, Mode: mode})
	if err != nil {
		return err
	}

	t.network.mu.Lock()
	left := t.network.leaveGroupLocked(t.device.Address)
	t.network.mu.Unlock()

	if !left && mode == interfaces.TeardownRemoveGroup {
		err = ErrNotInGroup
	}
	t.record(idx, err)
	return err
}

// QueryRole implements interfaces.Connector.
func (t *SimulatedTransport) QueryRole(ctx context.Context) (interfaces.RoleInfo, error) {
	idx, err := t.begin(ctx, Call{Op: OpQueryRole})
	if err != nil {
		return interfaces.RoleInfo{}, err
	}

	t.network.mu.Lock()
	role, err := t.network.roleLocked(t.device.Address)
	t.network.mu.Unlock()

	t.record(idx, err)
	return role, err
}

// SendTo implements interfaces.Messenger.
func (t *SimulatedTransport) SendTo(ctx context.Context, address, content string) error {
	idx, err := t.begin(ctx, Call{Op: OpSendTo, Address: address, Content: content})
	if err != nil {
		return err
	}

	t.network.mu.Lock()
	err = t.network.deliverLocked(t.device.Address, address, content)
	t.network.mu.Unlock()

	t.record(idx, err)
	return err
}

// Send implements interfaces.Messenger by sending to the group owner.
func (t *SimulatedTransport) Send(ctx context.Context, content string) error {
	idx, err := t.begin(ctx, Call{Op: OpSend, Content: content})
	if err != nil {
		return err
	}

	t.network.mu.Lock()
	role, err := t.network.roleLocked(t.device.Address)
	if err == nil && role.IsGroupOwner {
		err = errOwnerSend
	}
	if err == nil {
		err = t.network.deliverLocked(t.device.Address, role.OwnerAddress, content)
	}
	t.network.mu.Unlock()

	t.record(idx, err)
	return err
}

// Receive implements interfaces.Messenger.
func (t *SimulatedTransport) Receive(ctx context.Context) (interfaces.InboundMessage, error) {
	if _, err := t.begin(ctx, Call{Op: OpReceive}); err != nil {
		return interfaces.InboundMessage{}, err
	}

	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.done:
		return interfaces.InboundMessage{}, ErrClosed
	case <-ctx.Done():
		return interfaces.InboundMessage{}, ctx.Err()
	}
}

// Close leaves the network and ends every subscription.
func (t *SimulatedTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)

		t.network.Leave(t.device.Address)
		t.FailScan(nil)
	})
	return nil
}

var _ interfaces.PeerTransport = (*SimulatedTransport)(nil)

// subscription is a simulated scan. Each update replaces the previous one
// if the consumer has not read it yet.
type subscription struct {
	mu      sync.Mutex
	updates chan []interfaces.Device
	err     error
	closed  bool
}

func newSubscription() *subscription {
	return &subscription{updates: make(chan []interfaces.Device, 1)}
}

func (s *subscription) Updates() <-chan []interfaces.Device {
	return s.updates
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) offer(devices []interfaces.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	list := append([]interfaces.Device(nil), devices...)
	select {
	case s.updates <- list:
	default:
		// Drop the unread list, the new one supersedes it.
		select {
		case <-s.updates:
		default:
		}
		s.updates <- list
	}
}

func (s *subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.updates)
}
