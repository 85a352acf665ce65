package wifip2p

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/connection"
	"github.com/opd-ai/wifip2p/discovery"
	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/messaging"
	"github.com/opd-ai/wifip2p/metrics"
	"github.com/opd-ai/wifip2p/session"
)

// ErrClosed is returned by operations on a closed Coordinator.
var ErrClosed = errors.New("coordinator closed")

// Options configures a Coordinator.
type Options struct {
	// FanOutWorkers bounds concurrent sends when the local peer owns the group.
	FanOutWorkers int
	// AutoReceive runs a background loop that receives messages while connected.
	AutoReceive bool
	// ReceivePollInterval bounds one receive attempt of the background loop.
	ReceivePollInterval time.Duration
	// ReceiveRetryInterval is the pause after a failed background receive.
	ReceiveRetryInterval time.Duration
	// Metrics keeps the process wide Prometheus gauges in sync with this
	// session. Enable it on one Coordinator per process.
	Metrics bool
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		FanOutWorkers:        messaging.DefaultFanOutWorkers,
		AutoReceive:          true,
		ReceivePollInterval:  time.Second,
		ReceiveRetryInterval: 500 * time.Millisecond,
		Metrics:              true,
	}
}

// DevicesCallback is called with the full device list after every update.
type DevicesCallback func(devices []interfaces.Device)

// ConnectionCallback is called when the connection state changes.
type ConnectionCallback func(conn session.ConnectionState)

// MessageCallback is called for every received message.
type MessageCallback func(msg session.Message)

// DiscoveryCallback is called when scanning starts or stops.
type DiscoveryCallback func(state session.DiscoveryState)

// MembersCallback is called when the group owner learns a new member.
type MembersCallback func(members []string)

// Coordinator ties the session state, discovery, connection handling and
// message routing to one transport.
type Coordinator struct {
	transport  interfaces.PeerTransport
	options    Options
	state      *session.State
	discovery  *discovery.Controller
	connection *connection.Manager
	router     *messaging.Router

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe []func()
	connChanged chan struct{}
	closeOnce   sync.Once
	closeErr    error

	cbMu               sync.RWMutex
	devicesCallback    DevicesCallback
	connectionCallback ConnectionCallback
	messageCallback    MessageCallback
	discoveryCallback  DiscoveryCallback
	membersCallback    MembersCallback
}

// New creates a coordinator driving transport. A nil options uses
// NewOptions.
func New(transport interfaces.PeerTransport, options *Options) *Coordinator {
	if options == nil {
		options = NewOptions()
	}
	opts := *options
	if opts.ReceivePollInterval <= 0 {
		opts.ReceivePollInterval = time.Second
	}
	if opts.ReceiveRetryInterval <= 0 {
		opts.ReceiveRetryInterval = 500 * time.Millisecond
	}

	state := session.New()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		transport:   transport,
		options:     opts,
		state:       state,
		discovery:   discovery.NewController(transport, state),
		connection:  connection.NewManager(transport, state),
		router:      messaging.NewRouter(transport, state, opts.FanOutWorkers),
		ctx:         ctx,
		cancel:      cancel,
		connChanged: make(chan struct{}, 1),
	}

	c.unsubscribe = append(c.unsubscribe, state.Subscribe(c.dispatch))
	if opts.Metrics {
		c.unsubscribe = append(c.unsubscribe, state.Subscribe(metrics.SessionListener()))
	}

	if opts.AutoReceive {
		c.wg.Add(1)
		go c.receiveLoop()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "New",
		"fanout_workers": opts.FanOutWorkers,
		"auto_receive":   opts.AutoReceive,
	}).Info("Coordinator created")

	return c
}

// State returns the session state.
func (c *Coordinator) State() *session.State {
	return c.state
}

// Snapshot returns a consistent copy of the session state.
func (c *Coordinator) Snapshot() session.Snapshot {
	return c.state.Snapshot()
}

// OnDevices sets the device list callback.
func (c *Coordinator) OnDevices(callback DevicesCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.devicesCallback = callback
}

// OnConnection sets the connection callback.
func (c *Coordinator) OnConnection(callback ConnectionCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.connectionCallback = callback
}

// OnMessage sets the received message callback.
func (c *Coordinator) OnMessage(callback MessageCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.messageCallback = callback
}

// OnDiscovery sets the discovery state callback.
func (c *Coordinator) OnDiscovery(callback DiscoveryCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.discoveryCallback = callback
}

// OnMembers sets the member set callback.
func (c *Coordinator) OnMembers(callback MembersCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.membersCallback = callback
}

// dispatch forwards session events to the user callbacks.
func (c *Coordinator) dispatch(ev session.Event) {
	snap := ev.Snapshot

	if ev.Kind == session.EventConnection {
		select {
		case c.connChanged <- struct{}{}:
		default:
		}
	}

	c.cbMu.RLock()
	devicesCb, connectionCb, messageCb := c.devicesCallback, c.connectionCallback, c.messageCallback
	discoveryCb, membersCb := c.discoveryCallback, c.membersCallback
	c.cbMu.RUnlock()

	switch ev.Kind {
	case session.EventDevices:
		if devicesCb != nil {
			devicesCb(snap.Devices)
		}
	case session.EventConnection:
		if connectionCb != nil {
			connectionCb(snap.Connection)
		}
	case session.EventMessage:
		if messageCb != nil && snap.LastMessage != nil {
			messageCb(*snap.LastMessage)
		}
	case session.EventDiscovery:
		if discoveryCb != nil {
			discoveryCb(snap.Discovery)
		}
	case session.EventMembers:
		if membersCb != nil {
			membersCb(snap.Members)
		}
	}
}

// ToggleDiscovery starts discovery when idle and stops it when scanning.
func (c *Coordinator) ToggleDiscovery(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.discovery.Toggle(ctx)
}

// StartDiscovery starts scanning. It is a no-op while already scanning.
func (c *Coordinator) StartDiscovery(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.discovery.Start(ctx)
}

// StopDiscovery stops scanning. It is a no-op while idle.
func (c *Coordinator) StopDiscovery(ctx context.Context) error {
	return c.discovery.Stop(ctx)
}

// SelectDevice selects a listed device as the connect candidate.
func (c *Coordinator) SelectDevice(address string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.state.Select(address)
}

// ToggleConnect connects to the selection when disconnected and
// disconnects otherwise.
func (c *Coordinator) ToggleConnect(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.connection.Toggle(ctx)
}

// Connect connects to address, which must be the current selection.
func (c *Coordinator) Connect(ctx context.Context, address string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.connection.ConnectTo(ctx, address)
}

// Disconnect leaves the current group.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	return c.connection.Disconnect(ctx)
}

// SetDraft replaces the outbound draft.
func (c *Coordinator) SetDraft(content string) {
	c.state.SetDraft(content)
}

// SendDraft sends the draft to the group.
func (c *Coordinator) SendDraft(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.router.SendDraft(ctx)
}

// SendMessage sets content as the draft and sends it. Any previous draft
// is replaced.
func (c *Coordinator) SendMessage(ctx context.Context, content string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.state.SetDraft(content)
	return c.router.SendDraft(ctx)
}

// ReceiveMessage reads one message from the group. With AutoReceive the
// background loop competes for the same messages.
func (c *Coordinator) ReceiveMessage(ctx context.Context) (session.Message, error) {
	if err := c.checkOpen(); err != nil {
		return session.Message{}, err
	}
	return c.router.Receive(ctx)
}

// Status returns the status text for the current state.
func (c *Coordinator) Status() string {
	return StatusText(c.state.Snapshot())
}

// Go runs op on its own goroutine and returns its Future. The context
// passed to op is cancelled by Close.
func (c *Coordinator) Go(op Operation) *Future {
	f := newFuture()
	if err := c.checkOpen(); err != nil {
		f.complete(err)
		return f
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f.complete(op(c.ctx))
	}()
	return f
}

// receiveLoop receives messages while connected until Close.
func (c *Coordinator) receiveLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		if !c.state.Connection().IsConnected() {
			select {
			case <-c.connChanged:
			case <-c.ctx.Done():
			}
			continue
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.options.ReceivePollInterval)
		_, err := c.router.Receive(ctx)
		cancel()

		switch {
		case err == nil, c.ctx.Err() != nil:
		case errors.Is(err, interfaces.ErrReceiveTimeout), errors.Is(err, interfaces.ErrPreconditionViolation):
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Coordinator.receiveLoop",
				"error":    err.Error(),
				"retry_in": c.options.ReceiveRetryInterval,
			}).Warn("Background receive failed")
			select {
			case <-time.After(c.options.ReceiveRetryInterval):
			case <-c.ctx.Done():
			}
		}
	}
}

func (c *Coordinator) checkOpen() error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}

// Close stops discovery, leaves the group and closes the transport.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		if err := c.discovery.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if c.state.Connection().IsConnected() {
			if err := c.connection.Disconnect(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.transport.Close(); err != nil {
			errs = append(errs, err)
		}

		c.wg.Wait()
		c.discovery.Wait()
		// A connect still in flight from a caller context must not leave a
		// closed coordinator looking connected.
		c.state.Close()
		for _, unsubscribe := range c.unsubscribe {
			unsubscribe()
		}

		c.closeErr = errors.Join(errs...)
		logrus.WithFields(logrus.Fields{
			"function": "Coordinator.Close",
			"clean":    c.closeErr == nil,
		}).Info("Coordinator closed")
	})
	return c.closeErr
}
