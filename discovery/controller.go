// Package discovery toggles peer scanning and streams the radio's peer list
// into the session state.
//
// The controller keeps at most one subscription. Each subscription is bound
// to a session.ScanHandle; stopping discovery invalidates the handle inside
// the state lock before the radio is asked to stop, so an update that was
// already in flight can never resurrect a stale list.
package discovery

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/metrics"
	"github.com/opd-ai/wifip2p/session"
)

// subscription couples a radio subscription with the state handle its
// updates are tagged with.
type subscription struct {
	sub    interfaces.Subscription
	handle session.ScanHandle
	done   chan struct{}
}

// Controller drives peer discovery.
type Controller struct {
	scanner interfaces.Scanner
	state   *session.State

	mu      sync.Mutex
	current *subscription
	wg      sync.WaitGroup
}

// NewController creates a discovery controller.
func NewController(scanner interfaces.Scanner, state *session.State) *Controller {
	return &Controller{
		scanner: scanner,
		state:   state,
	}
}

// Start begins scanning. It is a no-op while a scan is already running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Start",
			"handle":   c.current.handle,
		}).Debug("Discovery already running, ignoring start")
		return nil
	}

	sub, err := c.scanner.ScanStart(ctx)
	if err != nil {
		metrics.ScanStartsTotal.WithLabelValues("error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Start",
			"error":    err.Error(),
		}).Error("Failed to start peer scan")
		return interfaces.NewError("scan_start", "", interfaces.ErrTransportUnavailable, err)
	}
	metrics.ScanStartsTotal.WithLabelValues("success").Inc()

	current := &subscription{
		sub:    sub,
		handle: c.state.ActivateScan(),
		done:   make(chan struct{}),
	}
	c.current = current

	c.wg.Add(1)
	go c.pump(current)

	logrus.WithFields(logrus.Fields{
		"function": "Controller.Start",
		"handle":   current.handle,
	}).Info("Peer discovery started")

	return nil
}

// Stop ends scanning. Stopping when no scan is running is logged and
// otherwise ignored. A radio error while stopping is returned, but
// discovery is idle either way.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.current
	if current == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Stop",
		}).Debug("No active discovery subscription, ignoring stop")
		return nil
	}
	c.current = nil

	c.state.DeactivateScan(current.handle)
	close(current.done)

	if err := c.scanner.ScanStop(ctx, current.sub); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Controller.Stop",
			"handle":   current.handle,
			"error":    err.Error(),
		}).Error("Failed to stop peer scan")
		return interfaces.NewError("scan_stop", "", interfaces.ErrTransportUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Controller.Stop",
		"handle":   current.handle,
	}).Info("Peer discovery stopped")

	return nil
}

// Toggle starts discovery when idle and stops it when scanning.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.Scanning() {
		return c.Stop(ctx)
	}
	return c.Start(ctx)
}

// Scanning reports whether the controller holds a live subscription.
func (c *Controller) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Wait blocks until every update pump has exited.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// pump applies updates from one subscription until it is stopped or the
// radio closes the stream.
func (c *Controller) pump(s *subscription) {
	defer c.wg.Done()

	updates := s.sub.Updates()
	for {
		select {
		case <-s.done:
			return
		case devices, ok := <-updates:
			if !ok {
				c.handleStreamEnd(s)
				return
			}
			c.apply(s, devices)
		}
	}
}

func (c *Controller) apply(s *subscription, devices []interfaces.Device) {
	if !c.state.ApplyDevices(s.handle, devices) {
		metrics.DeviceUpdatesTotal.WithLabelValues("dropped").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Controller.pump",
			"handle":   s.handle,
			"devices":  len(devices),
		}).Debug("Dropped device update from inactive subscription")
		return
	}
	metrics.DeviceUpdatesTotal.WithLabelValues("applied").Inc()
	logrus.WithFields(logrus.Fields{
		"function": "Controller.pump",
		"handle":   s.handle,
		"devices":  len(devices),
	}).Debug("Applied device update")
}

// handleStreamEnd returns discovery to idle when the radio ends the scan on
// its own.
func (c *Controller) handleStreamEnd(s *subscription) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	if !c.state.DeactivateScan(s.handle) {
		return
	}

	fields := logrus.Fields{
		"function": "Controller.pump",
		"handle":   s.handle,
	}
	if err := s.sub.Err(); err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Error("Peer scan terminated by transport")
		return
	}
	logrus.WithFields(fields).Warn("Peer scan ended without stop request")
}
