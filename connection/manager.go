// Package connection drives group formation and teardown against the
// selected peer and records the negotiated role in the session state.
//
// The connected state is entered only after the radio has confirmed the
// link and answered a role query; nothing is shown optimistically. The
// session's connection slot serialises attempts so a second connect or
// disconnect issued while one is in flight is rejected, not raced.
package connection

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/metrics"
	"github.com/opd-ai/wifip2p/session"
)

// Manager connects to and disconnects from peers.
type Manager struct {
	connector interfaces.Connector
	state     *session.State
}

// NewManager creates a connection manager.
func NewManager(connector interfaces.Connector, state *session.State) *Manager {
	return &Manager{
		connector: connector,
		state:     state,
	}
}

// ConnectTo forms a group with the peer at address. address must be the
// current selection and the session must be disconnected.
func (m *Manager) ConnectTo(ctx context.Context, address string) error {
	if err := m.state.BeginConnect(address); err != nil {
		metrics.ConnectAttemptsTotal.WithLabelValues("rejected").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ConnectTo",
			"address":  address,
			"error":    err.Error(),
		}).Warn("Connect rejected")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.ConnectTo",
		"address":  address,
	}).Info("Connecting to peer")

	if err := m.connector.Connect(ctx, address); err != nil {
		m.state.AbortConnect()
		metrics.ConnectAttemptsTotal.WithLabelValues("connect_error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ConnectTo",
			"address":  address,
			"error":    err.Error(),
		}).Error("Connect request failed")
		return interfaces.NewError("connect", address, interfaces.ErrTransportUnavailable, err)
	}

	role, err := m.connector.QueryRole(ctx)
	if err != nil {
		m.dropHalfOpenLink(ctx, address)
		m.state.AbortConnect()
		metrics.ConnectAttemptsTotal.WithLabelValues("role_error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ConnectTo",
			"address":  address,
			"error":    err.Error(),
		}).Error("Role query failed after connect")
		return interfaces.NewError("query_role", address, interfaces.ErrTransportUnavailable, err)
	}

	conn, err := m.state.CompleteConnect(address, role)
	if err != nil {
		m.dropHalfOpenLink(ctx, address)
		metrics.ConnectAttemptsTotal.WithLabelValues("rejected").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ConnectTo",
			"address":  address,
			"error":    err.Error(),
		}).Warn("Connect completed after session closed, link released")
		return err
	}
	if role.IsGroupOwner {
		metrics.ConnectAttemptsTotal.WithLabelValues("owner").Inc()
	} else {
		metrics.ConnectAttemptsTotal.WithLabelValues("client").Inc()
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Manager.ConnectTo",
		"address":       address,
		"group_owner":   role.IsGroupOwner,
		"owner_address": role.OwnerAddress,
	}).Infof("Peer connected: %s", conn)

	return nil
}

// dropHalfOpenLink releases a link whose role could not be determined.
// The result is only logged; the caller reports the role query error.
func (m *Manager) dropHalfOpenLink(ctx context.Context, address string) {
	if err := m.connector.Disconnect(ctx, interfaces.TeardownCancelConnect); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.ConnectTo",
			"address":  address,
			"error":    err.Error(),
		}).Warn("Failed to release link after role query failure")
	}
}

// Disconnect tears down the current group. The owner removes the whole
// group, a client cancels its own link. Local state is reset even when the
// radio reports a teardown error, which is then returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	conn, err := m.state.BeginDisconnect()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Disconnect",
			"error":    err.Error(),
		}).Warn("Disconnect rejected")
		return err
	}

	mode := TeardownFor(conn)
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Disconnect",
		"peer":     conn.PeerAddress(),
		"mode":     mode.String(),
	}).Info("Tearing down group")

	teardownErr := m.connector.Disconnect(ctx, mode)
	m.state.ResetConnection()

	if teardownErr != nil {
		metrics.DisconnectsTotal.WithLabelValues(mode.String(), "error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Disconnect",
			"peer":     conn.PeerAddress(),
			"mode":     mode.String(),
			"error":    teardownErr.Error(),
		}).Error("Teardown failed, local state reset anyway")
		return interfaces.NewError("disconnect", conn.PeerAddress(), interfaces.ErrTeardownFailed, teardownErr)
	}

	metrics.DisconnectsTotal.WithLabelValues(mode.String(), "success").Inc()
	logrus.WithFields(logrus.Fields{
		"function": "Manager.Disconnect",
		"peer":     conn.PeerAddress(),
	}).Info("Group torn down")

	return nil
}

// Toggle disconnects when connected and otherwise connects to the selection.
func (m *Manager) Toggle(ctx context.Context) error {
	if m.state.Connection().IsConnected() {
		return m.Disconnect(ctx)
	}
	address, ok := m.state.Selection()
	if !ok {
		metrics.ConnectAttemptsTotal.WithLabelValues("rejected").Inc()
		return interfaces.Precondition("connect", "", "no device selected")
	}
	return m.ConnectTo(ctx, address)
}

// TeardownFor returns the teardown mode matching the local role.
func TeardownFor(conn session.ConnectionState) interfaces.TeardownMode {
	if conn.IsGroupOwner() {
		return interfaces.TeardownRemoveGroup
	}
	return interfaces.TeardownCancelConnect
}
