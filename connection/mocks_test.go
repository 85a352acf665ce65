package connection

import (
	"context"
	"sync"

	"github.com/opd-ai/wifip2p/interfaces"
)

// mockConnector records connector calls and returns scripted results.
type mockConnector struct {
	mu sync.Mutex

	connectCalls    []string
	disconnectCalls []interfaces.TeardownMode
	roleCalls       int

	connectErr    error
	disconnectErr error
	roleErr       error
	role          interfaces.RoleInfo

	// connectGate, when set, blocks Connect until closed.
	connectGate chan struct{}
	connecting  chan struct{}
}

func (m *mockConnector) Connect(ctx context.Context, address string) error {
	m.mu.Lock()
	m.connectCalls = append(m.connectCalls, address)
	gate, connecting, err := m.connectGate, m.connecting, m.connectErr
	m.mu.Unlock()

	if connecting != nil {
		close(connecting)
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (m *mockConnector) Disconnect(ctx context.Context, mode interfaces.TeardownMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnectCalls = append(m.disconnectCalls, mode)
	return m.disconnectErr
}

func (m *mockConnector) QueryRole(ctx context.Context) (interfaces.RoleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roleCalls++
	return m.role, m.roleErr
}

func (m *mockConnector) snapshot() ([]string, []interfaces.TeardownMode, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.connectCalls...),
		append([]interfaces.TeardownMode(nil), m.disconnectCalls...),
		m.roleCalls
}
