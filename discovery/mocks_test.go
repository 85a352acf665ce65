package discovery

import (
	"context"
	"sync"

	"github.com/opd-ai/wifip2p/interfaces"
)

// mockSubscription is a subscription whose updates are pushed by the test.
type mockSubscription struct {
	updates chan []interfaces.Device
	mu      sync.Mutex
	err     error
	closed  bool
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{updates: make(chan []interfaces.Device, 16)}
}

func (m *mockSubscription) Updates() <-chan []interfaces.Device {
	return m.updates
}

func (m *mockSubscription) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// fail closes the stream the way a radio failure would.
func (m *mockSubscription) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.err = err
	m.closed = true
	close(m.updates)
}

// mockScanner records ScanStart/ScanStop calls.
type mockScanner struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	startErr   error
	stopErr    error
	subs       []*mockSubscription
}

func (m *mockScanner) ScanStart(ctx context.Context) (interfaces.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	if m.startErr != nil {
		return nil, m.startErr
	}
	sub := newMockSubscription()
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *mockScanner) ScanStop(ctx context.Context, sub interfaces.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls++
	return m.stopErr
}

func (m *mockScanner) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalls, m.stopCalls
}

func (m *mockScanner) lastSub() *mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}
