package messaging

import (
	"context"
	"sync"

	"github.com/opd-ai/wifip2p/interfaces"
)

type sendCall struct {
	address string // empty for the Send shortcut
	content string
}

// mockMessenger records send calls and serves scripted inbound messages.
type mockMessenger struct {
	mu sync.Mutex

	sends    []sendCall
	failFor  map[string]error
	sendErr  error
	inbox    chan interfaces.InboundMessage
	recvErrs []error

	// receiving, when set, is signalled each time Receive starts waiting.
	receiving chan struct{}
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{
		failFor: make(map[string]error),
		inbox:   make(chan interfaces.InboundMessage, 16),
	}
}

func (m *mockMessenger) SendTo(ctx context.Context, address, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sends = append(m.sends, sendCall{address: address, content: content})
	if err, ok := m.failFor[address]; ok {
		return err
	}
	return m.sendErr
}

func (m *mockMessenger) Send(ctx context.Context, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sends = append(m.sends, sendCall{content: content})
	return m.sendErr
}

func (m *mockMessenger) Receive(ctx context.Context) (interfaces.InboundMessage, error) {
	m.mu.Lock()
	if len(m.recvErrs) > 0 {
		err := m.recvErrs[0]
		m.recvErrs = m.recvErrs[1:]
		m.mu.Unlock()
		return interfaces.InboundMessage{}, err
	}
	receiving := m.receiving
	m.mu.Unlock()

	if receiving != nil {
		select {
		case receiving <- struct{}{}:
		default:
		}
	}

	select {
	case msg := <-m.inbox:
		return msg, nil
	case <-ctx.Done():
		return interfaces.InboundMessage{}, ctx.Err()
	}
}

func (m *mockMessenger) deliver(from, content string) {
	m.inbox <- interfaces.InboundMessage{FromAddress: from, Content: content}
}

func (m *mockMessenger) failReceive(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvErrs = append(m.recvErrs, err)
}

func (m *mockMessenger) recorded() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sendCall(nil), m.sends...)
}

func (m *mockMessenger) recipients() []string {
	calls := m.recorded()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.address)
	}
	return out
}

// timeoutError mimics a net.Error deadline.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
