package wpas

import (
	"sync"

	"github.com/opd-ai/wifip2p/interfaces"
)

// scan is one Find session. It implements interfaces.Subscription.
type scan struct {
	mu      sync.Mutex
	updates chan []interfaces.Device
	err     error
	stopped bool
}

func (s *scan) Updates() <-chan []interfaces.Device {
	return s.updates
}

func (s *scan) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// offer replaces any unread list with devices.
func (s *scan) offer(devices []interfaces.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.updates <- devices:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- devices
	}
}

func (s *scan) stop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.err = err
	close(s.updates)
}
