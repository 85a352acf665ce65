package lan

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// fakeMDNS is an in-process service registry standing in for multicast DNS.
type fakeMDNS struct {
	mu         sync.Mutex
	services   map[string]*zeroconf.ServiceEntry
	browseErr  error
	endBrowses bool // close entries after the initial burst
	browses    int
}

func newFakeMDNS() *fakeMDNS {
	return &fakeMDNS{services: make(map[string]*zeroconf.ServiceEntry)}
}

type fakeServer struct {
	registry *fakeMDNS
	instance string
}

func (s *fakeServer) Shutdown() {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	delete(s.registry.services, s.instance)
}

func (f *fakeMDNS) register(instance, service, domain string, port int, text []string, ifaces []net.Interface) (shutdowner, error) {
	entry := zeroconf.NewServiceEntry(instance, service, domain)
	entry.HostName = instance + ".local."
	entry.Port = port
	entry.Text = text
	entry.TTL = 120
	entry.AddrIPv4 = []net.IP{net.IPv4(127, 0, 0, 1)}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[instance] = entry
	return &fakeServer{registry: f, instance: instance}, nil
}

func (f *fakeMDNS) browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	f.mu.Lock()
	f.browses++
	if f.browseErr != nil {
		err := f.browseErr
		f.mu.Unlock()
		return err
	}
	snapshot := make([]*zeroconf.ServiceEntry, 0, len(f.services))
	for _, e := range f.services {
		snapshot = append(snapshot, e)
	}
	end := f.endBrowses
	f.mu.Unlock()

	go func() {
		defer close(entries)
		for _, e := range snapshot {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
		if end {
			return
		}
		<-ctx.Done()
	}()
	return nil
}
