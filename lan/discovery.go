package lan

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
)

// ErrBrowseEnded indicates the mDNS browser stopped on its own.
var ErrBrowseEnded = errors.New("mDNS browse ended")

// peer is a discovered device.
type peer struct {
	device    interfaces.Device
	addr      *net.UDPAddr
	intent    uint8
	expiresAt time.Time
}

// parseEntry converts a service entry into a peer. ok is false for entries
// without an id or a usable address.
func parseEntry(entry *zeroconf.ServiceEntry, now time.Time) (peer, bool) {
	txt := make(map[string]string, len(entry.Text))
	for _, kv := range entry.Text {
		if k, v, found := strings.Cut(kv, "="); found {
			txt[k] = v
		}
	}

	id := txt["id"]
	if id == "" {
		return peer{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return peer{}, false
	}

	name := txt["name"]
	if name == "" {
		name = entry.Instance
	}
	intent, err := strconv.Atoi(txt["intent"])
	if err != nil || intent < 0 || intent > interfaces.MaxGroupOwnerIntent {
		intent = 0
	}

	return peer{
		device:    interfaces.Device{Address: id, Name: name},
		addr:      &net.UDPAddr{IP: ip, Port: entry.Port},
		intent:    uint8(intent),
		expiresAt: now.Add(time.Duration(entry.TTL) * time.Second),
	}, true
}

// scan is one browse session. It implements interfaces.Subscription.
type scan struct {
	cancel  context.CancelFunc
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
	s.cancel()
	close(s.updates)
}

// ScanStart implements interfaces.Scanner.
func (t *Transport) ScanStart(ctx context.Context) (interfaces.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browseCtx, cancel := context.WithCancel(context.Background())
	s := &scan{cancel: cancel, updates: make(chan []interfaces.Device, 1)}
	entries := make(chan *zeroconf.ServiceEntry)

	if err := t.browse(browseCtx, t.config.ServiceType, t.config.Domain, entries); err != nil {
		cancel()
		logrus.WithFields(logrus.Fields{
			"function":     "Transport.ScanStart",
			"service_type": t.config.ServiceType,
			"error":        err.Error(),
		}).Error("mDNS browse failed")
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil, net.ErrClosed
	}
	t.scans[s] = struct{}{}
	s.offer(t.deviceListLocked(time.Now()))
	t.mu.Unlock()

	go t.pump(s, entries)

	logrus.WithFields(logrus.Fields{
		"function":     "Transport.ScanStart",
		"service_type": t.config.ServiceType,
	}).Info("mDNS browse started")
	return s, nil
}

// pump applies browse results until the browser closes entries.
func (t *Transport) pump(s *scan, entries <-chan *zeroconf.ServiceEntry) {
	for entry := range entries {
		t.observe(entry, time.Now())
	}

	t.mu.Lock()
	_, active := t.scans[s]
	delete(t.scans, s)
	t.mu.Unlock()

	if active {
		s.stop(ErrBrowseEnded)
		logrus.WithFields(logrus.Fields{
			"function": "Transport.pump",
		}).Warn("mDNS browse ended unexpectedly")
	}
}

// observe records one browse result and republishes the device list.
func (t *Transport) observe(entry *zeroconf.ServiceEntry, now time.Time) {
	p, ok := parseEntry(entry, now)
	if !ok || p.device.Address == t.id {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.TTL == 0 {
		delete(t.peers, p.device.Address)
	} else {
		t.peers[p.device.Address] = p
	}

	devices := t.deviceListLocked(now)
	for s := range t.scans {
		s.offer(devices)
	}
}

// deviceListLocked prunes expired peers and returns the rest sorted by name.
func (t *Transport) deviceListLocked(now time.Time) []interfaces.Device {
	devices := make([]interfaces.Device, 0, len(t.peers))
	for id, p := range t.peers {
		if now.After(p.expiresAt) {
			delete(t.peers, id)
			continue
		}
		devices = append(devices, p.device)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Address < devices[j].Address
	})
	return devices
}

// ScanStop implements interfaces.Scanner.
func (t *Transport) ScanStop(ctx context.Context, sub interfaces.Subscription) error {
	s, ok := sub.(*scan)
	if !ok {
		return errors.New("subscription was not started by this transport")
	}

	t.mu.Lock()
	delete(t.scans, s)
	t.mu.Unlock()

	s.stop(nil)
	logrus.WithFields(logrus.Fields{
		"function": "Transport.ScanStop",
	}).Info("mDNS browse stopped")
	return nil
}
