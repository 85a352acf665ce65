package wpas

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// groupInfo is the payload of a GroupStarted signal.
type groupInfo struct {
	isOwner   bool
	ifacePath dbus.ObjectPath
	groupPath dbus.ObjectPath
}

// groupResult completes a pending Connect.
type groupResult struct {
	info groupInfo
	err  error
}

// parseGroupStarted reads the GroupStarted properties. role is "GO" for the
// group owner and "client" otherwise.
func parseGroupStarted(props map[string]dbus.Variant) (groupInfo, error) {
	var info groupInfo

	role, ok := props["role"].Value().(string)
	if !ok {
		return info, errors.New("GroupStarted without role")
	}
	switch role {
	case "GO":
		info.isOwner = true
	case "client":
	default:
		return info, fmt.Errorf("GroupStarted with unknown role %q", role)
	}

	info.ifacePath, ok = props["interface_object"].Value().(dbus.ObjectPath)
	if !ok || !info.ifacePath.IsValid() {
		return info, errors.New("GroupStarted without interface_object")
	}
	info.groupPath, _ = props["group_object"].Value().(dbus.ObjectPath)
	return info, nil
}

// negotiationStatus extracts the status code of GONegotiationFailure. Older
// wpa_supplicant versions send a bare int32, newer ones a dictionary.
func negotiationStatus(body []interface{}) int32 {
	if len(body) == 0 {
		return -1
	}
	switch v := body[0].(type) {
	case int32:
		return v
	case map[string]dbus.Variant:
		if status, ok := v["status"].Value().(int32); ok {
			return status
		}
	}
	return -1
}

// dispatch handles bus signals until the transport closes.
func (t *Transport) dispatch(signals <-chan *dbus.Signal) {
	defer t.wg.Done()
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		case <-t.done:
			return
		}
	}
}

func (t *Transport) handleSignal(sig *dbus.Signal) {
	log := logrus.WithFields(logrus.Fields{
		"function": "Transport.handleSignal",
		"signal":   sig.Name,
		"path":     string(sig.Path),
	})

	switch sig.Name {
	case signalDeviceFound:
		if path, ok := firstPath(sig.Body); ok {
			t.peerFound(path)
		}

	case signalDeviceLost:
		if path, ok := firstPath(sig.Body); ok {
			t.peerLost(path)
		}

	case signalFindStopped:
		t.findStopped()

	case signalGroupStarted:
		if len(sig.Body) == 0 {
			return
		}
		props, ok := sig.Body[0].(map[string]dbus.Variant)
		if !ok {
			log.Warn("GroupStarted with unexpected body")
			return
		}
		info, err := parseGroupStarted(props)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Ignoring malformed GroupStarted")
			t.completePending(groupResult{err: fmt.Errorf("%w: %w", ErrGroupFormation, err)})
			return
		}
		if !t.completePending(groupResult{info: info}) {
			t.recordGroup(info, "")
		}

	case signalGONegFailure:
		status := negotiationStatus(sig.Body)
		log.WithField("status", status).Warn("Group owner negotiation failed")
		t.completePending(groupResult{err: fmt.Errorf("%w: negotiation status %d", ErrGroupFormation, status)})

	case signalFormationFailure:
		reason, _ := firstString(sig.Body)
		log.WithField("reason", reason).Warn("Group formation failed")
		t.completePending(groupResult{err: fmt.Errorf("%w: %s", ErrGroupFormation, reason)})

	case signalGroupFinished:
		t.groupFinished()
	}
}

func firstPath(body []interface{}) (dbus.ObjectPath, bool) {
	if len(body) == 0 {
		return "", false
	}
	path, ok := body[0].(dbus.ObjectPath)
	return path, ok
}

func firstString(body []interface{}) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	s, ok := body[0].(string)
	return s, ok
}
