package messaging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wifip2p/interfaces"
	"github.com/opd-ai/wifip2p/limits"
	"github.com/opd-ai/wifip2p/metrics"
	"github.com/opd-ai/wifip2p/session"
)

// DefaultFanOutWorkers bounds concurrent member sends when no limit is given.
const DefaultFanOutWorkers = 8

// Router sends and receives chat messages according to the local role.
type Router struct {
	messenger interfaces.Messenger
	state     *session.State
	workers   int
}

// NewRouter creates a router. workers bounds the owner fan-out concurrency;
// values below one select DefaultFanOutWorkers.
func NewRouter(messenger interfaces.Messenger, state *session.State, workers int) *Router {
	if workers < 1 {
		workers = DefaultFanOutWorkers
	}
	return &Router{
		messenger: messenger,
		state:     state,
		workers:   workers,
	}
}

// SendDraft sends the current draft.
func (r *Router) SendDraft(ctx context.Context) error {
	return r.Send(ctx, r.state.Draft())
}

// Send delivers content to the group. The group owner fans out to every
// member, a client sends once to the owner. The draft is cleared once the
// transport calls have completed, whatever their outcome. Precondition
// failures leave the draft untouched.
func (r *Router) Send(ctx context.Context, content string) error {
	if err := limits.ValidateChatMessage(content); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Router.Send",
			"size":     len(content),
			"error":    err.Error(),
		}).Warn("Rejected outbound message")
		return interfaces.NewError("send", "", interfaces.ErrPreconditionViolation, err)
	}

	snap := r.state.Snapshot()

	var err error
	switch conn := snap.Connection.(type) {
	case session.ConnectedAsOwner:
		err = r.fanOut(ctx, content, snap.Members)
	case session.ConnectedAsClient:
		err = r.sendToOwner(ctx, conn, content)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Router.Send",
		}).Warn("Send while disconnected")
		return interfaces.Precondition("send", "", "not connected")
	}

	r.state.ClearDraft()
	return err
}

// sendToOwner issues exactly one transport call to the group owner.
func (r *Router) sendToOwner(ctx context.Context, conn session.ConnectedAsClient, content string) error {
	var err error
	if conn.OwnerAddress == "" {
		err = r.messenger.Send(ctx, content)
	} else {
		err = r.messenger.SendTo(ctx, conn.OwnerAddress, content)
	}

	if err != nil {
		metrics.MessagesSentTotal.WithLabelValues("client", "error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Router.Send",
			"owner":    conn.OwnerAddress,
			"error":    err.Error(),
		}).Error("Failed to send message to group owner")
		return interfaces.NewError("send", conn.OwnerAddress, interfaces.ErrTransportUnavailable, err)
	}

	metrics.MessagesSentTotal.WithLabelValues("client", "success").Inc()
	logrus.WithFields(logrus.Fields{
		"function": "Router.Send",
		"owner":    conn.OwnerAddress,
		"size":     len(content),
	}).Debug("Message sent to group owner")
	return nil
}

// fanOut sends content to every member using a bounded worker pool.
func (r *Router) fanOut(ctx context.Context, content string, members []string) error {
	if len(members) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Router.Send",
		}).Warn("Group owner has no known members, nothing sent")
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.FanOutDuration.Observe(time.Since(start).Seconds())
	}()

	maxWorkers := r.workers
	if len(members) < maxWorkers {
		maxWorkers = len(members)
	}

	type result struct {
		address string
		err     error
	}

	resultChan := make(chan result, len(members))
	jobChan := make(chan string, len(members))

	for i := 0; i < maxWorkers; i++ {
		go func() {
			for address := range jobChan {
				err := r.messenger.SendTo(ctx, address, content)
				resultChan <- result{address: address, err: err}
			}
		}()
	}

	for _, address := range members {
		jobChan <- address
	}
	close(jobChan)

	failed := make(map[string]error)
	delivered := 0
	for i := 0; i < len(members); i++ {
		res := <-resultChan
		if res.err != nil {
			failed[res.address] = fmt.Errorf("send to %s: %w", res.address, res.err)
			metrics.MessagesSentTotal.WithLabelValues("owner", "error").Inc()
			logrus.WithFields(logrus.Fields{
				"function": "Router.Send",
				"member":   res.address,
				"error":    res.err.Error(),
			}).Warn("Failed to deliver message to member")
			continue
		}
		delivered++
		metrics.MessagesSentTotal.WithLabelValues("owner", "success").Inc()
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Router.Send",
		"attempted": len(members),
		"delivered": delivered,
		"size":      len(content),
	}).Info("Fan-out complete")

	if len(failed) > 0 {
		return &interfaces.PartialDeliveryError{
			Attempted: len(members),
			Delivered: delivered,
			Failed:    failed,
		}
	}
	return nil
}

// Receive reads one message from the group and records it. When the local
// peer owns the group, the sender joins the member set in the same update.
// A message that arrives after the connection it was read under has ended
// is dropped with a PreconditionViolation.
func (r *Router) Receive(ctx context.Context) (session.Message, error) {
	link, connected := r.state.CurrentLink()
	if !connected {
		return session.Message{}, interfaces.Precondition("receive", "", "not connected")
	}

	in, err := r.messenger.Receive(ctx)
	if err != nil {
		if isTimeout(err) {
			metrics.MessagesReceivedTotal.WithLabelValues("timeout").Inc()
			logrus.WithFields(logrus.Fields{
				"function": "Router.Receive",
			}).Debug("No message before deadline")
			return session.Message{}, interfaces.NewError("receive", "", interfaces.ErrReceiveTimeout, err)
		}
		metrics.MessagesReceivedTotal.WithLabelValues("error").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Router.Receive",
			"error":    err.Error(),
		}).Error("Receive failed")
		return session.Message{}, interfaces.NewError("receive", "", interfaces.ErrReceiveFailure, err)
	}

	msg, added, err := r.state.RecordReceived(link, in)
	if err != nil {
		metrics.MessagesReceivedTotal.WithLabelValues("stale").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Router.Receive",
			"from":     in.FromAddress,
		}).Warn("Dropped message received under a previous connection")
		return session.Message{}, err
	}
	metrics.MessagesReceivedTotal.WithLabelValues("success").Inc()

	fields := logrus.Fields{
		"function": "Router.Receive",
		"from":     in.FromAddress,
		"size":     len(in.Content),
	}
	if added {
		logrus.WithFields(fields).Info("Message received from new member")
	} else {
		logrus.WithFields(fields).Debug("Message received")
	}

	return msg, nil
}

// isTimeout reports whether err is a deadline rather than a link failure.
func isTimeout(err error) bool {
	if errors.Is(err, interfaces.ErrReceiveTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
