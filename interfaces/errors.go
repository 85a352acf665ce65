package interfaces

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds. Every error returned by a coordinator operation matches
// exactly one of these through errors.Is.
var (
	// ErrTransportUnavailable indicates the radio refused to start a scan
	// or a connection.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrPreconditionViolation indicates an operation was invoked in the
	// wrong state, for example send while disconnected.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrPartialDelivery indicates an owner fan-out missed one or more members.
	ErrPartialDelivery = errors.New("partial delivery failure")

	// ErrReceiveTimeout indicates no message arrived before the deadline.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrReceiveFailure indicates the radio failed while reading a message.
	ErrReceiveFailure = errors.New("receive failure")

	// ErrTeardownFailed indicates the radio reported an error while tearing
	// down a group. Local state has already been reset when it is returned.
	ErrTeardownFailed = errors.New("teardown failed")
)

// Error describes a failed coordinator operation.
type Error struct {
	Op   string // operation that failed, e.g. "connect"
	Addr string // peer address if relevant
	Kind error  // one of the Err* kinds above
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("wifip2p ")
	b.WriteString(e.Op)
	if e.Addr != "" {
		b.WriteString(" ")
		b.WriteString(e.Addr)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError creates an Error.
func NewError(op, addr string, kind, err error) *Error {
	return &Error{
		Op:   op,
		Addr: addr,
		Kind: kind,
		Err:  err,
	}
}

// Precondition is shorthand for a PreconditionViolation with a reason.
func Precondition(op, addr, reason string) *Error {
	return NewError(op, addr, ErrPreconditionViolation, errors.New(reason))
}

// PartialDeliveryError reports a best-effort fan-out in which some members
// could not be reached.
type PartialDeliveryError struct {
	Attempted int
	Delivered int
	Failed    map[string]error // member address -> cause
}

func (e *PartialDeliveryError) Error() string {
	addrs := e.FailedAddresses()
	return fmt.Sprintf("%s: %d of %d members failed (%s)",
		ErrPartialDelivery, len(addrs), e.Attempted, strings.Join(addrs, ", "))
}

// Is matches ErrPartialDelivery.
func (e *PartialDeliveryError) Is(target error) bool {
	return target == ErrPartialDelivery
}

// Unwrap returns the per-member causes.
func (e *PartialDeliveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, addr := range e.FailedAddresses() {
		errs = append(errs, e.Failed[addr])
	}
	return errs
}

// FailedAddresses returns the failed member addresses in sorted order.
func (e *PartialDeliveryError) FailedAddresses() []string {
	addrs := make([]string, 0, len(e.Failed))
	for addr := range e.Failed {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
