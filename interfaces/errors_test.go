package interfaces

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewError("receive", "", ErrReceiveTimeout, cause)

	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrReceiveFailure)
	assert.Equal(t, "wifip2p receive: receive timeout: context deadline exceeded", err.Error())
}

func TestErrorWithAddressAndNoCause(t *testing.T) {
	err := NewError("connect", "aa:bb", ErrTransportUnavailable, nil)

	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, "wifip2p connect aa:bb: transport unavailable", err.Error())
}

func TestPrecondition(t *testing.T) {
	err := Precondition("send", "", "not connected")

	var target *Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "send", target.Op)
	assert.ErrorIs(t, err, ErrPreconditionViolation)
	assert.Contains(t, err.Error(), "not connected")
}

func TestPartialDeliveryError(t *testing.T) {
	boom := errors.New("link down")
	err := &PartialDeliveryError{
		Attempted: 3,
		Delivered: 1,
		Failed: map[string]error{
			"C": boom,
			"A": errors.New("unreachable"),
		},
	}

	assert.ErrorIs(t, err, ErrPartialDelivery)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"A", "C"}, err.FailedAddresses())
	assert.Equal(t, "partial delivery failure: 2 of 3 members failed (A, C)", err.Error())

	wrapped := NewError("send", "", ErrPartialDelivery, err)
	var pd *PartialDeliveryError
	require.ErrorAs(t, wrapped, &pd)
	assert.Equal(t, 1, pd.Delivered)
}

func TestDeviceString(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   string
	}{
		{"named", Device{Address: "A", Name: "Phone1"}, "Phone1 (A)"},
		{"unnamed", Device{Address: "B"}, "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.device.String())
		})
	}
}

func TestTeardownModeString(t *testing.T) {
	assert.Equal(t, "remove_group", TeardownRemoveGroup.String())
	assert.Equal(t, "cancel_connect", TeardownCancelConnect.String())
	assert.Equal(t, "teardown(9)", TeardownMode(9).String())
}
