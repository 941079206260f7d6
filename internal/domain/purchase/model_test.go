package purchase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapProcessorStatus(t *testing.T) {
	cases := map[string]Status{
		"approved":     StatusApproved,
		"pending":      StatusPending,
		"authorized":   StatusPending,
		"in_process":   StatusPending,
		"in_mediation": StatusPending,
		"rejected":     StatusRejected,
		"cancelled":    StatusCancelled,
		"refunded":     StatusRefunded,
		"charged_back": StatusRefunded,
	}
	for native, want := range cases {
		assert.Equal(t, want, MapProcessorStatus(native), "native status %q", native)
	}
}

func TestMapProcessorStatusUnknownDefaultsToPending(t *testing.T) {
	assert.Equal(t, StatusPending, MapProcessorStatus("some_future_status"))
	assert.Equal(t, StatusPending, MapProcessorStatus(""))
}

func TestCanTransition(t *testing.T) {
	// Anything may leave pending.
	assert.True(t, CanTransition(StatusPending, StatusApproved))
	assert.True(t, CanTransition(StatusPending, StatusRejected))
	assert.True(t, CanTransition(StatusRejected, StatusApproved))
	assert.True(t, CanTransition(StatusCancelled, StatusPending))

	// Approved is settled: only refunded (or approved itself) may overwrite.
	assert.True(t, CanTransition(StatusApproved, StatusRefunded))
	assert.True(t, CanTransition(StatusApproved, StatusApproved))
	assert.False(t, CanTransition(StatusApproved, StatusPending))
	assert.False(t, CanTransition(StatusApproved, StatusRejected))
	assert.False(t, CanTransition(StatusApproved, StatusCancelled))
}
