package waitlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusWaiting, StatusNotified, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusWaiting, StatusConfirmed, false},
		{StatusWaiting, StatusExpired, false},
		{StatusNotified, StatusConfirmed, true},
		{StatusNotified, StatusExpired, true},
		{StatusNotified, StatusCancelled, true},
		{StatusNotified, StatusWaiting, false},
		{StatusConfirmed, StatusCancelled, false},
		{StatusExpired, StatusNotified, false},
		{StatusCancelled, StatusWaiting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Classification(t *testing.T) {
	for _, status := range AllStatuses {
		assert.True(t, status.IsValid())
		assert.NotEqual(t, status.IsActive(), status.IsTerminal(), status)
	}
	assert.False(t, Status("SEATED").IsValid())
}
