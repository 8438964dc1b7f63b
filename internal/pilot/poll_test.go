package pilot

import (
	"testing"

	"github.com/user/pilotsync/internal/types"
)

func TestShouldPoll(t *testing.T) {
	cases := []struct {
		status types.SessionStatus
		want   bool
	}{
		{types.SessionStatusNone, false},
		{types.SessionStatusInit, false},
		{types.SessionStatusExecuting, true},
		{types.SessionStatusWaiting, true},
		{types.SessionStatusCompleted, false},
		{types.SessionStatusFailed, false},
		{types.SessionStatusUnknown, false},
	}
	for _, tc := range cases {
		if got := ShouldPoll(tc.status); got != tc.want {
			t.Errorf("ShouldPoll(%v) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
