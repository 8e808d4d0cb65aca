package job

import "testing"

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusSucceeded, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, test := range tests {
		if got := test.status.IsTerminal(); got != test.expected {
			t.Errorf("Status(%s).IsTerminal() = %v, expected %v", test.status, got, test.expected)
		}
	}
}

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusSucceeded, false},
		{StatusQueued, StatusFailed, false},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusQueued, false},
		{StatusSucceeded, StatusFailed, false},
		{StatusSucceeded, StatusRunning, false},
		{StatusFailed, StatusCancelled, false},
		{StatusCancelled, StatusRunning, false},
		{StatusCancelled, StatusCancelled, false},
	}

	for _, test := range tests {
		if got := test.from.CanTransition(test.to); got != test.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, expected %v", test.from, test.to, got, test.allowed)
		}
	}
}
