// README: State machine transition table tests.
package ride

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from    Status
		ev      Event
		want    Status
		wantErr error
	}{
		// happy-path forward transitions
		{StatusScheduled, EventStart, StatusOnRoute, nil},
		{StatusOnRoute, EventArrive, StatusArrived, nil},
		{StatusArrived, EventBoard, StatusPassengerOnboard, nil},
		{StatusPassengerOnboard, EventFinish, StatusCompleted, nil},
		// cancel from every non-terminal state
		{StatusScheduled, EventCancel, StatusCancelled, nil},
		{StatusOnRoute, EventCancel, StatusCancelled, nil},
		{StatusArrived, EventCancel, StatusCancelled, nil},
		{StatusPassengerOnboard, EventCancel, StatusCancelled, nil},
		// invalid: skipping states
		{StatusScheduled, EventArrive, StatusScheduled, ErrInvalidTransition},
		{StatusScheduled, EventBoard, StatusScheduled, ErrInvalidTransition},
		{StatusScheduled, EventFinish, StatusScheduled, ErrInvalidTransition},
		{StatusOnRoute, EventBoard, StatusOnRoute, ErrInvalidTransition},
		{StatusOnRoute, EventFinish, StatusOnRoute, ErrInvalidTransition},
		{StatusArrived, EventFinish, StatusArrived, ErrInvalidTransition},
		// invalid: reversing
		{StatusOnRoute, EventStart, StatusOnRoute, ErrInvalidTransition},
		{StatusArrived, EventArrive, StatusArrived, ErrInvalidTransition},
		{StatusPassengerOnboard, EventBoard, StatusPassengerOnboard, ErrInvalidTransition},
		// terminal states are absorbing
		{StatusCompleted, EventStart, StatusCompleted, ErrTerminalState},
		{StatusCompleted, EventCancel, StatusCompleted, ErrTerminalState},
		{StatusCancelled, EventStart, StatusCancelled, ErrTerminalState},
		{StatusCancelled, EventCancel, StatusCancelled, ErrTerminalState},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.ev)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("Next(%s, %s): err = %v, want %v", tc.from, tc.ev, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tc.from, tc.ev, got, tc.want)
		}
	}
}

func TestNextIsPure(t *testing.T) {
	// A failed transition must not perturb the table.
	before := len(AllowedTransitions[StatusScheduled])
	_, _ = Next(StatusScheduled, EventFinish)
	if len(AllowedTransitions[StatusScheduled]) != before {
		t.Fatal("transition table mutated by Next")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusOnRoute, StatusArrived, StatusPassengerOnboard} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
}
