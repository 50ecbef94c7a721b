package lineage

import (
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors for run-cycle transitions.
var (
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrTerminalStateImmutable = errors.New("terminal state is immutable")
	ErrDuplicateStart         = errors.New("duplicate START event")
	ErrBackwardTransition     = errors.New("cannot transition backwards")
	ErrEmptyEventList         = errors.New("empty event list")
)

// ValidateStateTransition checks one step of the OpenLineage run cycle.
//
//	START   -> RUNNING | COMPLETE | FAIL | ABORT
//	RUNNING -> RUNNING | COMPLETE | FAIL | ABORT
//	COMPLETE, FAIL, ABORT -> same state only (redelivery)
//	OTHER   <-> anything
//
// The empty state means "no event yet" and only START (or OTHER) may follow it.
//
// Spec: https://openlineage.io/docs/spec/run-cycle#run-states
func ValidateStateTransition(from, to EventType) error {
	if from == EventTypeOther || to == EventTypeOther {
		return nil
	}

	switch {
	case from == "":
		if to != EventTypeStart {
			return fmt.Errorf("%w: run has no START, got %s", ErrInvalidTransition, to)
		}

		return nil

	case from.IsTerminal():
		if from != to {
			return fmt.Errorf("%w: %s -> %s", ErrTerminalStateImmutable, from, to)
		}

		return nil

	case from == EventTypeStart && to == EventTypeStart:
		return fmt.Errorf("%w: run already started", ErrDuplicateStart)

	case from == EventTypeRunning && to == EventTypeStart:
		return fmt.Errorf("%w: RUNNING -> START", ErrBackwardTransition)

	case from == EventTypeStart || from == EventTypeRunning:
		if to == EventTypeRunning || to.IsTerminal() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// SortEventsByTime returns a copy of events ordered by eventTime. Events with
// equal times keep their relative order.
func SortEventsByTime(events []RunEvent) []RunEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b RunEvent) int {
		return a.EventTime.Compare(b.EventTime)
	})

	return sorted
}

// ValidateEventSequence orders the events of ONE run by eventTime and checks
// every transition. It returns the ordered events and the final state, which
// is the last non-OTHER type (OTHER if there is nothing else).
func ValidateEventSequence(events []RunEvent) ([]RunEvent, EventType, error) {
	if len(events) == 0 {
		return nil, "", ErrEmptyEventList
	}

	sorted := SortEventsByTime(events)

	var state EventType

	for i, event := range sorted {
		if event.EventType == EventTypeOther {
			continue
		}

		// A sequence may start mid-run (e.g. a batch holding only COMPLETE).
		if state == "" {
			state = event.EventType

			continue
		}

		if err := ValidateStateTransition(state, event.EventType); err != nil {
			return nil, "", fmt.Errorf("transition %d (%s -> %s at %s): %w",
				i, state, event.EventType, event.EventTime.Format("15:04:05"), err)
		}

		state = event.EventType
	}

	if state == "" {
		state = EventTypeOther
	}

	return sorted, state, nil
}

// GroupByRun splits events per run id, preserving first-seen run order.
func GroupByRun(events []RunEvent) (runIDs []string, byRun map[string][]RunEvent) {
	byRun = make(map[string][]RunEvent)

	for _, e := range events {
		if _, seen := byRun[e.Run.ID]; !seen {
			runIDs = append(runIDs, e.Run.ID)
		}

		byRun[e.Run.ID] = append(byRun[e.Run.ID], e)
	}

	return runIDs, byRun
}
