package lineage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStateTransition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		from    EventType
		to      EventType
		wantErr error
	}{
		{"", EventTypeStart, nil},
		{"", EventTypeComplete, ErrInvalidTransition},
		{"", EventTypeOther, nil},
		{EventTypeStart, EventTypeRunning, nil},
		{EventTypeStart, EventTypeComplete, nil},
		{EventTypeStart, EventTypeFail, nil},
		{EventTypeStart, EventTypeAbort, nil},
		{EventTypeStart, EventTypeStart, ErrDuplicateStart},
		{EventTypeRunning, EventTypeRunning, nil},
		{EventTypeRunning, EventTypeComplete, nil},
		{EventTypeRunning, EventTypeStart, ErrBackwardTransition},
		{EventTypeComplete, EventTypeComplete, nil},
		{EventTypeComplete, EventTypeStart, ErrTerminalStateImmutable},
		{EventTypeFail, EventTypeComplete, ErrTerminalStateImmutable},
		{EventTypeAbort, EventTypeRunning, ErrTerminalStateImmutable},
		{EventTypeComplete, EventTypeOther, nil},
		{EventTypeOther, EventTypeStart, nil},
		{EventTypeStart, EventType("BOGUS"), ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateStateTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func eventAt(eventType EventType, at time.Time) RunEvent {
	return RunEvent{EventType: eventType, EventTime: at, Run: Run{ID: "r1"}}
}

func TestValidateEventSequence_SortsOutOfOrderEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []RunEvent{
		eventAt(EventTypeComplete, base.Add(5*time.Minute)),
		eventAt(EventTypeOther, base.Add(time.Minute)),
		eventAt(EventTypeStart, base),
	}

	sorted, final, err := ValidateEventSequence(events)
	require.NoError(t, err)

	assert.Equal(t, EventTypeComplete, final)
	assert.Equal(t, EventTypeStart, sorted[0].EventType)
	assert.Equal(t, EventTypeComplete, events[0].EventType, "input slice is not reordered")
}

func TestValidateEventSequence_Errors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, _, err := ValidateEventSequence(nil)
	require.ErrorIs(t, err, ErrEmptyEventList)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err = ValidateEventSequence([]RunEvent{
		eventAt(EventTypeStart, base),
		eventAt(EventTypeComplete, base.Add(time.Second)),
		eventAt(EventTypeRunning, base.Add(2*time.Second)),
	})
	require.ErrorIs(t, err, ErrTerminalStateImmutable)
}

func TestValidateEventSequence_OnlyOther(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, final, err := ValidateEventSequence([]RunEvent{eventAt(EventTypeOther, time.Now())})
	require.NoError(t, err)
	assert.Equal(t, EventTypeOther, final)
}

func TestGroupByRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	events := []RunEvent{
		{Run: Run{ID: "b"}, EventType: EventTypeStart},
		{Run: Run{ID: "a"}, EventType: EventTypeStart},
		{Run: Run{ID: "b"}, EventType: EventTypeComplete},
	}

	ids, byRun := GroupByRun(events)
	assert.Equal(t, []string{"b", "a"}, ids)
	assert.Len(t, byRun["b"], 2)
	assert.Len(t, byRun["a"], 1)
}
