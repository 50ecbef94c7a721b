package emitter

import (
	"fmt"
	"sync"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// RunRecord is what the Registry knows about one run.
type RunRecord struct {
	RunID        string
	JobNamespace string
	JobName      string
	ParentRunID  string

	// State is the last event type handed to the transport; empty until START is out.
	State lineage.EventType

	// Closed is set once the run can no longer take events, whether or not a
	// terminal event was emitted for it.
	Closed bool
}

// Registry holds every run constructed by an Emitter. Child runs may only
// reference parents found here. Safe for concurrent use by independent flows.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunRecord)}
}

// Reserve registers a run before its START event is sent.
func (r *Registry) Reserve(runID string, job lineage.Job, parentRunID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}

	r.runs[runID] = &RunRecord{
		RunID:        runID,
		JobNamespace: job.Namespace,
		JobName:      job.Name,
		ParentRunID:  parentRunID,
	}

	return nil
}

// Release forgets a reserved run whose START never reached the transport.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.runs[runID]; ok && rec.State == "" {
		delete(r.runs, runID)
	}
}

// Lookup returns a copy of the record for runID.
func (r *Registry) Lookup(runID string) (RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, false
	}

	return *rec, true
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.runs)
}

// CheckParent verifies that a child may reference parentRunID as an active parent.
func (r *Registry) CheckParent(parentRunID, jobNamespace, jobName string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[parentRunID]
	if !ok || rec.State == "" {
		return fmt.Errorf("%w: %s", ErrUnknownParent, parentRunID)
	}

	if rec.JobNamespace != jobNamespace || rec.JobName != jobName {
		return fmt.Errorf("%w: run %s belongs to %s/%s, not %s/%s",
			ErrParentJobMismatch, parentRunID, rec.JobNamespace, rec.JobName, jobNamespace, jobName)
	}

	if rec.Closed || rec.State.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrParentClosed, parentRunID, rec.State)
	}

	return nil
}

// CanTransition checks the run-cycle transition without recording it.
func (r *Registry) CanTransition(runID string, to lineage.EventType) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	return lineage.ValidateStateTransition(rec.State, to)
}

// Record stores the event type just handed to the transport.
func (r *Registry) Record(runID string, eventType lineage.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[runID]
	if !ok || eventType == lineage.EventTypeOther {
		return
	}

	rec.State = eventType
	if eventType.IsTerminal() {
		rec.Closed = true
	}
}

// Close marks a run closed without recording an event.
func (r *Registry) Close(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.runs[runID]; ok {
		rec.Closed = true
	}
}
