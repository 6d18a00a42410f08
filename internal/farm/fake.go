package farm

import (
	"context"
	"fmt"
	"sync"
)

// FakeFarm is a scripted farm used by tests and the simulated dev topology.
// It assigns sequential batch ids and serves queued task-state responses,
// holding the last response so repeated polls stay stable.
type FakeFarm struct {
	mu sync.Mutex

	next        int
	submissions []Batch
	ids         []string
	failures    map[Stage]error
	states      map[string][]map[int]int
	deleted     map[string]bool
	removed     [][]string
}

// NewFakeFarm returns an empty scripted farm.
func NewFakeFarm() *FakeFarm {
	return &FakeFarm{
		failures: make(map[Stage]error),
		states:   make(map[string][]map[int]int),
		deleted:  make(map[string]bool),
	}
}

// Submit records the batch and returns the next sequential id, "batch-001"
// onward, unless the stage was scripted to fail.
func (f *FakeFarm) Submit(_ context.Context, batch Batch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[batch.Stage]; err != nil {
		return "", err
	}
	f.next++
	id := fmt.Sprintf("batch-%03d", f.next)
	f.submissions = append(f.submissions, batch)
	f.ids = append(f.ids, id)
	return id, nil
}

// TaskStates pops the next queued response for the batch, keeping the final
// one in place for later polls. An unknown batch id with nothing queued
// yields an empty map.
func (f *FakeFarm) TaskStates(_ context.Context, batchID string) (map[int]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[batchID] {
		return nil, ErrBatchDeleted
	}
	queue := f.states[batchID]
	if len(queue) == 0 {
		return map[int]int{}, nil
	}
	head := queue[0]
	if len(queue) > 1 {
		f.states[batchID] = queue[1:]
	}
	out := make(map[int]int, len(head))
	for frame, code := range head {
		out[frame] = code
	}
	return out, nil
}

// Remove records the deletion request and marks the batches deleted.
func (f *FakeFarm) Remove(_ context.Context, batchIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, append([]string(nil), batchIDs...))
	for _, id := range batchIDs {
		f.deleted[id] = true
	}
	return nil
}

// FailStage scripts the next submissions of a stage to return err.
func (f *FakeFarm) FailStage(stage Stage, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[stage] = err
}

// QueueStates appends a task-state response for a batch id.
func (f *FakeFarm) QueueStates(batchID string, states map[int]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[int]int, len(states))
	for frame, code := range states {
		copied[frame] = code
	}
	f.states[batchID] = append(f.states[batchID], copied)
}

// MarkDeleted makes later polls of the batch report ErrBatchDeleted.
func (f *FakeFarm) MarkDeleted(batchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[batchID] = true
}

// Submissions returns the batches submitted so far, in order.
func (f *FakeFarm) Submissions() []Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Batch(nil), f.submissions...)
}

// BatchIDs returns the assigned ids in submission order.
func (f *FakeFarm) BatchIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// Removed returns every Remove call's batch id list.
func (f *FakeFarm) Removed() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.removed))
	for i, ids := range f.removed {
		out[i] = append([]string(nil), ids...)
	}
	return out
}
