package engine

import (
	"context"
	"errors"

	"taskboard-api/domain"
)

// ErrTaskNotLoaded is returned when an operation targets a task that is not
// in the shared store.
var ErrTaskNotLoaded = errors.New("task is not loaded")

// StatusMachine drives manual and derived status transitions.
type StatusMachine struct {
	store   *Store
	persist Persistence
}

// Toggle advances the task's status one step along the manual cycle and
// persists the result. The returned task is authoritative and replaces the
// store's copy.
func (m *StatusMachine) Toggle(ctx context.Context, taskID string) (domain.Task, error) {
	ent, ok := m.store.Get(taskID)
	if !ok {
		return domain.Task{}, ErrTaskNotLoaded
	}
	next := ent.Task.Status.Cycle()
	updated, err := m.persist.UpdateTaskStatus(ctx, taskID, next)
	if err != nil {
		return domain.Task{}, err
	}
	if err := m.store.Apply(Event{Type: TaskConfirmed, Task: updated}); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// MarkDoneIfNeeded moves the task straight to done, bypassing the manual
// cycle, including from cancelled. A task already done is left alone. It is
// triggered by the checklist completion signal flipping to true.
func (m *StatusMachine) MarkDoneIfNeeded(ctx context.Context, taskID string) (domain.Task, error) {
	ent, ok := m.store.Get(taskID)
	if !ok {
		return domain.Task{}, ErrTaskNotLoaded
	}
	if ent.Task.Status == domain.StatusDone {
		return ent.Task, nil
	}
	updated, err := m.persist.UpdateTaskStatus(ctx, taskID, domain.StatusDone)
	if err != nil {
		return domain.Task{}, err
	}
	if err := m.store.Apply(Event{Type: TaskConfirmed, Task: updated}); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}
