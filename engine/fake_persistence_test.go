package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taskboard-api/domain"
)

// fakePersistence is an in-memory stand-in for the persistence collaborator
// with per-operation failure injection.
type fakePersistence struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
	items map[string]domain.ChecklistItem
	seq   int

	createCalls int
	statusCalls int
	// failCreateAt fails the n-th CreateTask call (1-based); zero never fails.
	failCreateAt     int
	updateStatusErr  error
	updateNotesErr   error
	scheduledErr     error
	fetchErr         error
	deleteErrs       map[string]error
	toggleErr        error
	deleteItemErr    error
	createItemErr    error
	fetchItemsErr    error
	scheduledAtHook  func()
	statusUpdates    []domain.Status
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		tasks: map[string]domain.Task{},
		items: map[string]domain.ChecklistItem{},
	}
}

func (f *fakePersistence) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreateAt > 0 && f.createCalls >= f.failCreateAt {
		return domain.Task{}, errors.New("create rejected")
	}
	if err := spec.Validate(); err != nil {
		return domain.Task{}, err
	}
	f.seq++
	task := domain.Task{
		ID:          fmt.Sprintf("task-%d", f.seq),
		OwnerID:     spec.OwnerID,
		Title:       spec.Title,
		Description: spec.Description,
		ScheduledAt: spec.ScheduledAt,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakePersistence) FetchTasksByRange(ctx context.Context, from, to time.Time, ownerID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		if t.ScheduledAt.Before(from) || !t.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakePersistence) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.updateStatusErr != nil {
		return domain.Task{}, f.updateStatusErr
	}
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.Status = status
	f.tasks[id] = task
	f.statusUpdates = append(f.statusUpdates, status)
	return task, nil
}

func (f *fakePersistence) UpdateTaskNotes(ctx context.Context, id, notes string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateNotesErr != nil {
		return domain.Task{}, f.updateNotesErr
	}
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.Notes = notes
	f.tasks[id] = task
	return task, nil
}

func (f *fakePersistence) UpdateTaskScheduledAt(ctx context.Context, id string, at time.Time) (domain.Task, error) {
	if f.scheduledAtHook != nil {
		f.scheduledAtHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduledErr != nil {
		return domain.Task{}, f.scheduledErr
	}
	task, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s not found", id)
	}
	task.ScheduledAt = at
	f.tasks[id] = task
	return task, nil
}

func (f *fakePersistence) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErrs[id]; err != nil {
		return err
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakePersistence) FetchChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchItemsErr != nil {
		return nil, f.fetchItemsErr
	}
	out := []domain.ChecklistItem{}
	for _, it := range f.items {
		if it.TaskID == taskID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakePersistence) CreateChecklistItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createItemErr != nil {
		return domain.ChecklistItem{}, f.createItemErr
	}
	f.seq++
	item := domain.ChecklistItem{
		ID:        fmt.Sprintf("item-%d", f.seq),
		TaskID:    taskID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.items[item.ID] = item
	return item, nil
}

func (f *fakePersistence) ToggleChecklistItem(ctx context.Context, id string, done bool) (domain.ChecklistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return domain.ChecklistItem{}, f.toggleErr
	}
	item, ok := f.items[id]
	if !ok {
		return domain.ChecklistItem{}, fmt.Errorf("checklist item %s not found", id)
	}
	item.Done = done
	f.items[id] = item
	return item, nil
}

func (f *fakePersistence) DeleteChecklistItem(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteItemErr != nil {
		return f.deleteItemErr
	}
	delete(f.items, id)
	return nil
}
