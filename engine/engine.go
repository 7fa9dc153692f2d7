package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Persistence is the abstract collaborator the engine writes through. Every
// call is expected to be awaited before treating the operation as durable;
// the Rescheduler is the one component that deliberately mutates the store
// first.
type Persistence interface {
	CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error)
	FetchTasksByRange(ctx context.Context, from, to time.Time, ownerID string) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error)
	UpdateTaskNotes(ctx context.Context, id, notes string) (domain.Task, error)
	UpdateTaskScheduledAt(ctx context.Context, id string, at time.Time) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	FetchChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error)
	CreateChecklistItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error)
	ToggleChecklistItem(ctx context.Context, id string, done bool) (domain.ChecklistItem, error)
	DeleteChecklistItem(ctx context.Context, id string) error
}

// Engine bundles the board services around one shared task store.
type Engine struct {
	store   *Store
	persist Persistence
	loc     *time.Location
	logger  *log.Logger

	Scheduler   *Scheduler
	Duplicator  *Duplicator
	Rescheduler *Rescheduler
	Status      *StatusMachine
	Checklist   *ChecklistEngine
}

// New wires the board services around a fresh store. The checklist engine's
// completion signal drives the derived done transition.
func New(persist Persistence, loc *time.Location, logger *log.Logger) *Engine {
	if persist == nil {
		panic("engine: persistence collaborator is required")
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	store := NewStore()
	e := &Engine{
		store:   store,
		persist: persist,
		loc:     loc,
		logger:  logger,
	}
	e.Scheduler = &Scheduler{store: store, persist: persist, loc: loc, logger: logger}
	e.Duplicator = &Duplicator{store: store, persist: persist, loc: loc, logger: logger}
	e.Rescheduler = &Rescheduler{store: store, persist: persist, loc: loc, logger: logger}
	e.Status = &StatusMachine{store: store, persist: persist}
	e.Checklist = NewChecklistEngine(persist)
	e.Checklist.OnCompletionChange(func(ctx context.Context, taskID string, complete bool) {
		if !complete {
			return
		}
		if _, err := e.Status.MarkDoneIfNeeded(ctx, taskID); err != nil {
			logger.WithError(err).WithField("task", taskID).Error("derived done transition failed")
		}
	})
	return e
}

// Store exposes the shared task store.
func (e *Engine) Store() *Store { return e.store }

// Location is the board's calendar timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// Task returns the store's current copy of the task.
func (e *Engine) Task(id string) (domain.Task, bool) {
	ent, ok := e.store.Get(id)
	if !ok {
		return domain.Task{}, false
	}
	return ent.Task, true
}

// LoadRange fetches the owner's tasks for the given days from the
// collaborator into the store. Already loaded tasks are replaced by the
// fetched copies.
func (e *Engine) LoadRange(ctx context.Context, ownerID string, r domain.DayRange) ([]domain.Task, error) {
	from := r.From.Time(e.loc)
	// half-open upper bound covering the whole last day
	to := r.To.AddDays(1).Time(e.loc)
	tasks, err := e.persist.FetchTasksByRange(ctx, from, to, ownerID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := e.store.Apply(Event{Type: TaskLoaded, Task: t}); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Board projects the store's current contents onto the requested range.
func (e *Engine) Board(r domain.DayRange) map[domain.DayKey][]domain.Task {
	return Project(e.store.Tasks(), r, e.loc)
}

// UpdateNotes persists a new notes value and replaces the store's copy with
// the authoritative result.
func (e *Engine) UpdateNotes(ctx context.Context, id, notes string) (domain.Task, error) {
	updated, err := e.persist.UpdateTaskNotes(ctx, id, notes)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.store.Apply(Event{Type: TaskConfirmed, Task: updated}); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

// DeleteTask removes the task from the collaborator and the store.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if err := e.persist.DeleteTask(ctx, id); err != nil {
		return err
	}
	if _, ok := e.store.Get(id); ok {
		if err := e.store.Apply(Event{Type: TaskRemoved, TaskID: id}); err != nil {
			return err
		}
	}
	e.Checklist.Forget(id)
	return nil
}

// ClearDay deletes every loaded task of the owner on the given day. Deletion
// is best effort: each task is attempted and failures are joined into the
// returned error, alongside the ids that were deleted.
func (e *Engine) ClearDay(ctx context.Context, ownerID string, day domain.DayKey) ([]string, error) {
	deleted := make([]string, 0)
	var errs []error
	for _, t := range e.store.Tasks() {
		if t.OwnerID != ownerID || t.Day(e.loc) != day {
			continue
		}
		if err := e.DeleteTask(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete task %s: %w", t.ID, err))
			continue
		}
		deleted = append(deleted, t.ID)
	}
	return deleted, errors.Join(errs...)
}
