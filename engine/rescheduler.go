package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Rescheduler relocates tasks between calendar days while preserving their
// time-of-day. The shared store is mutated before the persistence round trip
// resolves, so the board view reflects the move immediately.
type Rescheduler struct {
	store   *Store
	persist Persistence
	loc     *time.Location
	logger  *log.Logger
}

// MoveToDay applies the move optimistically, then confirms it against the
// collaborator. On success the authoritative task replaces the optimistic
// value. On failure the optimistic value stays and the entry is tagged
// failed; no compensating revert is attempted.
func (r *Rescheduler) MoveToDay(ctx context.Context, taskID string, targetDay domain.DayKey) (domain.Task, error) {
	ent, ok := r.store.Get(taskID)
	if !ok {
		return domain.Task{}, ErrTaskNotLoaded
	}

	moved := ent.Task
	moved.ScheduledAt = domain.Combine(targetDay, moved.TimeOfDay(r.loc), r.loc)

	if err := r.store.Apply(Event{Type: TaskMovedOptimistic, Task: moved}); err != nil {
		return domain.Task{}, err
	}

	updated, err := r.persist.UpdateTaskScheduledAt(ctx, taskID, moved.ScheduledAt)
	if err != nil {
		if applyErr := r.store.Apply(Event{Type: TaskConfirmFailed, TaskID: taskID}); applyErr != nil {
			r.logger.WithError(applyErr).WithField("task", taskID).Error("could not tag unconfirmed move")
		}
		r.logger.WithError(err).WithFields(log.Fields{"task": taskID, "day": targetDay}).Error("reschedule confirm failed")
		return moved, err
	}

	if err := r.store.Apply(Event{Type: TaskConfirmed, Task: updated}); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}
