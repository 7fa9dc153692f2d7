package engine

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Duplicator clones an existing task's content onto other days. Only title
// and description are copied; the clone gets a fresh identity and starts the
// status cycle from scratch.
type Duplicator struct {
	store   *Store
	persist Persistence
	loc     *time.Location
	logger  *log.Logger
}

// Duplicate creates an independent copy of the source task at the given day
// and time. The source task is untouched.
func (d *Duplicator) Duplicate(ctx context.Context, source domain.Task, day domain.DayKey, timeOfDay string) (domain.Task, error) {
	tod, err := domain.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return domain.Task{}, err
	}
	spec := domain.TaskSpec{
		OwnerID:     source.OwnerID,
		Title:       source.Title,
		Description: source.Description,
		ScheduledAt: domain.Combine(day, tod, d.loc),
	}
	task, err := d.persist.CreateTask(ctx, spec)
	if err != nil {
		return domain.Task{}, err
	}
	if err := d.store.Apply(Event{Type: TaskAppended, Task: task}); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// DuplicateRange clones the source once per day in [from, to], taking the
// template from the source task instead of user input. Range semantics match
// Scheduler.CreateForRange, including bound swapping and stop-on-first-failure.
func (d *Duplicator) DuplicateRange(ctx context.Context, source domain.Task, from, to domain.DayKey, timeOfDay string) ([]domain.Task, error) {
	sched := Scheduler{store: d.store, persist: d.persist, loc: d.loc, logger: d.logger}
	tpl := Template{Title: source.Title, Description: source.Description, Time: timeOfDay}
	return sched.CreateForRange(ctx, source.OwnerID, tpl, from, to)
}
