package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Template is the per-day task blueprint for a range creation.
type Template struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Time        string `json:"time"`
}

// Scheduler creates one task per day across an inclusive date range.
type Scheduler struct {
	store   *Store
	persist Persistence
	loc     *time.Location
	logger  *log.Logger
}

// CreateForRange creates one task per day in [from, to], in ascending day
// order. Inverted bounds are swapped before processing. Creation is
// sequential and stops on the first collaborator failure; tasks created
// before the failure are kept in the store and returned alongside the error.
func (s *Scheduler) CreateForRange(ctx context.Context, ownerID string, tpl Template, from, to domain.DayKey) ([]domain.Task, error) {
	if strings.TrimSpace(tpl.Title) == "" {
		return nil, domain.ErrEmptyTitle
	}
	tod, err := domain.ParseTimeOfDay(tpl.Time)
	if err != nil {
		return nil, err
	}

	r := domain.NewDayRange(from, to)
	created := make([]domain.Task, 0, r.Len())
	for _, day := range r.Days() {
		spec := domain.TaskSpec{
			OwnerID:     ownerID,
			Title:       tpl.Title,
			Description: tpl.Description,
			ScheduledAt: domain.Combine(day, tod, s.loc),
		}
		task, err := s.persist.CreateTask(ctx, spec)
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{"owner": ownerID, "day": day, "created": len(created)}).Error("range creation stopped")
			return created, fmt.Errorf("create task for %s: %w", day, err)
		}
		if err := s.store.Apply(Event{Type: TaskAppended, Task: task}); err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}
