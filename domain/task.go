package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a board task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// statusCycle fixes the manual transition order.
var statusCycle = [...]Status{StatusPending, StatusInProgress, StatusDone, StatusCancelled}

// Cycle returns the next status in the fixed manual order. It is total over
// the enum and has period four.
func (s Status) Cycle() Status {
	for i, st := range statusCycle {
		if st == s {
			return statusCycle[(i+1)%len(statusCycle)]
		}
	}
	return StatusPending
}

// Valid reports whether s is one of the four enumerated values.
func (s Status) Valid() bool {
	for _, st := range statusCycle {
		if st == s {
			return true
		}
	}
	return false
}

// ParseStatus converts raw text into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Task is a schedulable unit of work owned by one person, anchored to a
// specific calendar day and time-of-day.
type Task struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Status      Status    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Day returns the calendar day component of ScheduledAt in loc.
func (t Task) Day(loc *time.Location) DayKey {
	return DayOf(t.ScheduledAt, loc)
}

// TimeOfDay returns the wall-clock component of ScheduledAt in loc.
func (t Task) TimeOfDay(loc *time.Location) TimeOfDay {
	return TimeOfDayOf(t.ScheduledAt, loc)
}

var (
	ErrEmptyTitle = errors.New("task title must not be empty")
	ErrEmptyOwner = errors.New("task owner must not be empty")
)

// TaskSpec describes a task to be created by the persistence collaborator.
type TaskSpec struct {
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// Validate rejects specs that must never reach the collaborator.
func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return ErrEmptyTitle
	}
	if s.OwnerID == "" {
		return ErrEmptyOwner
	}
	if s.ScheduledAt.IsZero() {
		return errors.New("task schedule instant must not be zero")
	}
	return nil
}
