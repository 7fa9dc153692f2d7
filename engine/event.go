package engine

import (
	"time"

	"taskboard-api/domain"
)

// EventType names a store mutation command.
type EventType string

const (
	// TaskLoaded replaces or inserts a task fetched from the collaborator.
	TaskLoaded EventType = "task-loaded"
	// TaskAppended inserts a task just created by the collaborator.
	TaskAppended EventType = "task-appended"
	// TaskMovedOptimistic replaces a task before its persistence round trip
	// has resolved.
	TaskMovedOptimistic EventType = "task-moved-optimistic"
	// TaskConfirmed replaces a task with the collaborator's authoritative copy.
	TaskConfirmed EventType = "task-confirmed"
	// TaskConfirmFailed tags a task whose confirm step failed. The optimistic
	// value stays in place.
	TaskConfirmFailed EventType = "task-confirm-failed"
	// TaskRemoved drops a task from the store.
	TaskRemoved EventType = "task-removed"
)

// Event is a named command applied to the task store. Every mutation of the
// shared collection goes through one, so the store's transition history stays
// inspectable.
type Event struct {
	Type   EventType
	Task   domain.Task // payload for loaded/appended/moved/confirmed
	TaskID string      // payload for confirm-failed/removed
	At     time.Time
}
