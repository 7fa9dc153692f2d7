package domain

import "github.com/bytedance/sonic"

const (
	EntityTask          = "task"
	EntityChecklistItem = "checklist-item"
)

const (
	TaskCreated          = "task-created"
	TaskStatusSet        = "task-status-set"
	TaskNotesSet         = "task-notes-set"
	TaskRescheduled      = "task-rescheduled"
	TaskDeleted          = "task-deleted"
	ChecklistItemAdded   = "checklist-item-added"
	ChecklistItemToggled = "checklist-item-toggled"
	ChecklistItemDeleted = "checklist-item-deleted"
)

// BoardEvent notifies downstream consumers of a confirmed board mutation.
// Delivery runs through the board event queue; the notification service is an
// external collaborator.
type BoardEvent struct {
	ID         string                 `json:"id"`
	OwnerID    string                 `json:"ownerId"`
	EntityID   string                 `json:"entityId"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}
