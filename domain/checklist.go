package domain

import (
	"errors"
	"time"
)

var ErrEmptyContent = errors.New("checklist item content must not be empty")

// ChecklistItem is an atomic, independently completable sub-step belonging to
// exactly one task.
type ChecklistItem struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Content   string    `json:"content"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"createdAt"`
}

// CompletionSignal reports whether the checklist is non-empty with every item
// done. It is derived from the current item set and never stored; an empty
// set is never complete.
func CompletionSignal(items []ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Done {
			return false
		}
	}
	return true
}
