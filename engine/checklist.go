package engine

import (
	"context"
	"strings"
	"sync"

	"taskboard-api/domain"
)

// CompletionFunc is invoked when a task's completion signal flips.
type CompletionFunc func(ctx context.Context, taskID string, complete bool)

// ChecklistEngine manages per-task checklists and raises an edge-triggered
// completion signal. The previous signal value is stored explicitly and
// compared on every mutation, so the callback fires only on flips, never on
// every change.
type ChecklistEngine struct {
	persist Persistence

	mu       sync.Mutex
	items    map[string][]domain.ChecklistItem
	prev     map[string]bool
	onChange CompletionFunc
}

// NewChecklistEngine creates a checklist engine backed by the collaborator.
func NewChecklistEngine(persist Persistence) *ChecklistEngine {
	return &ChecklistEngine{
		persist: persist,
		items:   make(map[string][]domain.ChecklistItem),
		prev:    make(map[string]bool),
	}
}

// OnCompletionChange registers the callback fired when a task's completion
// signal flips in either direction.
func (c *ChecklistEngine) OnCompletionChange(fn CompletionFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Load fetches the task's items and seeds the previous signal value. Loading
// never fires the callback; only mutations establish an edge.
func (c *ChecklistEngine) Load(ctx context.Context, taskID string) ([]domain.ChecklistItem, error) {
	items, err := c.persist.FetchChecklistItems(ctx, taskID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.items[taskID] = items
	c.prev[taskID] = domain.CompletionSignal(items)
	c.mu.Unlock()
	return items, nil
}

// Items returns the currently loaded items of the task.
func (c *ChecklistEngine) Items(taskID string) []domain.ChecklistItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := c.items[taskID]
	out := make([]domain.ChecklistItem, len(items))
	copy(out, items)
	return out
}

// Item looks up one loaded item by id.
func (c *ChecklistEngine) Item(taskID, itemID string) (domain.ChecklistItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.items[taskID] {
		if it.ID == itemID {
			return it, true
		}
	}
	return domain.ChecklistItem{}, false
}

// Complete reports the task's current completion signal.
func (c *ChecklistEngine) Complete(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CompletionSignal(c.items[taskID])
}

// AddItem appends a new item to the task's checklist.
func (c *ChecklistEngine) AddItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ChecklistItem{}, domain.ErrEmptyContent
	}
	item, err := c.persist.CreateChecklistItem(ctx, taskID, content)
	if err != nil {
		return domain.ChecklistItem{}, err
	}

	c.mu.Lock()
	c.items[taskID] = append(c.items[taskID], item)
	fire, complete, cb := c.recomputeLocked(taskID)
	c.mu.Unlock()

	if fire && cb != nil {
		cb(ctx, taskID, complete)
	}
	return item, nil
}

// ToggleItem flips the item's done flag.
func (c *ChecklistEngine) ToggleItem(ctx context.Context, item domain.ChecklistItem) (domain.ChecklistItem, error) {
	updated, err := c.persist.ToggleChecklistItem(ctx, item.ID, !item.Done)
	if err != nil {
		return domain.ChecklistItem{}, err
	}

	c.mu.Lock()
	for i, it := range c.items[item.TaskID] {
		if it.ID == updated.ID {
			c.items[item.TaskID][i] = updated
			break
		}
	}
	fire, complete, cb := c.recomputeLocked(item.TaskID)
	c.mu.Unlock()

	if fire && cb != nil {
		cb(ctx, item.TaskID, complete)
	}
	return updated, nil
}

// DeleteItem removes the item. Deleting the last open item flips the signal
// to true exactly like toggling it would; emptying the list forces it false.
func (c *ChecklistEngine) DeleteItem(ctx context.Context, item domain.ChecklistItem) error {
	if err := c.persist.DeleteChecklistItem(ctx, item.ID); err != nil {
		return err
	}

	c.mu.Lock()
	items := c.items[item.TaskID]
	for i, it := range items {
		if it.ID == item.ID {
			c.items[item.TaskID] = append(items[:i], items[i+1:]...)
			break
		}
	}
	fire, complete, cb := c.recomputeLocked(item.TaskID)
	c.mu.Unlock()

	if fire && cb != nil {
		cb(ctx, item.TaskID, complete)
	}
	return nil
}

// Forget drops the cached checklist state of a deleted task.
func (c *ChecklistEngine) Forget(taskID string) {
	c.mu.Lock()
	delete(c.items, taskID)
	delete(c.prev, taskID)
	c.mu.Unlock()
}

// recomputeLocked compares the current signal against the stored previous
// value. Unloaded checklists start from a false baseline.
func (c *ChecklistEngine) recomputeLocked(taskID string) (fire bool, complete bool, cb CompletionFunc) {
	complete = domain.CompletionSignal(c.items[taskID])
	prev := c.prev[taskID]
	c.prev[taskID] = complete
	return complete != prev, complete, c.onChange
}
