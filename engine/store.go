package engine

import (
	"fmt"
	"sync"
	"time"

	"taskboard-api/domain"
)

// Confirmation tags a store entry with the state of its latest persistence
// round trip.
type Confirmation string

const (
	Confirmed           Confirmation = "confirmed"
	PendingConfirmation Confirmation = "pending-confirmation"
	ConfirmFailed       Confirmation = "failed"
)

// Entry is one task in the store together with its confirmation tag.
type Entry struct {
	Task         domain.Task
	Confirmation Confirmation
}

// Store is the single shared collection of currently loaded tasks. Every
// component reads and mutates through it; mutation happens only via Apply.
type Store struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
	history []Event
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Apply executes one named mutation command against the store.
func (s *Store) Apply(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	switch ev.Type {
	case TaskLoaded, TaskAppended, TaskConfirmed:
		if ev.Task.ID == "" {
			return fmt.Errorf("%s event without task id", ev.Type)
		}
		s.upsertLocked(ev.Task, Confirmed)
	case TaskMovedOptimistic:
		ent, ok := s.entries[ev.Task.ID]
		if !ok {
			return fmt.Errorf("task %s is not loaded", ev.Task.ID)
		}
		ent.Task = ev.Task
		ent.Confirmation = PendingConfirmation
	case TaskConfirmFailed:
		ent, ok := s.entries[ev.TaskID]
		if !ok {
			return fmt.Errorf("task %s is not loaded", ev.TaskID)
		}
		ent.Confirmation = ConfirmFailed
	case TaskRemoved:
		if _, ok := s.entries[ev.TaskID]; !ok {
			return fmt.Errorf("task %s is not loaded", ev.TaskID)
		}
		delete(s.entries, ev.TaskID)
		for i, id := range s.order {
			if id == ev.TaskID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	default:
		return fmt.Errorf("unknown store event %s", ev.Type)
	}

	s.history = append(s.history, ev)
	return nil
}

func (s *Store) upsertLocked(task domain.Task, c Confirmation) {
	if ent, ok := s.entries[task.ID]; ok {
		ent.Task = task
		ent.Confirmation = c
		return
	}
	s.entries[task.ID] = &Entry{Task: task, Confirmation: c}
	s.order = append(s.order, task.ID)
}

// Tasks returns the stored tasks in insertion order.
func (s *Store) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.entries[id].Task)
	}
	return tasks
}

// Get returns the entry for the given task id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

// Len is the number of loaded tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// History returns a copy of every event applied so far, in order.
func (s *Store) History() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}
