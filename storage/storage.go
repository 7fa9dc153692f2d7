package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"

	"taskboard-api/domain"
)

var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrChecklistItemNotFound = errors.New("checklist item not found")
)

// Storage persists board state in Azure Table Storage and publishes board
// events to an Azure Storage queue.
type Storage struct {
	taskTable      *aztables.Client
	checklistTable *aztables.Client
	eventQueue     *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, checklistTable, eventQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	tt := svc.NewClient(tasksTable)
	ct := svc.NewClient(checklistTable)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: tt, checklistTable: ct, eventQueue: eq}, nil
}

// taskEntity is the table row for a task. PartitionKey is the owner,
// RowKey the task id. ScheduledAt keeps the RFC3339 instant with its offset
// so the day + time-of-day identity survives a round trip; ScheduledSort is
// the same instant as zero-padded unix seconds, used for lexical range
// filters (Azure Tables has no native int64 comparison on JSON numbers).
type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Notes         string `json:"Notes"`
	Status        string `json:"Status"`
	ScheduledAt   string `json:"ScheduledAt"`
	ScheduledSort string `json:"ScheduledSort"`
	CreatedAt     string `json:"CreatedAt"`
}

type checklistEntity struct {
	aztables.Entity
	Content   string `json:"Content"`
	Done      bool   `json:"Done"`
	CreatedAt string `json:"CreatedAt"`
}

func scheduledSortKey(at time.Time) string {
	return fmt.Sprintf("%019d", at.Unix())
}

func encodeTask(task domain.Task) taskEntity {
	return taskEntity{
		Entity:        aztables.Entity{PartitionKey: task.OwnerID, RowKey: task.ID},
		Title:         task.Title,
		Description:   task.Description,
		Notes:         task.Notes,
		Status:        string(task.Status),
		ScheduledAt:   task.ScheduledAt.Format(time.RFC3339),
		ScheduledSort: scheduledSortKey(task.ScheduledAt),
		CreatedAt:     task.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func decodeTask(ent taskEntity) (domain.Task, error) {
	scheduledAt, err := time.Parse(time.RFC3339, ent.ScheduledAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s has malformed ScheduledAt: %w", ent.RowKey, err)
	}
	createdAt, err := time.Parse(time.RFC3339, ent.CreatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s has malformed CreatedAt: %w", ent.RowKey, err)
	}
	status, err := domain.ParseStatus(ent.Status)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          ent.RowKey,
		OwnerID:     ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Notes:       ent.Notes,
		Status:      status,
		ScheduledAt: scheduledAt,
		CreatedAt:   createdAt,
	}, nil
}

func escapeKey(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

// CreateTask stores a new pending task and returns it with its assigned id.
func (s *Storage) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	if err := spec.Validate(); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          uuid.NewString(),
		OwnerID:     spec.OwnerID,
		Title:       spec.Title,
		Description: spec.Description,
		ScheduledAt: spec.ScheduledAt,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(encodeTask(task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func rangeFilter(ownerID string, from, to time.Time) string {
	return fmt.Sprintf("PartitionKey eq '%s' and ScheduledSort ge '%s' and ScheduledSort lt '%s'",
		escapeKey(ownerID), scheduledSortKey(from), scheduledSortKey(to))
}

// FetchTasksByRange retrieves the owner's tasks scheduled in [from, to).
func (s *Storage) FetchTasksByRange(ctx context.Context, from, to time.Time, ownerID string) ([]domain.Task, error) {
	filter := rangeFilter(ownerID, from, to)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			task, err := decodeTask(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// getTaskEntity locates a task row by id. The contract identifies tasks by
// id alone, so the lookup scans across partitions.
func (s *Storage) getTaskEntity(ctx context.Context, id string) (taskEntity, error) {
	filter := fmt.Sprintf("RowKey eq '%s'", escapeKey(id))
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return taskEntity{}, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return taskEntity{}, err
			}
			return ent, nil
		}
	}
	return taskEntity{}, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
}

func (s *Storage) replaceTaskEntity(ctx context.Context, ent taskEntity) (domain.Task, error) {
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Task{}, err
	}
	return decodeTask(ent)
}

// UpdateTaskStatus persists a new status and returns the authoritative task.
func (s *Storage) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("unknown status %q", status)
	}
	ent, err := s.getTaskEntity(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	ent.Status = string(status)
	return s.replaceTaskEntity(ctx, ent)
}

// UpdateTaskNotes persists a new notes value and returns the authoritative task.
func (s *Storage) UpdateTaskNotes(ctx context.Context, id, notes string) (domain.Task, error) {
	ent, err := s.getTaskEntity(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	ent.Notes = notes
	return s.replaceTaskEntity(ctx, ent)
}

// UpdateTaskScheduledAt persists a new schedule instant and returns the
// authoritative task.
func (s *Storage) UpdateTaskScheduledAt(ctx context.Context, id string, at time.Time) (domain.Task, error) {
	ent, err := s.getTaskEntity(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	ent.ScheduledAt = at.Format(time.RFC3339)
	ent.ScheduledSort = scheduledSortKey(at)
	return s.replaceTaskEntity(ctx, ent)
}

// DeleteTask removes the task row and cascades over its checklist rows.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	ent, err := s.getTaskEntity(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil {
		return err
	}

	items, err := s.FetchChecklistItems(ctx, id)
	if err != nil {
		return fmt.Errorf("cascade checklist fetch for task %s: %w", id, err)
	}
	var errs []error
	for _, item := range items {
		if _, err := s.checklistTable.DeleteEntity(ctx, id, item.ID, nil); err != nil {
			errs = append(errs, fmt.Errorf("cascade delete item %s: %w", item.ID, err))
		}
	}
	return errors.Join(errs...)
}

func decodeChecklistItem(ent checklistEntity) (domain.ChecklistItem, error) {
	createdAt, err := time.Parse(time.RFC3339, ent.CreatedAt)
	if err != nil {
		return domain.ChecklistItem{}, fmt.Errorf("checklist item %s has malformed CreatedAt: %w", ent.RowKey, err)
	}
	return domain.ChecklistItem{
		ID:        ent.RowKey,
		TaskID:    ent.PartitionKey,
		Content:   ent.Content,
		Done:      ent.Done,
		CreatedAt: createdAt,
	}, nil
}

// FetchChecklistItems retrieves all items of the task.
func (s *Storage) FetchChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", escapeKey(taskID))
	pager := s.checklistTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.ChecklistItem{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent checklistEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			item, err := decodeChecklistItem(ent)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// CreateChecklistItem stores a new open item for the task.
func (s *Storage) CreateChecklistItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error) {
	if strings.TrimSpace(content) == "" {
		return domain.ChecklistItem{}, domain.ErrEmptyContent
	}
	item := domain.ChecklistItem{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Content:   content,
		Done:      false,
		CreatedAt: time.Now().UTC(),
	}
	ent := checklistEntity{
		Entity:    aztables.Entity{PartitionKey: item.TaskID, RowKey: item.ID},
		Content:   item.Content,
		Done:      item.Done,
		CreatedAt: item.CreatedAt.Format(time.RFC3339),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if _, err := s.checklistTable.AddEntity(ctx, data, nil); err != nil {
		return domain.ChecklistItem{}, err
	}
	return item, nil
}

func (s *Storage) getChecklistEntity(ctx context.Context, id string) (checklistEntity, error) {
	filter := fmt.Sprintf("RowKey eq '%s'", escapeKey(id))
	pager := s.checklistTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return checklistEntity{}, err
		}
		for _, e := range resp.Entities {
			var ent checklistEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return checklistEntity{}, err
			}
			return ent, nil
		}
	}
	return checklistEntity{}, fmt.Errorf("checklist item %s: %w", id, ErrChecklistItemNotFound)
}

// ToggleChecklistItem persists the item's done flag and returns the
// authoritative item.
func (s *Storage) ToggleChecklistItem(ctx context.Context, id string, done bool) (domain.ChecklistItem, error) {
	ent, err := s.getChecklistEntity(ctx, id)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	ent.Done = done
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if _, err := s.checklistTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.ChecklistItem{}, err
	}
	return decodeChecklistItem(ent)
}

// DeleteChecklistItem removes one item.
func (s *Storage) DeleteChecklistItem(ctx context.Context, id string) error {
	ent, err := s.getChecklistEntity(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.checklistTable.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil)
	return err
}

// PublishBoardEvents sends confirmed board mutations to the event queue for
// the notification service.
func (s *Storage) PublishBoardEvents(ctx context.Context, ownerID string, events []domain.BoardEvent) error {
	for _, ev := range events {
		ev.OwnerID = ownerID
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
