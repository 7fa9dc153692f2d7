package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// backend is the slice of Storage the cache fronts.
type backend interface {
	CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error)
	FetchTasksByRange(ctx context.Context, from, to time.Time, ownerID string) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error)
	UpdateTaskNotes(ctx context.Context, id, notes string) (domain.Task, error)
	UpdateTaskScheduledAt(ctx context.Context, id string, at time.Time) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	FetchChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error)
	CreateChecklistItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error)
	ToggleChecklistItem(ctx context.Context, id string, done bool) (domain.ChecklistItem, error)
	DeleteChecklistItem(ctx context.Context, id string) error
}

// Cache fronts a Storage with a redis read cache for range fetches.
//
// Invalidation is generation based. Every mutation that yields a task bumps
// the owner's generation counter; DeleteTask only knows the task id, so it
// bumps a global generation instead. Both generations are part of the cache
// key, which makes stale entries unreachable and lets them age out via TTL.
type Cache struct {
	backend backend
	rdb     *redis.Client
	ttl     time.Duration
	logger  *log.Logger
}

func NewCache(b backend, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	return &Cache{backend: b, rdb: rdb, ttl: ttl, logger: logger}
}

const (
	globalGenKey   = "board:gen"
	ownerGenPrefix = "board:gen:"
)

func (c *Cache) generation(ctx context.Context, key string) string {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "0"
	}
	if err != nil {
		c.logger.WithError(err).Warn("Unable to read cache generation")
		return "0"
	}
	return val
}

func (c *Cache) bump(ctx context.Context, key string) {
	if err := c.rdb.Incr(ctx, key).Err(); err != nil {
		c.logger.WithError(err).Warn("Unable to bump cache generation")
	}
}

func (c *Cache) bumpOwner(ctx context.Context, ownerID string) {
	c.bump(ctx, ownerGenPrefix+ownerID)
}

func (c *Cache) rangeKey(ctx context.Context, ownerID string, from, to time.Time) string {
	globalGen := c.generation(ctx, globalGenKey)
	ownerGen := c.generation(ctx, ownerGenPrefix+ownerID)
	return fmt.Sprintf("board:%s:%s:%s:%d:%d", ownerID, globalGen, ownerGen, from.Unix(), to.Unix())
}

// FetchTasksByRange serves from redis when a fresh entry exists, falling
// back to the backend otherwise. Cache failures degrade to backend reads.
func (c *Cache) FetchTasksByRange(ctx context.Context, from, to time.Time, ownerID string) ([]domain.Task, error) {
	key := c.rangeKey(ctx, ownerID, from, to)
	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		var tasks []domain.Task
		if err := json.Unmarshal([]byte(cached), &tasks); err == nil {
			return tasks, nil
		}
		c.logger.WithField("key", key).Warn("Discarding malformed cache entry")
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("Cache read failed, falling back to storage")
	}

	tasks, err := c.backend.FetchTasksByRange(ctx, from, to, ownerID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(tasks); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("Cache write failed")
		}
	}
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, spec domain.TaskSpec) (domain.Task, error) {
	task, err := c.backend.CreateTask(ctx, spec)
	if err != nil {
		return domain.Task{}, err
	}
	c.bumpOwner(ctx, task.OwnerID)
	return task, nil
}

func (c *Cache) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	task, err := c.backend.UpdateTaskStatus(ctx, id, status)
	if err != nil {
		return domain.Task{}, err
	}
	c.bumpOwner(ctx, task.OwnerID)
	return task, nil
}

func (c *Cache) UpdateTaskNotes(ctx context.Context, id, notes string) (domain.Task, error) {
	task, err := c.backend.UpdateTaskNotes(ctx, id, notes)
	if err != nil {
		return domain.Task{}, err
	}
	c.bumpOwner(ctx, task.OwnerID)
	return task, nil
}

func (c *Cache) UpdateTaskScheduledAt(ctx context.Context, id string, at time.Time) (domain.Task, error) {
	task, err := c.backend.UpdateTaskScheduledAt(ctx, id, at)
	if err != nil {
		return domain.Task{}, err
	}
	c.bumpOwner(ctx, task.OwnerID)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.backend.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.bump(ctx, globalGenKey)
	return nil
}

func (c *Cache) FetchChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error) {
	return c.backend.FetchChecklistItems(ctx, taskID)
}

func (c *Cache) CreateChecklistItem(ctx context.Context, taskID, content string) (domain.ChecklistItem, error) {
	return c.backend.CreateChecklistItem(ctx, taskID, content)
}

func (c *Cache) ToggleChecklistItem(ctx context.Context, id string, done bool) (domain.ChecklistItem, error) {
	return c.backend.ToggleChecklistItem(ctx, id, done)
}

func (c *Cache) DeleteChecklistItem(ctx context.Context, id string) error {
	return c.backend.DeleteChecklistItem(ctx, id)
}
