package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

const (
	cacheVersion = 1
	// generationTTL outlives any snapshot TTL so a fill never sees a reset generation.
	generationTTL = 24 * time.Hour
)

var errStaleFill = errors.New("board changed during fill")

// Cache wraps a Backend with Redis-backed caching of board snapshots. Reads of
// columns and tasks are served from Redis until a mutation on the board evicts them.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

type cachedColumns struct {
	Version  int             `json:"version"`
	CachedAt time.Time       `json:"cachedAt"`
	Columns  []domain.Column `json:"columns"`
}

type cachedTasks struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	var cached cachedColumns
	if c.load(ctx, columnsCacheKey(boardID), &cached) && cached.Version == cacheVersion {
		return cached.Columns, nil
	}
	gen, fillable := c.generation(ctx, boardID)
	cols, err := c.Backend.Columns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if fillable {
		c.store(ctx, boardID, gen, columnsCacheKey(boardID), cachedColumns{Version: cacheVersion, CachedAt: time.Now().UTC(), Columns: cols})
	}
	return cols, nil
}

func (c *Cache) Tasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var cached cachedTasks
	if c.load(ctx, tasksCacheKey(boardID), &cached) && cached.Version == cacheVersion {
		return cached.Tasks, nil
	}
	gen, fillable := c.generation(ctx, boardID)
	tasks, err := c.Backend.Tasks(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if fillable {
		c.store(ctx, boardID, gen, tasksCacheKey(boardID), cachedTasks{Version: cacheVersion, CachedAt: time.Now().UTC(), Tasks: tasks})
	}
	return tasks, nil
}

func (c *Cache) DeleteBoard(ctx context.Context, id string) error {
	if err := c.Backend.DeleteBoard(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

func (c *Cache) CreateColumn(ctx context.Context, col domain.Column) (domain.Column, error) {
	col, err := c.Backend.CreateColumn(ctx, col)
	if err != nil {
		return domain.Column{}, err
	}
	c.evict(ctx, col.BoardID)
	return col, nil
}

func (c *Cache) UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) (domain.Column, error) {
	col, err := c.Backend.UpdateColumnTitle(ctx, boardID, columnID, title)
	if err != nil {
		return domain.Column{}, err
	}
	c.evict(ctx, boardID)
	return col, nil
}

func (c *Cache) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	if err := c.Backend.DeleteColumn(ctx, boardID, columnID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t, err := c.Backend.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.BoardID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, boardID, taskID string, changes domain.TaskChanges) (domain.Task, error) {
	t, err := c.Backend.UpdateTask(ctx, boardID, taskID, changes)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, boardID)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, boardID, taskID string) error {
	if err := c.Backend.DeleteTask(ctx, boardID, taskID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) DeleteBoardContents(ctx context.Context, boardID string) (int, error) {
	n, err := c.Backend.DeleteBoardContents(ctx, boardID)
	c.evict(ctx, boardID)
	return n, err
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// generation returns the board's eviction counter as read before a backend
// fetch. fillable is false when Redis cannot tell.
func (c *Cache) generation(ctx context.Context, boardID string) (gen string, fillable bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(boardID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", true
	case err != nil:
		return "", false
	}
	return gen, true
}

// store writes v only while the board generation still equals gen, so a
// fetch that raced an eviction never repopulates the cache with old data.
func (c *Cache) store(ctx context.Context, boardID, gen, key string, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	genKey := generationKey(boardID)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	genKey := generationKey(boardID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, columnsCacheKey(boardID), tasksCacheKey(boardID))
		return nil
	})
}

func columnsCacheKey(boardID string) string {
	return "columns:" + boardID
}

func tasksCacheKey(boardID string) string {
	return "tasks:" + boardID
}

func generationKey(boardID string) string {
	return "generation:" + boardID
}
