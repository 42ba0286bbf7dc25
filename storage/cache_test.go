package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type countingBackend struct {
	*Memory
	columnCalls int
	taskCalls   int
	failUpdates bool
}

func (c *countingBackend) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	c.columnCalls++
	return c.Memory.Columns(ctx, boardID)
}

func (c *countingBackend) Tasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	c.taskCalls++
	return c.Memory.Tasks(ctx, boardID)
}

func (c *countingBackend) UpdateColumnTitle(ctx context.Context, boardID, columnID, title string) (domain.Column, error) {
	if c.failUpdates {
		return domain.Column{}, errors.New("boom")
	}
	return c.Memory.UpdateColumnTitle(ctx, boardID, columnID, title)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheColumnsMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory()}
	seedBoard(t, base.Memory, "b1")
	_, _ = base.Memory.CreateColumn(ctx, domain.Column{ID: "c1", BoardID: "b1", Title: "Todo"})

	cache := NewCache(base, client, time.Minute)
	cols, err := cache.Columns(ctx, "b1")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 1 || cols[0].Title != "Todo" {
		t.Fatalf("unexpected columns %+v", cols)
	}
	if ttl := mr.TTL(columnsCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
	cached, err := cache.Columns(ctx, "b1")
	if err != nil {
		t.Fatalf("cached columns: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != "c1" || !cached[0].CreatedAt.Equal(cols[0].CreatedAt) {
		t.Fatalf("unexpected cached columns %+v", cached)
	}
	if base.columnCalls != 1 {
		t.Fatalf("expected cached fetch to avoid backend, calls=%d", base.columnCalls)
	}
}

func TestCacheMutationEvictsBoardKeys(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory()}
	seedBoard(t, base.Memory, "b1")
	cache := NewCache(base, client, time.Minute)

	if _, err := cache.Tasks(ctx, "b1"); err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if _, err := cache.Columns(ctx, "b1"); err != nil {
		t.Fatalf("columns: %v", err)
	}
	if !mr.Exists(tasksCacheKey("b1")) || !mr.Exists(columnsCacheKey("b1")) {
		t.Fatalf("expected both keys cached")
	}

	if _, err := cache.CreateColumn(ctx, domain.Column{ID: "c1", BoardID: "b1", Title: "Todo"}); err != nil {
		t.Fatalf("create column: %v", err)
	}
	if mr.Exists(tasksCacheKey("b1")) || mr.Exists(columnsCacheKey("b1")) {
		t.Fatalf("mutation should evict board keys")
	}
	cols, _ := cache.Columns(ctx, "b1")
	if len(cols) != 1 || base.columnCalls != 2 {
		t.Fatalf("expected refetch after eviction, cols=%d calls=%d", len(cols), base.columnCalls)
	}
}

func TestCacheFailedMutationPreservesKeys(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory(), failUpdates: true}
	cache := NewCache(base, client, time.Minute)
	if err := client.Set(ctx, columnsCacheKey("b1"), `{"version":1,"columns":[]}`, time.Hour).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.UpdateColumnTitle(ctx, "b1", "c1", "x"); err == nil {
		t.Fatalf("expected update error")
	}
	if !mr.Exists(columnsCacheKey("b1")) {
		t.Fatalf("cache should remain on error")
	}
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory()}
	cache := NewCache(base, client, time.Minute)
	if err := client.Set(ctx, tasksCacheKey("b1"), "not json", time.Hour).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tasks, err := cache.Tasks(ctx, "b1")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 0 || base.taskCalls != 1 {
		t.Fatalf("expected backend fallback, tasks=%d calls=%d", len(tasks), base.taskCalls)
	}
	if !mr.Exists(tasksCacheKey("b1")) {
		t.Fatalf("expected fresh entry to replace corrupt one")
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	base := &countingBackend{Memory: NewMemory()}
	cache := NewCache(base, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.Columns(context.Background(), "b1"); err != nil {
			t.Fatalf("columns: %v", err)
		}
	}
	if base.columnCalls != 2 {
		t.Fatalf("expected every call to reach backend, calls=%d", base.columnCalls)
	}
}

// pausingBackend blocks the first Columns read after it has fetched from
// memory, until release is closed.
type pausingBackend struct {
	*Memory
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func (p *pausingBackend) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	cols, err := p.Memory.Columns(ctx, boardID)
	p.once.Do(func() {
		close(p.reading)
		<-p.release
	})
	return cols, err
}

func TestCacheSkipsFillThatRacedAMutation(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &pausingBackend{Memory: NewMemory(), reading: make(chan struct{}), release: make(chan struct{})}
	seedBoard(t, base.Memory, "b1")
	cache := NewCache(base, client, time.Minute)

	done := make(chan []domain.Column)
	go func() {
		cols, _ := cache.Columns(ctx, "b1")
		done <- cols
	}()
	<-base.reading
	if _, err := cache.CreateColumn(ctx, domain.Column{ID: "c1", BoardID: "b1", Title: "Todo"}); err != nil {
		t.Fatalf("create column: %v", err)
	}
	close(base.release)
	if stale := <-done; len(stale) != 0 {
		t.Fatalf("expected the paused read to predate the create, got %+v", stale)
	}
	if mr.Exists(columnsCacheKey("b1")) {
		t.Fatalf("a fill that raced an eviction must not be stored")
	}

	cols, err := cache.Columns(ctx, "b1")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 1 || cols[0].ID != "c1" {
		t.Fatalf("expected committed column after the race, got %+v", cols)
	}
	if !mr.Exists(columnsCacheKey("b1")) {
		t.Fatalf("an undisturbed fill should be stored")
	}
}

func TestCacheEvictionBumpsGeneration(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	base := &countingBackend{Memory: NewMemory()}
	seedBoard(t, base.Memory, "b1")
	cache := NewCache(base, client, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.CreateColumn(ctx, domain.Column{ID: "c" + string(rune('1'+i)), BoardID: "b1", Title: "Todo"}); err != nil {
			t.Fatalf("create column: %v", err)
		}
	}
	got, err := mr.Get(generationKey("b1"))
	if err != nil || got != "2" {
		t.Fatalf("expected generation 2, got %q (%v)", got, err)
	}
	if ttl := mr.TTL(generationKey("b1")); ttl <= 0 {
		t.Fatalf("generation key should expire, ttl=%v", ttl)
	}
}
