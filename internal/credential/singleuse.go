package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SingleUseTracker enforces that a delegation token's token ID is redeemed
// at most once — the SEP invariant that a captured-and-replayed delegation
// token cannot be used twice. Redis backs this in production so the
// constraint holds across gateway replicas; an in-memory fallback (grounded
// on the teacher's NonceStore, internal/security/attack_mitigation.go) keeps
// single-instance deployments working without Redis.
type SingleUseTracker interface {
	// Redeem marks tokenID used. It returns (true, nil) the first time a
	// tokenID is seen before ttl elapses, and (false, nil) on every
	// subsequent call — never an error for an ordinary replay.
	Redeem(ctx context.Context, tokenID string, ttl time.Duration) (firstUse bool, err error)
}

// RedisSingleUseTracker uses SETNX semantics (SetNX) so redemption is an
// atomic check-and-set even across multiple gateway processes.
type RedisSingleUseTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisSingleUseTracker(client *redis.Client) *RedisSingleUseTracker {
	return &RedisSingleUseTracker{client: client, prefix: "finllm:delegation:used:"}
}

func (t *RedisSingleUseTracker) Redeem(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("credential: redeem token %s: %w", tokenID, err)
	}
	return ok, nil
}

// MemorySingleUseTracker is the fallback used when REDIS_URL is unset.
type MemorySingleUseTracker struct {
	mu          sync.Mutex
	used        map[string]time.Time
	stopCleanup chan struct{}
}

func NewMemorySingleUseTracker() *MemorySingleUseTracker {
	t := &MemorySingleUseTracker{
		used:        make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
	}
	go t.cleanupLoop()
	return t
}

func (t *MemorySingleUseTracker) Redeem(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if expiresAt, seen := t.used[tokenID]; seen && time.Now().Before(expiresAt) {
		return false, nil
	}
	t.used[tokenID] = time.Now().Add(ttl)
	return true, nil
}

func (t *MemorySingleUseTracker) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCleanup:
			return
		}
	}
}

func (t *MemorySingleUseTracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for id, expiresAt := range t.used {
		if now.After(expiresAt) {
			delete(t.used, id)
		}
	}
}

func (t *MemorySingleUseTracker) Stop() { close(t.stopCleanup) }

// DecodeFailureCounter tracks malformed/unverifiable delegation token
// attempts per client, feeding the abuse-rate observability the spec's
// third Open Question resolved as metrics-only (no automatic lockout).
type DecodeFailureCounter interface {
	Increment(ctx context.Context, clientKey string) (count int64, err error)
}

type RedisDecodeFailureCounter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

func NewRedisDecodeFailureCounter(client *redis.Client, window time.Duration) *RedisDecodeFailureCounter {
	return &RedisDecodeFailureCounter{client: client, window: window, prefix: "finllm:decodefail:"}
}

func (c *RedisDecodeFailureCounter) Increment(ctx context.Context, clientKey string) (int64, error) {
	key := c.prefix + clientKey
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("credential: increment decode-failure counter: %w", err)
	}
	if count == 1 {
		c.client.Expire(ctx, key, c.window)
	}
	return count, nil
}

// MemoryDecodeFailureCounter is the in-memory fallback, without per-window
// expiry sophistication — acceptable since it only backs observability, not
// an enforcement decision.
type MemoryDecodeFailureCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryDecodeFailureCounter() *MemoryDecodeFailureCounter {
	return &MemoryDecodeFailureCounter{counts: make(map[string]int64)}
}

func (c *MemoryDecodeFailureCounter) Increment(_ context.Context, clientKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[clientKey]++
	return c.counts[clientKey], nil
}
