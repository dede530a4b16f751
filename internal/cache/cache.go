// Package cache provides Redis-backed coordination primitives with an
// in-memory fallback: named locks, expiring sets for cooldowns, and a
// TTL key-value cache for analysis results.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"krx-trading-bot/config"
)

// Key prefixes shared by all cache users.
const (
	PrefixLock        = "lock:"
	PrefixCooldown    = "cooldown:"
	PrefixResult      = "result:"
	PrefixScanLatest  = "scan:latest:"
	PrefixCostCounter = "cost:counter:"
)

const maxFailures = 3

// Service wraps a Redis client with health tracking. When Redis is down every
// primitive degrades to an in-process store, so a single-node deployment keeps
// working; only cross-process exclusivity is lost.
type Service struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	local *localStore
}

// New connects to Redis. A failed initial connection returns a degraded
// service, not an error; callers keep going on the in-memory store.
func New(cfg config.RedisConfig) *Service {
	s := &Service{local: newLocalStore()}
	if !cfg.Enabled {
		log.Printf("[CACHE] Redis disabled, using in-memory store")
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed, degraded mode: %v", err)
		return s
	}

	s.healthy = true
	log.Printf("[CACHE] Redis connected at %s", cfg.Address)
	return s
}

// IsHealthy reports whether Redis is currently usable.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.healthy
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= maxFailures && s.healthy {
		log.Printf("[CACHE] Redis marked unhealthy after %d failures: %v", s.failureCount, err)
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
	if s.client != nil && !s.healthy {
		log.Printf("[CACHE] Redis recovered")
		s.healthy = true
	}
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// AcquireLock takes a named lock with the given TTL. Returns false when
// another holder owns it. SET NX gives atomicity on Redis; the in-memory
// fallback is atomic within the process.
func (s *Service) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := PrefixLock + name
	if s.IsHealthy() {
		ok, err := s.client.SetNX(ctx, key, time.Now().UnixNano(), ttl).Result()
		if err != nil {
			s.recordFailure(err)
			return s.local.setNX(key, ttl), nil
		}
		s.recordSuccess()
		return ok, nil
	}
	s.maybeRecover(ctx)
	return s.local.setNX(key, ttl), nil
}

// ReleaseLock drops a named lock. Releasing a lock that expired is a no-op.
func (s *Service) ReleaseLock(ctx context.Context, name string) error {
	key := PrefixLock + name
	s.local.delete(key)
	if s.IsHealthy() {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.recordFailure(err)
			return err
		}
		s.recordSuccess()
	}
	return nil
}

// MarkCooldown records that the named action happened, for the given window.
func (s *Service) MarkCooldown(ctx context.Context, name string, window time.Duration) error {
	key := PrefixCooldown + name
	s.local.set(key, []byte("1"), window)
	if s.IsHealthy() {
		if err := s.client.Set(ctx, key, 1, window).Err(); err != nil {
			s.recordFailure(err)
			return err
		}
		s.recordSuccess()
	}
	return nil
}

// InCooldown reports whether the named action is still inside its window.
func (s *Service) InCooldown(ctx context.Context, name string) (bool, error) {
	key := PrefixCooldown + name
	if s.IsHealthy() {
		n, err := s.client.Exists(ctx, key).Result()
		if err == nil {
			s.recordSuccess()
			return n > 0, nil
		}
		s.recordFailure(err)
	} else {
		s.maybeRecover(ctx)
	}
	_, ok := s.local.get(key)
	return ok, nil
}

// SetJSON stores a value as JSON with a TTL.
func (s *Service) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.local.set(key, data, ttl)
	if s.IsHealthy() {
		if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
			s.recordFailure(err)
			return err
		}
		s.recordSuccess()
	}
	return nil
}

// GetJSON loads a value stored by SetJSON. Returns false when absent or expired.
func (s *Service) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	if s.IsHealthy() {
		data, err := s.client.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			s.recordSuccess()
			return false, nil
		case err != nil:
			s.recordFailure(err)
		default:
			s.recordSuccess()
			return true, json.Unmarshal(data, v)
		}
	} else {
		s.maybeRecover(ctx)
	}
	data, ok := s.local.get(key)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// Delete removes a key from both stores.
func (s *Service) Delete(ctx context.Context, key string) error {
	s.local.delete(key)
	if s.IsHealthy() {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.recordFailure(err)
			return err
		}
		s.recordSuccess()
	}
	return nil
}

// maybeRecover pings Redis so a restored server flips the service back to
// healthy without waiting for a write.
func (s *Service) maybeRecover(ctx context.Context) {
	if s.client == nil {
		return
	}
	s.mu.RLock()
	healthy := s.healthy
	s.mu.RUnlock()
	if healthy {
		return
	}
	if err := s.client.Ping(ctx).Err(); err == nil {
		s.recordSuccess()
	}
}

// localStore is the in-process fallback: a map with per-key expiry.
type localStore struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

type localEntry struct {
	data    []byte
	expires time.Time
}

func newLocalStore() *localStore {
	return &localStore{entries: make(map[string]localEntry)}
}

func (ls *localStore) set(key string, data []byte, ttl time.Duration) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.prune()
	ls.entries[key] = localEntry{data: data, expires: time.Now().Add(ttl)}
}

func (ls *localStore) setNX(key string, ttl time.Duration) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.prune()
	if e, ok := ls.entries[key]; ok && time.Now().Before(e.expires) {
		return false
	}
	ls.entries[key] = localEntry{data: []byte("1"), expires: time.Now().Add(ttl)}
	return true
}

func (ls *localStore) get(key string) ([]byte, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	e, ok := ls.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(ls.entries, key)
		return nil, false
	}
	return e.data, true
}

func (ls *localStore) delete(key string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.entries, key)
}

// prune drops expired entries opportunistically. Called under lock.
func (ls *localStore) prune() {
	if len(ls.entries) < 4096 {
		return
	}
	now := time.Now()
	for k, e := range ls.entries {
		if now.After(e.expires) {
			delete(ls.entries, k)
		}
	}
}
