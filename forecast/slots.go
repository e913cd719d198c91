package forecast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"

	"github.com/mmdatafocus/forecast_backend/config"
)

// SlotRegistry enforces at most one in-flight sync per entity reference.
// Acquire either takes the slot atomically or fails fast with ErrSlotBusy;
// there is no queueing. Release goes through the returned lease so a holder
// that ran past the TTL cannot free a slot someone else has since reclaimed.
type SlotRegistry interface {
	Acquire(ctx context.Context, key string) (SlotLease, error)

	// ReleaseExpired force-frees slots held past the TTL, for holders that
	// died without releasing. Returns the freed keys.
	ReleaseExpired(ctx context.Context) []string
}

// SlotLease is one acquisition of a slot. Release is a no-op once the lease
// has been reclaimed or reaped.
type SlotLease interface {
	Release(ctx context.Context)
}

// MemorySlots is the in-process registry used by tests and by deployments
// without Redis. Check-and-set under one mutex keeps acquisition atomic;
// a per-acquisition generation makes release ownership-checked.
type MemorySlots struct {
	ttl  time.Duration
	mu   sync.Mutex
	gen  uint64
	held map[string]memorySlot
}

type memorySlot struct {
	gen      uint64
	acquired time.Time
}

type memoryLease struct {
	slots *MemorySlots
	key   string
	gen   uint64
}

func NewMemorySlots(ttl time.Duration) *MemorySlots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemorySlots{ttl: ttl, held: map[string]memorySlot{}}
}

func (s *MemorySlots) Acquire(_ context.Context, key string) (SlotLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.held[key]; ok {
		if time.Since(slot.acquired) < s.ttl {
			return nil, fmt.Errorf("%w: %s", ErrSlotBusy, key)
		}
		// stale holder, reclaim
	}
	s.gen++
	s.held[key] = memorySlot{gen: s.gen, acquired: time.Now()}
	return &memoryLease{slots: s, key: key, gen: s.gen}, nil
}

func (l *memoryLease) Release(_ context.Context) {
	l.slots.mu.Lock()
	defer l.slots.mu.Unlock()
	if slot, ok := l.slots.held[l.key]; ok && slot.gen == l.gen {
		delete(l.slots.held, l.key)
	}
}

func (s *MemorySlots) ReleaseExpired(_ context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed []string
	for key, slot := range s.held {
		if time.Since(slot.acquired) >= s.ttl {
			delete(s.held, key)
			freed = append(freed, key)
		}
	}
	return freed
}

// RedisSlots backs the registry with redislock so exclusion holds across
// processes. Each lease owns its redislock token, so a late release after the
// key expired and was re-obtained is rejected by redislock itself.
type RedisSlots struct {
	ttl  time.Duration
	mu   sync.Mutex
	held map[string]*redisLease
}

type redisLease struct {
	slots    *RedisSlots
	key      string
	lock     *redislock.Lock
	acquired time.Time
}

func NewRedisSlots(ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSlots{ttl: ttl, held: map[string]*redisLease{}}
}

func slotRedisKey(key string) string { return "forecast-slot:" + key }

func (s *RedisSlots) Acquire(ctx context.Context, key string) (SlotLease, error) {
	// resolved per call; the registry is usually built before Redis connects
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, fmt.Errorf("%w: redis lock client not connected", ErrAdapterIO)
	}
	lock, err := locker.Obtain(ctx, slotRedisKey(key), s.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrSlotBusy, key)
		}
		return nil, fmt.Errorf("%w: acquire slot: %v", ErrAdapterIO, err)
	}
	lease := &redisLease{slots: s, key: key, lock: lock, acquired: time.Now()}
	s.mu.Lock()
	s.held[key] = lease
	s.mu.Unlock()
	return lease, nil
}

func (l *redisLease) Release(ctx context.Context) {
	l.slots.mu.Lock()
	if l.slots.held[l.key] == l {
		delete(l.slots.held, l.key)
	}
	l.slots.mu.Unlock()
	if err := l.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		config.LogError(config.GetLogger(), "forecast", "SlotRelease", "release redis slot", l.key, err)
	}
}

func (s *RedisSlots) ReleaseExpired(ctx context.Context) []string {
	s.mu.Lock()
	var expired []*redisLease
	for key, lease := range s.held {
		if time.Since(lease.acquired) >= s.ttl {
			delete(s.held, key)
			expired = append(expired, lease)
		}
	}
	s.mu.Unlock()

	var freed []string
	for _, lease := range expired {
		// best effort; redislock rejects the release if the key already
		// expired or was re-obtained
		if err := lease.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(config.GetLogger(), "forecast", "ReleaseExpired", "release stale redis slot", lease.key, err)
		}
		freed = append(freed, lease.key)
	}
	return freed
}

// NewSlotRegistry picks the backend from FORECAST_SLOT_BACKEND: "memory"
// keeps exclusion in-process, anything else uses Redis so it holds across
// replicas.
func NewSlotRegistry(ttl time.Duration) SlotRegistry {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("FORECAST_SLOT_BACKEND")), "memory") {
		return NewMemorySlots(ttl)
	}
	return NewRedisSlots(ttl)
}
