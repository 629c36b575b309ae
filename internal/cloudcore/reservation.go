package cloudcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ReservationRegistry arbitrates concurrent vehicle_in attempts onto the same
// free slot, per spec.md §4.2. It is soft: the Mutation Engine re-checks the
// owner inside the vehicle_in transaction and never trusts the registry
// alone for correctness.
type ReservationRegistry interface {
	// Reserve sets slot's owner to gate for ttl. Returns *ErrHeldByOtherGate
	// (which Engine.ReserveSlot maps to apperr.Conflict) when a different
	// gate already holds it.
	Reserve(ctx context.Context, gate, slot string, ttl time.Duration) error
	// Inspect returns the current owner (empty if none) and remaining TTL.
	Inspect(ctx context.Context, slot string) (owner string, remaining time.Duration, err error)
	// Release unconditionally clears slot's reservation.
	Release(ctx context.Context, slot string) error
}

func reservationKey(slot string) string {
	return "reserve:" + slot
}

// ErrHeldByOtherGate is returned by Reserve when a live reservation is owned
// by a different gate.
type ErrHeldByOtherGate struct {
	Slot  string
	Owner string
}

func (e *ErrHeldByOtherGate) Error() string {
	return fmt.Sprintf("slot %s held by gate %s", e.Slot, e.Owner)
}

// RedisReservationRegistry implements ReservationRegistry against Redis
// SETEX/GET/DEL, the exact key scheme ("reserve:{slot}") the original
// parking-cloud gates_api.py uses.
type RedisReservationRegistry struct {
	client *redis.Client
}

func NewRedisReservationRegistry(client *redis.Client) *RedisReservationRegistry {
	return &RedisReservationRegistry{client: client}
}

func (r *RedisReservationRegistry) Reserve(ctx context.Context, gate, slot string, ttl time.Duration) error {
	key := reservationKey(slot)
	owner, err := r.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if owner != "" && owner != gate {
		return &ErrHeldByOtherGate{Slot: slot, Owner: owner}
	}
	return r.client.SetEX(ctx, key, gate, ttl).Err()
}

func (r *RedisReservationRegistry) Inspect(ctx context.Context, slot string) (string, time.Duration, error) {
	key := reservationKey(slot)
	owner, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", -1, nil
	}
	if err != nil {
		return "", -1, err
	}
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return "", -1, err
	}
	return owner, ttl, nil
}

func (r *RedisReservationRegistry) Release(ctx context.Context, slot string) error {
	return r.client.Del(ctx, reservationKey(slot)).Err()
}

// memoryReservation is one in-process reservation entry.
type memoryReservation struct {
	owner     string
	expiresAt time.Time
}

// InMemoryReservationRegistry is the fallback used when no REDIS_URL is
// configured, so the Cloud still runs standalone for tests and demos. It
// implements the identical interface and expiry semantics as the Redis
// backing, just without cross-process sharing.
type InMemoryReservationRegistry struct {
	mu    sync.Mutex
	slots map[string]memoryReservation
}

func NewInMemoryReservationRegistry() *InMemoryReservationRegistry {
	return &InMemoryReservationRegistry{slots: make(map[string]memoryReservation)}
}

func (r *InMemoryReservationRegistry) Reserve(_ context.Context, gate, slot string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.slots[slot]; ok && existing.expiresAt.After(now) && existing.owner != gate {
		return &ErrHeldByOtherGate{Slot: slot, Owner: existing.owner}
	}
	r.slots[slot] = memoryReservation{owner: gate, expiresAt: now.Add(ttl)}
	return nil
}

func (r *InMemoryReservationRegistry) Inspect(_ context.Context, slot string) (string, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.slots[slot]
	if !ok || !entry.expiresAt.After(time.Now()) {
		return "", -1, nil
	}
	return entry.owner, time.Until(entry.expiresAt), nil
}

func (r *InMemoryReservationRegistry) Release(_ context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, slot)
	return nil
}
