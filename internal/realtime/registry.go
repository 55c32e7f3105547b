package realtime

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Subscriber receives events published to a group it has joined. Deliver
// must not block; a subscriber that cannot keep up drops itself.
type Subscriber interface {
	Deliver(event Event)
}

// Registry maps group names to live subscribers and fans published events
// out to every member. Join/Leave are symmetric and a double-Leave is a
// no-op. Within one group, each member sees events in publish order.
type Registry interface {
	Join(ctx context.Context, group string, sub Subscriber) error
	Leave(ctx context.Context, group string, sub Subscriber) error
	Publish(ctx context.Context, group string, event Event) error
}

// MemoryRegistry fans out within a single process. It is the local
// delivery tier of RedisRegistry and the whole registry in tests and
// single-process deployments.
type MemoryRegistry struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{groups: make(map[string]map[Subscriber]struct{})}
}

func (r *MemoryRegistry) Join(ctx context.Context, group string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[Subscriber]struct{})
		r.groups[group] = members
	}
	members[sub] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Leave(ctx context.Context, group string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return nil
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(r.groups, group)
	}
	return nil
}

func (r *MemoryRegistry) Publish(ctx context.Context, group string, event Event) error {
	// Snapshot the membership so delivery happens outside the lock.
	r.mu.RLock()
	members := make([]Subscriber, 0, len(r.groups[group]))
	for sub := range r.groups[group] {
		members = append(members, sub)
	}
	r.mu.RUnlock()

	for _, sub := range members {
		sub.Deliver(event)
	}
	return nil
}

// Members reports the current subscriber count for a group.
func (r *MemoryRegistry) Members(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// RedisRegistry extends the in-memory fan-out across server processes with
// Redis pub/sub. Publish goes to Redis; every process (this one included)
// receives it on its subscription and delivers to its local members, so
// ordering within a group follows Redis channel ordering.
type RedisRegistry struct {
	local  *MemoryRegistry
	rdb    *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger

	mu   sync.Mutex
	refs map[string]int
}

func NewRedisRegistry(rdb *redis.Client, logger *zap.Logger) *RedisRegistry {
	return &RedisRegistry{
		local:  NewMemoryRegistry(),
		rdb:    rdb,
		pubsub: rdb.Subscribe(context.Background()),
		logger: logger,
		refs:   make(map[string]int),
	}
}

func (r *RedisRegistry) Join(ctx context.Context, group string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs[group] == 0 {
		if err := r.pubsub.Subscribe(ctx, group); err != nil {
			return err
		}
	}
	r.refs[group]++
	return r.local.Join(ctx, group, sub)
}

func (r *RedisRegistry) Leave(ctx context.Context, group string, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.local.Leave(ctx, group, sub); err != nil {
		return err
	}
	if r.refs[group] == 0 {
		return nil
	}
	r.refs[group]--
	if r.refs[group] == 0 {
		delete(r.refs, group)
		if err := r.pubsub.Unsubscribe(ctx, group); err != nil {
			r.logger.Warn("redis unsubscribe failed", zap.String("group", group), zap.Error(err))
		}
	}
	return nil
}

func (r *RedisRegistry) Publish(ctx context.Context, group string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, group, data).Err()
}

// Run pumps events arriving from Redis into the local fan-out. It returns
// when Close is called.
func (r *RedisRegistry) Run() {
	for msg := range r.pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			r.logger.Warn("dropping undecodable group event",
				zap.String("group", msg.Channel), zap.Error(err))
			continue
		}
		r.local.Publish(context.Background(), msg.Channel, event)
	}
}

func (r *RedisRegistry) Close() error {
	return r.pubsub.Close()
}
