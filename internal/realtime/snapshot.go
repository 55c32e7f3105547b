package realtime

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Mohamed-AlHabob/Safar/internal/safar"
)

// snapshotTTL bounds how stale a reconnect's initial payload can be.
const snapshotTTL = 300 * time.Second

// Snapshot is the initial bundle pushed right after a connection becomes
// active: recent bookings, recent conversations, unread notifications.
type Snapshot struct {
	Bookings      []safar.Booking      `json:"bookings"`
	Messages      []safar.Message      `json:"messages"`
	Notifications []safar.Notification `json:"notifications"`
}

// SnapshotCache stores serialized snapshots keyed by user. Get returns
// (nil, nil) on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, userID uuid.UUID) ([]byte, error)
	Set(ctx context.Context, userID uuid.UUID, data []byte) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

const snapshotKeyPrefix = "ws_initial_data_"

type RedisSnapshotCache struct {
	rdb *redis.Client
}

func NewRedisSnapshotCache(rdb *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{rdb: rdb}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	data, err := c.rdb.Get(ctx, snapshotKeyPrefix+userID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (c *RedisSnapshotCache) Set(ctx context.Context, userID uuid.UUID, data []byte) error {
	return c.rdb.Set(ctx, snapshotKeyPrefix+userID.String(), data, snapshotTTL).Err()
}

func (c *RedisSnapshotCache) Delete(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.Del(ctx, snapshotKeyPrefix+userID.String()).Err()
}

// SnapshotBuilder assembles initial-state snapshots, consulting the cache
// first. Cache trouble of any kind degrades to a direct rebuild; it never
// fails the read path.
type SnapshotBuilder struct {
	store  Store
	cache  SnapshotCache
	logger *zap.Logger
}

func NewSnapshotBuilder(store Store, cache SnapshotCache, logger *zap.Logger) *SnapshotBuilder {
	return &SnapshotBuilder{store: store, cache: cache, logger: logger}
}

func (b *SnapshotBuilder) GetOrBuild(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	cached, err := b.cache.Get(ctx, userID)
	if err != nil {
		b.logger.Warn("snapshot cache read failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if cached != nil {
		snap := &Snapshot{}
		if err := json.Unmarshal(cached, snap); err == nil {
			return snap, nil
		}
		// Corrupt entry: fall through to a full rebuild.
		b.logger.Warn("snapshot cache entry undecodable, rebuilding", zap.String("user_id", userID.String()))
	}

	snap, err := b.build(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := b.cache.Set(ctx, userID, data); err != nil {
			b.logger.Warn("snapshot cache write failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return snap, nil
}

func (b *SnapshotBuilder) build(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	bookings, err := b.store.RecentBookings(ctx, userID)
	if err != nil {
		return nil, err
	}
	messages, err := b.store.RecentMessages(ctx, userID, 0, maxSnapshotMessages)
	if err != nil {
		return nil, err
	}
	notifications, err := b.store.UnreadNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Bookings:      bookings,
		Messages:      messages,
		Notifications: notifications,
	}, nil
}

// Invalidate drops the cached snapshot after a read-state mutation so the
// next reconnect sees fresh data. Failures are logged, not surfaced.
func (b *SnapshotBuilder) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := b.cache.Delete(ctx, userID); err != nil {
		b.logger.Warn("snapshot cache invalidation failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
