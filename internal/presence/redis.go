package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley/internal/config"
)

// RedisStore is the production Store backed by a Redis server. Group
// presence lives in one hash per group, the global connection binding in a
// single hash, and the per-connection join index in one set per connection.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies reachability.
//
// Precondition: cfg must contain valid connection parameters.
// Postcondition: Returns a connected RedisStore or a non-nil error.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client, used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// MarkJoined implements Store.
func (s *RedisStore) MarkJoined(ctx context.Context, groupID, connectionID, address string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, groupKey(groupID), connectionID, address)
	pipe.SAdd(ctx, connGroupsKey(connectionID), groupID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("marking joined: %w", err)
	}
	return nil
}

// MarkLeft implements Store. Redis drops a hash automatically when its last
// field is removed, which keeps the no-empty-mapping invariant.
func (s *RedisStore) MarkLeft(ctx context.Context, groupID, connectionID string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, groupKey(groupID), connectionID)
	pipe.SRem(ctx, connGroupsKey(connectionID), groupID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("marking left: %w", err)
	}
	return nil
}

// ListPresent implements Store.
func (s *RedisStore) ListPresent(ctx context.Context, groupID string) (map[string]string, error) {
	members, err := s.client.HGetAll(ctx, groupKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing present: %w", err)
	}
	return members, nil
}

// RegisterConnection implements Store.
func (s *RedisStore) RegisterConnection(ctx context.Context, connectionID, address string) error {
	if err := s.client.HSet(ctx, connectionsKey, connectionID, address).Err(); err != nil {
		return fmt.Errorf("registering connection: %w", err)
	}
	return nil
}

// UnregisterConnection implements Store.
func (s *RedisStore) UnregisterConnection(ctx context.Context, connectionID string) error {
	if err := s.client.HDel(ctx, connectionsKey, connectionID).Err(); err != nil {
		return fmt.Errorf("unregistering connection: %w", err)
	}
	return nil
}

// PurgeConnection implements Store. The join index bounds the cleanup to the
// groups this connection actually joined; purging an absent connection finds
// an empty index and is a no-op.
func (s *RedisStore) PurgeConnection(ctx context.Context, connectionID string) error {
	groups, err := s.client.SMembers(ctx, connGroupsKey(connectionID)).Result()
	if err != nil {
		return fmt.Errorf("reading join index: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, groupID := range groups {
		pipe.HDel(ctx, groupKey(groupID), connectionID)
	}
	pipe.Del(ctx, connGroupsKey(connectionID))
	pipe.HDel(ctx, connectionsKey, connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("purging connection: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
