package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/sfu-signaling/config"
	"github.com/mossy-p/sfu-signaling/internal/presence"
	"github.com/redis/go-redis/v9"
)

const peerSetTTL = 24 * time.Hour

// Connect initializes a Redis client and verifies it answers
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// PresenceStore mirrors room membership into a Redis set per room
type PresenceStore struct {
	rdb    *redis.Client
	prefix string
}

func NewPresenceStore(rdb *redis.Client, prefix string) *PresenceStore {
	if prefix == "" {
		prefix = "sfu"
	}
	return &PresenceStore{rdb: rdb, prefix: prefix}
}

func (s *PresenceStore) key(roomID string) string {
	return s.prefix + ":room:" + roomID + ":peers"
}

func (s *PresenceStore) AddPeer(ctx context.Context, roomID, peerID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.key(roomID), peerID)
	pipe.Expire(ctx, s.key(roomID), peerSetTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *PresenceStore) RemovePeer(ctx context.Context, roomID, peerID string) error {
	return s.rdb.SRem(ctx, s.key(roomID), peerID).Err()
}

func (s *PresenceStore) Peers(ctx context.Context, roomID string) ([]string, error) {
	return s.rdb.SMembers(ctx, s.key(roomID)).Result()
}

// Reset drops a room's set, used when a room is torn down
func (s *PresenceStore) Reset(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, s.key(roomID)).Err()
}

var _ presence.Store = (*PresenceStore)(nil)
