// Package presence keeps the per-room set of currently-online member
// ids in Redis, maintained as connections subscribe and disconnect.
// This is UI garnish next to the typing tracker: stale entries after a
// crash are tolerated and repaired by the next subscribe/disconnect.
package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Store struct {
	logger *zap.SugaredLogger
	redis  *redis.Client
}

func New(logger *zap.SugaredLogger, redisAddr string) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return &Store{logger: logger, redis: rdb}
}

func (s *Store) Join(ctx context.Context, roomID, userID string) {
	if err := s.redis.SAdd(ctx, "room:"+roomID+":online", userID).Err(); err != nil {
		s.logger.Errorf("set presence for %s in room %s: %v", userID, roomID, err)
	}
}

func (s *Store) Leave(ctx context.Context, roomID, userID string) {
	if err := s.redis.SRem(ctx, "room:"+roomID+":online", userID).Err(); err != nil {
		s.logger.Errorf("clear presence for %s in room %s: %v", userID, roomID, err)
	}
}

// Online returns the user ids with at least one live subscription to
// the room.
func (s *Store) Online(ctx context.Context, roomID string) ([]string, error) {
	return s.redis.SMembers(ctx, "room:"+roomID+":online").Result()
}

// DropRoom removes the whole set after group deletion.
func (s *Store) DropRoom(ctx context.Context, roomID string) {
	if err := s.redis.Del(ctx, "room:"+roomID+":online").Err(); err != nil {
		s.logger.Errorf("drop presence set for room %s: %v", roomID, err)
	}
}

func (s *Store) Close() error {
	return s.redis.Close()
}
