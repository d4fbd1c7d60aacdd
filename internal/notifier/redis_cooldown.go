package notifier

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore backs the notifier's per-(deal, event) cooldown with
// Redis SETNX+EXPIRE, so the cooldown survives a process restart instead
// of resetting to empty the way the in-process map does.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) TryMark(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, key, time.Now().Unix(), cooldown).Result()
	if err != nil {
		return false, err
	}
	return set, nil
}
