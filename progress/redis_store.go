package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dilshat/wa-broadcast/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the latest snapshot per broadcast so a restarted process can answer late subscribers.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func key(broadcastId uint32) string {
	return fmt.Sprintf("broadcast:progress:%d", broadcastId)
}

func (s *RedisStore) Save(ctx context.Context, snapshot model.Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(snapshot.BroadcastId), b, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, broadcastId uint32) (model.Snapshot, bool, error) {
	raw, err := s.rdb.Get(ctx, key(broadcastId)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}

	var snapshot model.Snapshot
	if err = json.Unmarshal(raw, &snapshot); err != nil {
		return model.Snapshot{}, false, err
	}
	snapshot.BroadcastId = broadcastId
	return snapshot, true, nil
}
