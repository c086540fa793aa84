package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/troikatech/voice-bridge/pkg/otel"
)

// RedisStore keeps the live transcript as a Redis list so dashboards and
// other services can follow a call in progress. Entries expire after the
// configured TTL; the durable copy lives in Mongo.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func transcriptKey(callSID string) string {
	return fmt.Sprintf("transcript:%s", callSID)
}

// Append pushes the utterance as JSON and refreshes the key's TTL.
func (s *RedisStore) Append(ctx context.Context, callSID string, u Utterance) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal utterance: %w", err)
	}

	key := transcriptKey(callSID)
	return otel.WithStoreSpan(ctx, "redis", key, "append", func(ctx context.Context) error {
		pipe := s.client.Pipeline()
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to append transcript to redis: %w", err)
		}
		return nil
	})
}

// Close leaves the list in place until the TTL fires; readers may still
// want the transcript right after the call ends.
func (s *RedisStore) Close(ctx context.Context, callSID string) error {
	return s.client.Expire(ctx, transcriptKey(callSID), s.ttl).Err()
}
