package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/christopherjohns/chatroom/internal/message"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists each room's history as a Redis list of JSON-encoded
// messages.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a RedisStore backed by client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Load reads the room's list. Entries that fail to decode are skipped.
func (s *RedisStore) Load(ctx context.Context, room string) ([]message.Message, error) {
	vals, err := s.client.LRange(ctx, Key(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}

	msgs := make([]message.Message, 0, len(vals))
	for _, v := range vals {
		var m message.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			log.Printf("redis: skipping undecodable history entry in room %s: %v", room, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Save replaces the room's list atomically with msgs.
func (s *RedisStore) Save(ctx context.Context, room string, msgs []message.Message) error {
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := Key(room)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: write history: %w", err)
	}
	return nil
}
