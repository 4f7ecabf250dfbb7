package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	KeyItems    = "items"    // HASH. item_id: json(Record)
	KeySettings = "settings" // HASH. name: value

	KeySeparator = ":"
)

// RedisStore keeps items and settings in two hashes under a key prefix.
type RedisStore struct {
	cl     *redis.Client
	prefix string
}

// Ensure RedisStore implements Store interface.
var _ Store = (*RedisStore)(nil)

// NewRedisStore parses url, connects and pings the server.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}
	cl := redis.NewClient(opt)
	if _, err := cl.Ping(ctx).Result(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("cannot ping redis: %w", err)
	}
	return NewRedisStoreWithClient(cl, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(cl *redis.Client, prefix string) *RedisStore {
	return &RedisStore{cl: cl, prefix: prefix}
}

// Backend returns "redis".
func (s *RedisStore) Backend() string {
	return "redis"
}

// LoadRecords returns all records of the items hash.
func (s *RedisStore) LoadRecords(ctx context.Context) ([]Record, error) {
	raw, err := s.cl.HGetAll(ctx, s.key(KeyItems)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get items: %w", err)
	}
	records := make([]Record, 0, len(raw))
	for id, value := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			// Keep the record so that the tree loader reports it as corrupt.
			rec = Record{ID: id, Body: []byte(value)}
		}
		records = append(records, rec)
	}
	return records, nil
}

// LoadSettings returns the settings hash.
func (s *RedisStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	settings, err := s.cl.HGetAll(ctx, s.key(KeySettings)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get settings: %w", err)
	}
	return settings, nil
}

// Commit applies the batch in a MULTI/EXEC transaction.
func (s *RedisStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	puts := make([]interface{}, 0, 2*len(b.Put))
	for _, rec := range b.Put {
		value, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("cannot encode item %s: %w", rec.ID, err)
		}
		puts = append(puts, rec.ID, value)
	}

	_, err := s.cl.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(puts) > 0 {
			pipe.HSet(ctx, s.key(KeyItems), puts...)
		}
		if len(b.Delete) > 0 {
			pipe.HDel(ctx, s.key(KeyItems), b.Delete...)
		}
		if len(b.Settings) > 0 {
			pipe.HSet(ctx, s.key(KeySettings), b.Settings)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cannot commit batch: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.cl.Close()
}

func (s *RedisStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + KeySeparator + name
}
