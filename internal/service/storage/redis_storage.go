package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"floodwatch/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisKeyPrefix namespaces every key this store writes
const RedisKeyPrefix = "floodwatch"

// RedisStorage keeps each record as a JSON string plus per-partition key and index sets.
// No TTL is set on keys; expiry is decided by readers like every other backend.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to redisURL and checks the connection
func OpenRedis(ctx context.Context, redisURL string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorage(client), nil
}

// NewRedisStorage wraps an existing client
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client, prefix: RedisKeyPrefix}
}

func (s *RedisStorage) recordKey(partition, key string) string {
	return fmt.Sprintf("%s:%s:r:%s", s.prefix, partition, key)
}

func (s *RedisStorage) keysKey(partition string) string {
	return fmt.Sprintf("%s:%s:keys", s.prefix, partition)
}

func (s *RedisStorage) indexKey(partition, name, value string) string {
	return fmt.Sprintf("%s:%s:i:%s:%s", s.prefix, partition, name, value)
}

func (s *RedisStorage) Get(ctx context.Context, partition, key string) (model.CachedRecord, error) {
	rec, err := s.load(ctx, partition, key)
	if err != nil {
		return model.CachedRecord{}, err
	}
	if !rec.ValidAt(time.Now()) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	return rec, nil
}

// load returns the raw record, expired or not
func (s *RedisStorage) load(ctx context.Context, partition, key string) (model.CachedRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(partition, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.CachedRecord{}, fmt.Errorf("failed to get %s/%s: %w", partition, key, err)
	}

	var rec model.CachedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.CachedRecord{}, fmt.Errorf("failed to decode %s/%s: %w", partition, key, err)
	}
	return rec, nil
}

func (s *RedisStorage) GetAll(ctx context.Context, partition string, filter *IndexFilter) ([]model.CachedRecord, error) {
	setKey := s.keysKey(partition)
	if filter != nil {
		setKey = s.indexKey(partition, filter.Name, filter.Value)
	}

	keys, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}
	if len(keys) == 0 {
		return []model.CachedRecord{}, nil
	}

	recordKeys := make([]string, len(keys))
	for i, k := range keys {
		recordKeys[i] = s.recordKey(partition, k)
	}

	// Retrieve all records in a single operation
	values, err := s.client.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", partition, err)
	}

	now := time.Now()
	records := make([]model.CachedRecord, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok || str == "" {
			continue
		}
		var rec model.CachedRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			continue
		}
		if keep(rec, filter, now) {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *RedisStorage) Put(ctx context.Context, partition string, record model.CachedRecord) error {
	if err := validatePut(partition, record); err != nil {
		return err
	}

	previous, err := s.load(ctx, partition, record.Key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", partition, record.Key, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(partition, record.Key), data, 0)
		pipe.SAdd(ctx, s.keysKey(partition), record.Key)
		for name, value := range previous.Index {
			pipe.SRem(ctx, s.indexKey(partition, name, value), record.Key)
		}
		for name, value := range record.Index {
			pipe.SAdd(ctx, s.indexKey(partition, name, value), record.Key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", partition, record.Key, err)
	}
	return nil
}

func (s *RedisStorage) Remove(ctx context.Context, partition, key string) error {
	previous, err := s.load(ctx, partition, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(partition, key))
		pipe.SRem(ctx, s.keysKey(partition), key)
		for name, value := range previous.Index {
			pipe.SRem(ctx, s.indexKey(partition, name, value), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
