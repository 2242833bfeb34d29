package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"floodwatch/internal/model"
)

// IndexFilter selects records whose secondary index Name equals Value
type IndexFilter struct {
	Name  string
	Value string
}

// By builds an index filter
func By(name, value string) *IndexFilter {
	return &IndexFilter{Name: name, Value: value}
}

// Store is the persisted, partitioned local cache.
// Expired records read as model.ErrNotFound and are skipped by GetAll;
// they are never purged on read. Puts to the same key are last-write-wins.
type Store interface {
	Get(ctx context.Context, partition, key string) (model.CachedRecord, error)
	GetAll(ctx context.Context, partition string, filter *IndexFilter) ([]model.CachedRecord, error)
	Put(ctx context.Context, partition string, record model.CachedRecord) error
	Remove(ctx context.Context, partition, key string) error
	Close() error
}

// sortRecords orders records by cache time, then key, so every backend lists identically
func sortRecords(records []model.CachedRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CachedAt.Equal(records[j].CachedAt) {
			return records[i].CachedAt.Before(records[j].CachedAt)
		}
		return records[i].Key < records[j].Key
	})
}

func keep(rec model.CachedRecord, filter *IndexFilter, now time.Time) bool {
	if !rec.ValidAt(now) {
		return false
	}
	return filter == nil || rec.Matches(filter.Name, filter.Value)
}

func validatePut(partition string, record model.CachedRecord) error {
	if partition == "" {
		return errors.New("partition is required")
	}
	if record.Key == "" {
		return errors.New("record key is required")
	}
	return nil
}

// Encode marshals a record payload
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return payload, nil
}

// Decode unmarshals the payload of rec into T
func Decode[T any](rec model.CachedRecord) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", rec.Key, err)
	}
	return out, nil
}

// PutJSON encodes v as the payload of key. A ttl of zero never expires.
func PutJSON(ctx context.Context, s Store, partition, key string, v any, index map[string]string, ttl time.Duration) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}
	now := time.Now()
	rec := model.CachedRecord{
		Key:      key,
		Payload:  payload,
		Index:    index,
		CachedAt: now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	return s.Put(ctx, partition, rec)
}

// GetJSON decodes the payload of key into T
func GetJSON[T any](ctx context.Context, s Store, partition, key string) (T, error) {
	var out T
	rec, err := s.Get(ctx, partition, key)
	if err != nil {
		return out, err
	}
	return Decode[T](rec)
}

// ListJSON decodes every readable record of a partition into T
func ListJSON[T any](ctx context.Context, s Store, partition string, filter *IndexFilter) ([]T, error) {
	records, err := s.GetAll(ctx, partition, filter)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := Decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
