package storage

import (
	"context"
	"sync"
	"time"

	"floodwatch/internal/model"
)

// MemoryStorage keeps partitions in process memory. Used for tests and memory:// stores.
type MemoryStorage struct {
	partitions map[string]map[string]model.CachedRecord
	mutex      sync.RWMutex
}

// NewMemoryStorage creates an empty store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		partitions: make(map[string]map[string]model.CachedRecord),
	}
}

func (s *MemoryStorage) Get(_ context.Context, partition, key string) (model.CachedRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, exists := s.partitions[partition][key]
	if !exists || !rec.ValidAt(time.Now()) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStorage) GetAll(_ context.Context, partition string, filter *IndexFilter) ([]model.CachedRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := time.Now()
	result := make([]model.CachedRecord, 0, len(s.partitions[partition]))
	for _, rec := range s.partitions[partition] {
		if keep(rec, filter, now) {
			result = append(result, cloneRecord(rec))
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStorage) Put(_ context.Context, partition string, record model.CachedRecord) error {
	if err := validatePut(partition, record); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]model.CachedRecord)
		s.partitions[partition] = p
	}
	p[record.Key] = cloneRecord(record)
	return nil
}

func (s *MemoryStorage) Remove(_ context.Context, partition, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.partitions[partition], key)
	return nil
}

// Count returns the number of stored records including expired ones
func (s *MemoryStorage) Count(partition string) int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.partitions[partition])
}

func (s *MemoryStorage) Close() error { return nil }

// cloneRecord copies the mutable parts so callers never share backing arrays with the store
func cloneRecord(rec model.CachedRecord) model.CachedRecord {
	out := rec
	if rec.Payload != nil {
		out.Payload = append([]byte(nil), rec.Payload...)
	}
	if rec.Index != nil {
		out.Index = make(map[string]string, len(rec.Index))
		for k, v := range rec.Index {
			out.Index[k] = v
		}
	}
	return out
}
