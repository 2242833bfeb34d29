package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"floodwatch/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// BadgerStorage is an embedded key-value store for devices without SQLite.
// Records are msgpack envelopes under "<partition>\x00<key>".
type BadgerStorage struct {
	db *badger.DB
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens a database directory; an empty dir keeps everything in memory
func OpenBadger(dir string, logger *zap.Logger) (*BadgerStorage, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

func badgerKey(partition, key string) []byte {
	return []byte(partition + "\x00" + key)
}

func badgerPrefix(partition string) []byte {
	return []byte(partition + "\x00")
}

func (s *BadgerStorage) Get(_ context.Context, partition, key string) (model.CachedRecord, error) {
	var rec model.CachedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(partition, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.CachedRecord{}, fmt.Errorf("failed to get %s/%s: %w", partition, key, err)
	}
	if !rec.ValidAt(time.Now()) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	return rec, nil
}

func (s *BadgerStorage) GetAll(_ context.Context, partition string, filter *IndexFilter) ([]model.CachedRecord, error) {
	now := time.Now()
	prefix := badgerPrefix(partition)
	records := []model.CachedRecord{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec model.CachedRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", bytes.TrimPrefix(it.Item().Key(), prefix), err)
			}
			if keep(rec, filter, now) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}
	sortRecords(records)
	return records, nil
}

func (s *BadgerStorage) Put(_ context.Context, partition string, record model.CachedRecord) error {
	if err := validatePut(partition, record); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", partition, record.Key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(partition, record.Key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", partition, record.Key, err)
	}
	return nil
}

func (s *BadgerStorage) Remove(_ context.Context, partition, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(partition, key))
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
