package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"floodwatch/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// recordRow is the GORM model of one cached record
type recordRow struct {
	Partition string     `gorm:"column:part;primaryKey;size:64"`
	Key       string     `gorm:"column:record_key;primaryKey;size:191"`
	Payload   []byte     `gorm:"not null"`
	CachedAt  time.Time  `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (recordRow) TableName() string {
	return "cached_records"
}

// indexRow holds one secondary index value of a record
type indexRow struct {
	Partition string `gorm:"column:part;primaryKey;size:64;index:idx_record_lookup,priority:1"`
	Key       string `gorm:"column:record_key;primaryKey;size:191"`
	Name      string `gorm:"primaryKey;size:64;index:idx_record_lookup,priority:2"`
	Value     string `gorm:"size:191;index:idx_record_lookup,priority:3"`
}

func (indexRow) TableName() string {
	return "record_indices"
}

// GormStorage persists partitions in SQLite (device) or PostgreSQL
type GormStorage struct {
	db *gorm.DB
}

// OpenSQLite opens a SQLite database file; ":memory:" keeps it in process
func OpenSQLite(path string, logger *zap.Logger) (*GormStorage, error) {
	s, err := OpenGorm(sqlite.Open(path), logger)
	if err != nil {
		return nil, err
	}
	// one connection: SQLite allows a single writer and :memory: is per connection
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return s, nil
}

// OpenPostgres opens a PostgreSQL database from a URL
func OpenPostgres(url string, logger *zap.Logger) (*GormStorage, error) {
	return OpenGorm(postgres.Open(url), logger)
}

// OpenGorm opens the dialector and migrates the record tables
func OpenGorm(dialector gorm.Dialector, logger *zap.Logger) (*GormStorage, error) {
	gormLogger := gormlogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&recordRow{}, &indexRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate record tables: %w", err)
	}

	return &GormStorage{db: db}, nil
}

func (s *GormStorage) Get(ctx context.Context, partition, key string) (model.CachedRecord, error) {
	var row recordRow
	err := s.db.WithContext(ctx).
		Where("part = ? AND record_key = ?", partition, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.CachedRecord{}, model.ErrNotFound
	}
	if err != nil {
		return model.CachedRecord{}, fmt.Errorf("failed to get %s/%s: %w", partition, key, err)
	}

	rec := row.toRecord()
	if !rec.ValidAt(time.Now()) {
		return model.CachedRecord{}, model.ErrNotFound
	}

	indices, err := s.loadIndices(ctx, partition, []string{key})
	if err != nil {
		return model.CachedRecord{}, err
	}
	rec.Index = indices[key]
	return rec, nil
}

func (s *GormStorage) GetAll(ctx context.Context, partition string, filter *IndexFilter) ([]model.CachedRecord, error) {
	query := s.db.WithContext(ctx).Where("part = ?", partition)
	if filter != nil {
		sub := s.db.Model(&indexRow{}).
			Select("record_key").
			Where("part = ? AND name = ? AND value = ?", partition, filter.Name, filter.Value)
		query = query.Where("record_key IN (?)", sub)
	}

	var rows []recordRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}

	now := time.Now()
	records := make([]model.CachedRecord, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		rec := row.toRecord()
		if !rec.ValidAt(now) {
			continue
		}
		records = append(records, rec)
		keys = append(keys, rec.Key)
	}
	if len(records) == 0 {
		return records, nil
	}

	indices, err := s.loadIndices(ctx, partition, keys)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Index = indices[records[i].Key]
	}
	sortRecords(records)
	return records, nil
}

func (s *GormStorage) Put(ctx context.Context, partition string, record model.CachedRecord) error {
	if err := validatePut(partition, record); err != nil {
		return err
	}

	row := recordRow{
		Partition: partition,
		Key:       record.Key,
		Payload:   record.Payload,
		CachedAt:  record.CachedAt.UTC(),
	}
	if !record.ExpiresAt.IsZero() {
		expires := record.ExpiresAt.UTC()
		row.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("part = ? AND record_key = ?", partition, record.Key).Delete(&indexRow{}).Error; err != nil {
			return err
		}
		if len(record.Index) == 0 {
			return nil
		}
		rows := make([]indexRow, 0, len(record.Index))
		for name, value := range record.Index {
			rows = append(rows, indexRow{Partition: partition, Key: record.Key, Name: name, Value: value})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", partition, record.Key, err)
	}
	return nil
}

func (s *GormStorage) Remove(ctx context.Context, partition, key string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("part = ? AND record_key = ?", partition, key).Delete(&indexRow{}).Error; err != nil {
			return err
		}
		return tx.Where("part = ? AND record_key = ?", partition, key).Delete(&recordRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", partition, key, err)
	}
	return nil
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) loadIndices(ctx context.Context, partition string, keys []string) (map[string]map[string]string, error) {
	var rows []indexRow
	err := s.db.WithContext(ctx).
		Where("part = ? AND record_key IN ?", partition, keys).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load indices for %s: %w", partition, err)
	}

	out := make(map[string]map[string]string, len(keys))
	for _, r := range rows {
		if out[r.Key] == nil {
			out[r.Key] = make(map[string]string)
		}
		out[r.Key][r.Name] = r.Value
	}
	return out, nil
}

func (r recordRow) toRecord() model.CachedRecord {
	rec := model.CachedRecord{
		Key:      r.Key,
		Payload:  r.Payload,
		CachedAt: r.CachedAt,
	}
	if r.ExpiresAt != nil {
		rec.ExpiresAt = *r.ExpiresAt
	}
	return rec
}
