package maprepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store keeps compressed map blobs by hash.
type Store interface {
	Put(ctx context.Context, rec MapRecord) error
	Get(ctx context.Context, hash string) (MapRecord, error)
}

type MapRecord struct {
	Hash       string `gorm:"primaryKey;size:40"`
	Name       string `gorm:"size:128"`
	Compressed []byte
	Size       int
	CreatedAt  time.Time
}

func (MapRecord) TableName() string { return "maps" }

type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the maps table.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening map database: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&MapRecord{}); err != nil {
		return nil, fmt.Errorf("migrating map database: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Put(ctx context.Context, rec MapRecord) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (s *GormStore) Get(ctx context.Context, hash string) (MapRecord, error) {
	var rec MapRecord
	err := s.db.WithContext(ctx).First(&rec, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MapRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryStore is a Store for tests and single-process setups.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]MapRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]MapRecord)}
}

func (s *MemoryStore) Put(_ context.Context, rec MapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Hash]; !ok {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		s.recs[rec.Hash] = rec
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, hash string) (MapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[hash]
	if !ok {
		return MapRecord{}, ErrNotFound
	}
	return rec, nil
}
