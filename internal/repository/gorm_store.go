package repository

import (
	"context"
	"errors"
	"time"

	"geosewa_exam/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	DB  *gorm.DB
	TTL time.Duration
}

func NewGormStore(db *gorm.DB, ttl time.Duration) *GormStore {
	return &GormStore{DB: db, TTL: ttl}
}

func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var e model.CacheEntry
	err := s.DB.WithContext(ctx).
		Where("`key` = ? AND (expires_at IS NULL OR expires_at > ?)", key, time.Now()).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return e.Value, true, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string) error {
	e := model.CacheEntry{Key: key, Value: value}
	if s.TTL > 0 {
		exp := time.Now().Add(s.TTL)
		e.ExpiresAt = &exp
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
}

func (s *GormStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Where("`key` IN ?", keys).Delete(&model.CacheEntry{}).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
