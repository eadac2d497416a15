package model

import "time"

// CacheEntry is one key of the answer cache when it is kept in MySQL.
type CacheEntry struct {
	Key       string     `gorm:"primaryKey;type:varchar(191)"`
	Value     string     `gorm:"type:mediumtext"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (CacheEntry) TableName() string {
	return "answer_cache_entries"
}
