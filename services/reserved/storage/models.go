package storage

import (
	"time"

	"gorm.io/gorm"
)

// eventRow is the persisted form of a committed event record. Attributes
// are stored as a JSON object.
type eventRow struct {
	Sequence    uint64    `gorm:"primaryKey;autoIncrement:false"`
	RecordID    string    `gorm:"column:record_id;uniqueIndex;not null"`
	Idx         int       `gorm:"not null"`
	Operation   string    `gorm:"index;not null"`
	Type        string    `gorm:"index;not null"`
	Attributes  string    `gorm:"type:text;not null"`
	CommittedAt time.Time `gorm:"not null"`
}

func (eventRow) TableName() string { return "events" }

// snapshotRow keeps amounts as base-10 strings so they survive any driver.
type snapshotRow struct {
	ID         uint64    `gorm:"primaryKey"`
	Idle       string    `gorm:"not null"`
	Deployed   string    `gorm:"not null"`
	Assets     string    `gorm:"not null"`
	Supply     string    `gorm:"not null"`
	Allocation string    `gorm:"not null"`
	RecordedAt time.Time `gorm:"index;not null"`
}

func (snapshotRow) TableName() string { return "position_snapshots" }

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&eventRow{}, &snapshotRow{})
}
