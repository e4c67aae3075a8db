package storage

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"biogate-server-go/internal/platform/errors"
)

// InitDatabase opens the sqlite database backing the retry queue and runs
// the registered migrations.
func InitDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "db.open", "failed to open database", err)
	}

	manager := NewMigrationManager(db)
	manager.AddMigration(&createCheckinTables{})
	if err := manager.RunMigrations(); err != nil {
		return nil, err
	}

	return db, nil
}

// PendingCheckin is a punch that failed transiently and awaits redelivery.
type PendingCheckin struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EnrollID  string    `gorm:"index;not null" json:"enroll_id"`
	Name      string    `json:"name"`
	PunchTime time.Time `gorm:"not null" json:"punch_time"`
	DeviceID  string    `gorm:"index" json:"device_id"`
	// Payload keeps the record exactly as the terminal sent it, for replay
	// and operator inspection.
	Payload    datatypes.JSON `json:"payload"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	LastError  string         `json:"last_error"`
	EnqueuedAt time.Time      `gorm:"not null" json:"enqueued_at"`
	LastTryAt  time.Time      `json:"last_try_at"`
}

// FailedCheckin is a punch the retry scheduler gave up on.
type FailedCheckin struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	EnrollID  string         `gorm:"index;not null" json:"enroll_id"`
	Name      string         `json:"name"`
	PunchTime time.Time      `gorm:"not null" json:"punch_time"`
	DeviceID  string         `gorm:"index" json:"device_id"`
	Payload   datatypes.JSON `json:"payload"`
	Attempts  int            `json:"attempts"`
	Reason    string         `json:"reason"`
	FailedAt  time.Time      `gorm:"not null" json:"failed_at"`
}
