package database

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MeridianCRM/pulse/backend/internal/notify"
)

const migrationRepairInactivityAlertArchive = "2026-08-12_repair_inactivity_alert_archive"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairInactivityAlertArchive, apply: repairInactivityAlertArchive},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairInactivityAlertArchive rewrites stored feed snapshots whose
// inactivity-alert record carries archived=true. The alert is not
// archivable; snapshots written before that invariant was enforced at
// the store boundary may still hold the stale flag.
func repairInactivityAlertArchive(db *gorm.DB) error {
	var snapshots []notify.FeedSnapshot
	if err := db.Find(&snapshots).Error; err != nil {
		return err
	}

	for _, snapshot := range snapshots {
		var feed []notify.Notification
		if err := json.Unmarshal([]byte(snapshot.PayloadJSON), &feed); err != nil {
			// Corrupt payloads load as empty feeds; nothing to repair.
			continue
		}

		dirty := false
		for index := range feed {
			if feed[index].ID == notify.InactivityAlertID && feed[index].Archived {
				feed[index].Archived = false
				dirty = true
			}
		}
		if !dirty {
			continue
		}

		payload, err := json.Marshal(feed)
		if err != nil {
			return err
		}
		if err := db.Model(&notify.FeedSnapshot{}).
			Where("user_id = ?", snapshot.UserID).
			Update("payload_json", string(payload)).Error; err != nil {
			return err
		}
	}
	return nil
}
