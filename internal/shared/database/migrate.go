package database

import (
	"tablewait/internal/waitlist"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&waitlist.WaitlistEntry{},
		&waitlist.AvailableSlot{},
		&waitlist.NotificationAttempt{},
		&waitlist.TransitionRecord{},
	); err != nil {
		return err
	}
	return MigrateConstraints(db)
}
