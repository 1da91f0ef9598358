package database

import (
	"tablewait/internal/waitlist"

	"gorm.io/gorm"
)

type extraIndex struct {
	model   interface{}
	name    string
	table   string
	columns string
}

// Indexes the query paths need beyond what the model tags declare
var extraIndexes = []extraIndex{
	// Offer reconciliation scans NOTIFIED entries by deadline
	{&waitlist.WaitlistEntry{}, "idx_waitlist_entries_status_deadline", "waitlist_entries", "status, offer_deadline"},
	// Stats read the transition log by date range
	{&waitlist.TransitionRecord{}, "idx_waitlist_transitions_date_to", "waitlist_transitions", "date, to_status"},
	{&waitlist.NotificationAttempt{}, "idx_waitlist_attempts_entry", "waitlist_notification_attempts", "entry_id, attempted_at"},
}

// MigrateConstraints adds indexes; CREATE INDEX IF NOT EXISTS is not portable to MySQL, so existence is checked first
func MigrateConstraints(db *gorm.DB) error {
	migrator := db.Migrator()
	for _, idx := range extraIndexes {
		if migrator.HasIndex(idx.model, idx.name) {
			continue
		}
		if err := db.Exec("CREATE INDEX " + idx.name + " ON " + idx.table + " (" + idx.columns + ")").Error; err != nil {
			return err
		}
	}
	return nil
}
