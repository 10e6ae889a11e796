package models

import "gorm.io/gorm"

func AutoMigrateAll(db *gorm.DB) error {
	err := db.AutoMigrate(
		&ArchivedMessage{},
	)
	if err != nil {
		return err
	}
	// the old index was unique per conversation+message across owners
	if m := db.Migrator(); m.HasIndex(&ArchivedMessage{}, "idx_conversation_message") {
		return m.DropIndex(&ArchivedMessage{}, "idx_conversation_message")
	}
	return nil
}
