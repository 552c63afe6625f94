package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"stoflow/internal/models"
)

// Migrate ensures the orchestration tables exist.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Batch{},
		&models.Credential{},
	}
}
