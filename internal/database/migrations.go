package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationWrapLegacyDrawingPaths = "2026-01-12_wrap_legacy_drawing_paths"

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
		{name: migrationWrapLegacyDrawingPaths, apply: wrapLegacyDrawingPaths},
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

// Early saves stored the bare path array; current code expects the
// {"paths": [...]} wrapper everywhere.
func wrapLegacyDrawingPaths(db *gorm.DB) error {
	wrapSnapshots := `UPDATE notebook_snapshots SET drawing_json = '{"paths":' || drawing_json || '}' WHERE drawing_json LIKE '[%';`
	if err := db.Exec(wrapSnapshots).Error; err != nil {
		return err
	}
	wrapRevisions := `UPDATE notebook_revisions SET drawing_json = '{"paths":' || drawing_json || '}' WHERE drawing_json LIKE '[%';`
	return db.Exec(wrapRevisions).Error
}
