package database

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/collabnote/collabnote/internal/content"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&content.Snapshot{}, &content.Revision{}, &content.ActivityRecord{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestWrapLegacyDrawingPathsRewritesBareArrays(t *testing.T) {
	db := openTestDB(t)

	legacy := content.Snapshot{
		NotebookID:       "nb-legacy",
		TextContent:      "<p>old</p>",
		DrawingJSON:      `[{"points":[{"x":1,"y":2}],"color":"#fff","size":3}]`,
		Version:          1,
		UpdatedAtSeconds: 1700000000,
	}
	current := content.Snapshot{
		NotebookID:       "nb-current",
		TextContent:      "<p>new</p>",
		DrawingJSON:      `{"paths":[]}`,
		Version:          1,
		UpdatedAtSeconds: 1700000000,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy snapshot: %v", err)
	}
	if err := db.Create(&current).Error; err != nil {
		t.Fatalf("failed to seed current snapshot: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var migrated content.Snapshot
	if err := db.Where("notebook_id = ?", "nb-legacy").Take(&migrated).Error; err != nil {
		t.Fatalf("failed to reload legacy snapshot: %v", err)
	}
	expected := `{"paths":[{"points":[{"x":1,"y":2}],"color":"#fff","size":3}]}`
	if migrated.DrawingJSON != expected {
		t.Fatalf("unexpected migrated payload: %s", migrated.DrawingJSON)
	}

	var untouched content.Snapshot
	if err := db.Where("notebook_id = ?", "nb-current").Take(&untouched).Error; err != nil {
		t.Fatalf("failed to reload current snapshot: %v", err)
	}
	if untouched.DrawingJSON != `{"paths":[]}` {
		t.Fatalf("wrapped payload must not change: %s", untouched.DrawingJSON)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected first run error: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected second run error: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single migration record, got %d", count)
	}
}
