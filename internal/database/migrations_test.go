package database

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	return database
}

func TestMigrateSeedsSiteSettings(testContext *testing.T) {
	database := openTestDatabase(testContext)

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var settings []content.SiteSetting
	if err := database.Order("setting_key").Find(&settings).Error; err != nil {
		testContext.Fatalf("failed to load settings: %v", err)
	}
	if len(settings) != 2 {
		testContext.Fatalf("expected two seeded settings, got %d", len(settings))
	}
	if settings[0].Key != content.SettingPrivacyPolicy || settings[1].Key != content.SettingTermsOfService {
		testContext.Fatalf("unexpected seeded keys: %+v", settings)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationSeedSiteSettings).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestMigrateKeepsExistingSettings(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := database.AutoMigrate(content.Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	existing := content.SiteSetting{Key: content.SettingPrivacyPolicy, Value: `[]`, UpdatedAt: time.Now().UTC()}
	if err := database.Create(&existing).Error; err != nil {
		testContext.Fatalf("failed to insert setting: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var stored content.SiteSetting
	if err := database.Where("setting_key = ?", content.SettingPrivacyPolicy).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload setting: %v", err)
	}
	if stored.Value != `[]` {
		testContext.Fatalf("expected existing setting to survive, got %q", stored.Value)
	}
}

func TestMigrateConvertsLegacyArticleContent(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := database.AutoMigrate(content.Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	now := time.Now().UTC()
	blockDocument := `[{"id":"b-1","type":"paragraph","content":{"text":"already blocks"},"order":0}]`
	articles := []content.Article{
		{ID: "legacy", Title: "Legacy", Content: "plain text body", Author: "admin", CreatedAt: now, UpdatedAt: now},
		{ID: "modern", Title: "Modern", Content: blockDocument, Author: "admin", CreatedAt: now, UpdatedAt: now},
	}
	if err := database.Create(&articles).Error; err != nil {
		testContext.Fatalf("failed to insert articles: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	var legacy content.Article
	if err := database.Where("id = ?", "legacy").Take(&legacy).Error; err != nil {
		testContext.Fatalf("failed to reload legacy article: %v", err)
	}
	if !blocks.IsBlockDocument(legacy.Content) {
		testContext.Fatalf("expected legacy content to be converted, got %q", legacy.Content)
	}
	document := blocks.Decode(legacy.Content)
	paragraph, ok := document[0].Content.(blocks.Paragraph)
	if len(document) != 1 || !ok || paragraph.Text != "plain text body" {
		testContext.Fatalf("unexpected converted document: %+v", document)
	}

	var modern content.Article
	if err := database.Where("id = ?", "modern").Take(&modern).Error; err != nil {
		testContext.Fatalf("failed to reload modern article: %v", err)
	}
	if modern.Content != blockDocument {
		testContext.Fatalf("expected block content to be untouched, got %q", modern.Content)
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	if err := database.Where("setting_key = ?", content.SettingTermsOfService).Delete(&content.SiteSetting{}).Error; err != nil {
		testContext.Fatalf("failed to delete setting: %v", err)
	}

	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate again: %v", err)
	}

	var count int64
	if err := database.Model(&content.SiteSetting{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count settings: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected the seed migration not to run twice, got %d settings", count)
	}
}
