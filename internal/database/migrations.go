package database

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
)

const (
	migrationSeedSiteSettings         = "2026-09-14_seed_site_settings"
	migrationConvertLegacyArticleBody = "2026-09-21_convert_legacy_article_content"
)

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
		{name: migrationSeedSiteSettings, apply: seedSiteSettings},
		{name: migrationConvertLegacyArticleBody, apply: convertLegacyArticleContent},
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
		if err := db.Transaction(migration.apply); err != nil {
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

// seedSiteSettings creates the policy rows with empty documents so the admin
// editor always has a row to update.
func seedSiteSettings(db *gorm.DB) error {
	now := time.Now().UTC()
	settings := []content.SiteSetting{
		{Key: content.SettingPrivacyPolicy, Value: "", UpdatedAt: now},
		{Key: content.SettingTermsOfService, Value: "", UpdatedAt: now},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error
}

// convertLegacyArticleContent rewrites plain text article bodies into a
// one-paragraph block document.
func convertLegacyArticleContent(db *gorm.DB) error {
	var articles []content.Article
	if err := db.Select("id", "content").Find(&articles).Error; err != nil {
		return err
	}
	for _, article := range articles {
		if strings.TrimSpace(article.Content) == "" || blocks.IsBlockDocument(article.Content) {
			continue
		}
		encoded, err := blocks.Encode([]blocks.Block{blocks.LegacyParagraph(article.Content)})
		if err != nil {
			return err
		}
		if err := db.Model(&content.Article{}).Where("id = ?", article.ID).Update("content", encoded).Error; err != nil {
			return err
		}
	}
	return nil
}
