package database

import (
	"errors"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedSiteSettings = "2024-03-01_seed_site_settings"
	migrationSeedMenuItems    = "2024-03-01_seed_menu_items"
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
	apply func(*gorm.DB, time.Time) error
}

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedSiteSettings, apply: settings.SeedDefaults},
		{name: migrationSeedMenuItems, apply: seedMenuItems},
	}
}

// applyMigrations runs every migration not yet recorded, each in its own
// transaction together with its ledger row.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, now); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: now.Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

type defaultMenuItem struct {
	id    string
	label string
	href  string
}

var defaultMenu = []defaultMenuItem{
	{id: "menu-inicio", label: "Início", href: "/"},
	{id: "menu-sobre", label: "Sobre", href: "/sobre"},
	{id: "menu-vantagens", label: "Vantagens", href: "/vantagens"},
	{id: "menu-cursos", label: "Cursos", href: "/cursos"},
	{id: "menu-monitoramento", label: "Monitoramento", href: "/monitoramento"},
	{id: "menu-medicina", label: "Medicina", href: "/medicina"},
	{id: "menu-faq", label: "FAQ", href: "/faq"},
	{id: "menu-contato", label: "Contato", href: "/contato"},
}

// seedMenuItems fills an empty navigation menu with the site's routes.
func seedMenuItems(db *gorm.DB, now time.Time) error {
	var existing int64
	if err := db.Model(&content.MenuItem{}).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	items := make([]content.MenuItem, 0, len(defaultMenu))
	for position, item := range defaultMenu {
		items = append(items, content.MenuItem{
			Ordered: content.Ordered{
				ID:           item.id,
				DisplayOrder: position,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			Label:  item.label,
			Href:   item.href,
			Target: "_self",
		})
	}
	return db.Create(&items).Error
}
