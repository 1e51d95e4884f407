// Package settings holds the site-wide settings groups (colors, contact,
// branding, hero section) edited in the admin panel and read by every page.
package settings

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyColors   = "colors"
	KeyContact  = "contact"
	KeyBranding = "branding"
	KeyHero     = "heroSection"

	// Table is the settings table name, also used as the realtime topic.
	Table = "site_settings"

	opServiceNew = "settings.service.new"
	opRefresh    = "settings.refresh"
	opUpdate     = "settings.update"
	opSeed       = "settings.seed"
)

var (
	ErrUnknownKey   = errors.New("settings: unknown settings group")
	ErrInvalidValue = errors.New("settings: value does not match the group schema")

	errMissingDatabase = errors.New("database handle is required")

	//go:embed schemas/*.json
	schemaFiles embed.FS
)

// Keys lists the settings groups in the order the admin panel shows them.
func Keys() []string {
	return []string{KeyColors, KeyContact, KeyBranding, KeyHero}
}

// Setting is one stored settings group.
type Setting struct {
	Key       string         `gorm:"column:key;primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Setting) TableName() string { return Table }

type Colors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary"`
	Accent     string `json:"accent"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
}

type Contact struct {
	Phone         string `json:"phone"`
	WhatsApp      string `json:"whatsapp,omitempty"`
	Email         string `json:"email"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	BusinessHours string `json:"business_hours,omitempty"`
	Instagram     string `json:"instagram,omitempty"`
	Facebook      string `json:"facebook,omitempty"`
	LinkedIn      string `json:"linkedin,omitempty"`
}

type Branding struct {
	SiteName   string `json:"site_name"`
	Tagline    string `json:"tagline,omitempty"`
	LogoURL    string `json:"logo_url,omitempty"`
	FaviconURL string `json:"favicon_url,omitempty"`
}

type Hero struct {
	Title              string `json:"title"`
	Subtitle           string `json:"subtitle,omitempty"`
	CTAText            string `json:"cta_text,omitempty"`
	CTALink            string `json:"cta_link,omitempty"`
	BackgroundImageURL string `json:"background_image_url,omitempty"`
}

func mustJSON(value any) json.RawMessage {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return data
}

// Defaults returns the values seeded for each group and used while a group
// has no stored row.
func Defaults() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		KeyColors: mustJSON(Colors{
			Primary: "#0F4C81", Secondary: "#F2A900", Accent: "#D62828",
			Background: "#FFFFFF", Text: "#1F2933",
		}),
		KeyContact: mustJSON(Contact{
			Phone: "(51) 3000-0000", WhatsApp: "5551999999999", Email: "contato@evitare.com.br",
			City: "Porto Alegre - RS", BusinessHours: "Segunda a sexta, 8h às 18h",
		}),
		KeyBranding: mustJSON(Branding{
			SiteName: "Evitare", Tagline: "Segurança e Saúde do Trabalho",
		}),
		KeyHero: mustJSON(Hero{
			Title:    "Segurança do trabalho que protege pessoas",
			Subtitle: "Treinamentos NR, medicina ocupacional e monitoramento ambiental",
			CTAText:  "Fale conosco", CTALink: "/contato",
		}),
	}
}

// SeedDefaults inserts the default value of every group that has no row.
// Existing rows are left untouched.
func SeedDefaults(db *gorm.DB, now time.Time) error {
	for _, key := range Keys() {
		row := Setting{Key: key, Value: datatypes.JSON(Defaults()[key]), UpdatedAt: now.UTC()}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return serviceerr.New(opSeed, "insert_failed", err)
		}
	}
	return nil
}

type ServiceConfig struct {
	Database  *gorm.DB
	Publisher realtime.Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service caches the settings groups in memory. Reads never hit the store;
// Refresh reloads the cache.
type Service struct {
	db        *gorm.DB
	publisher realtime.Publisher
	clock     func() time.Time
	logger    *zap.Logger
	schemas   map[string]*jsonschema.Schema

	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, serviceerr.New(opServiceNew, "schema_compile_failed", err)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		schemas:   schemas,
		values:    Defaults(),
	}, nil
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	compiled := make(map[string]*jsonschema.Schema, len(Keys()))
	for _, key := range Keys() {
		name := "schemas/" + key + ".json"
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", key, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", key, err)
		}
		compiled[key] = schema
	}
	return compiled, nil
}

// Init loads the cache for the first time.
func (s *Service) Init(ctx context.Context) error {
	return s.Refresh(ctx)
}

// Refresh reloads every group from the store. Groups without a row keep
// their defaults.
func (s *Service) Refresh(ctx context.Context) error {
	var rows []Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		s.logger.Error("settings refresh failed",
			zap.String("operation", opRefresh), zap.String("reason", "query_failed"), zap.Error(err))
		return serviceerr.New(opRefresh, "query_failed", err)
	}
	values := Defaults()
	for _, row := range rows {
		if _, known := values[row.Key]; !known {
			continue
		}
		values[row.Key] = json.RawMessage(row.Value)
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

// Snapshot returns every group keyed by name.
func (s *Service) Snapshot() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func (s *Service) Colors() Colors {
	var colors Colors
	s.decode(KeyColors, &colors)
	return colors
}

func (s *Service) Contact() Contact {
	var contact Contact
	s.decode(KeyContact, &contact)
	return contact
}

func (s *Service) Branding() Branding {
	var branding Branding
	s.decode(KeyBranding, &branding)
	return branding
}

func (s *Service) Hero() Hero {
	var hero Hero
	s.decode(KeyHero, &hero)
	return hero
}

func (s *Service) decode(key string, target any) {
	s.mu.RLock()
	raw := s.values[key]
	s.mu.RUnlock()
	if err := json.Unmarshal(raw, target); err != nil {
		s.logger.Warn("stored settings group unreadable, using defaults", zap.String("key", key), zap.Error(err))
		_ = json.Unmarshal(Defaults()[key], target)
	}
}

// Validate checks raw against the schema of group key.
func (s *Service) Validate(key string, raw json.RawMessage) error {
	schema, ok := s.schemas[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := schema.Validate(document); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}

// Update replaces a whole group, refreshes the cache and notifies
// subscribers.
func (s *Service) Update(ctx context.Context, key string, raw json.RawMessage) error {
	if err := s.Validate(key, raw); err != nil {
		return err
	}
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	row := Setting{Key: key, Value: datatypes.JSON(compacted.Bytes()), UpdatedAt: s.clock().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		s.logger.Error("settings update failed",
			zap.String("operation", opUpdate), zap.String("reason", "upsert_failed"),
			zap.String("key", key), zap.Error(err))
		return serviceerr.New(opUpdate, "upsert_failed", err)
	}
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	s.publisher.Publish(realtime.ChangeEvent{Event: realtime.EventUpdate, Table: Table})
	return nil
}

// WatchChanges refreshes the cache whenever another writer changes the
// settings table. It returns when ctx ends.
func (s *Service) WatchChanges(ctx context.Context, subscriber realtime.Subscriber) {
	events, cancel := subscriber.Subscribe(ctx, []string{Table})
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("settings refresh after change failed", zap.Error(err))
			}
		}
	}
}
