// Package registrations stores the leads submitted through the public
// registration form and the admin workflow around them.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Status is the admin workflow state of a lead. Any status may follow any
// other.
type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in workflow order.
func Statuses() []Status {
	return []Status{StatusPending, StatusContacted, StatusCompleted, StatusCancelled}
}

func ParseStatus(raw string) (Status, error) {
	for _, status := range Statuses() {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

const (
	Table = "registrations"

	opServiceNew   = "registrations.service.new"
	opSubmit       = "registrations.submit"
	opList         = "registrations.list"
	opUpdateStatus = "registrations.update_status"
	opUpdateNotes  = "registrations.update_notes"
	opDelete       = "registrations.delete"
)

var (
	ErrNotFound             = errors.New("registrations: registration not found")
	ErrInvalidStatus        = errors.New("registrations: invalid status")
	ErrConfirmationRequired = errors.New("registrations: delete requires confirmation")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

type Registration struct {
	ID          string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Email       string    `gorm:"column:email;not null" json:"email"`
	Phone       string    `gorm:"column:phone;not null" json:"phone"`
	Company     string    `gorm:"column:company" json:"company"`
	CNPJ        string    `gorm:"column:cnpj;size:32" json:"cnpj"`
	ServiceType string    `gorm:"column:service_type;not null" json:"service_type"`
	Message     string    `gorm:"column:message" json:"message"`
	Status      Status    `gorm:"column:status;size:16;not null;default:pending;index" json:"status"`
	Notes       *string   `gorm:"column:notes" json:"notes"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Registration) TableName() string { return Table }

// Input is what the public form submits.
type Input struct {
	Name        string `json:"name" form:"name" validate:"required,max=200"`
	Email       string `json:"email" form:"email" validate:"required,email,max=200"`
	Phone       string `json:"phone" form:"phone" validate:"required,max=40"`
	Company     string `json:"company" form:"company" validate:"max=200"`
	CNPJ        string `json:"cnpj" form:"cnpj" validate:"max=32"`
	ServiceType string `json:"service_type" form:"service_type" validate:"required,max=120"`
	Message     string `json:"message" form:"message" validate:"max=4000"`
}

func (in Input) trimmed() Input {
	return Input{
		Name:        strings.TrimSpace(in.Name),
		Email:       strings.TrimSpace(in.Email),
		Phone:       strings.TrimSpace(in.Phone),
		Company:     strings.TrimSpace(in.Company),
		CNPJ:        strings.TrimSpace(in.CNPJ),
		ServiceType: strings.TrimSpace(in.ServiceType),
		Message:     strings.TrimSpace(in.Message),
	}
}

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Publisher  realtime.Publisher
	Clock      func() time.Time
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	publisher  realtime.Publisher
	clock      func() time.Time
	logger     *zap.Logger
	validate   *validator.Validate
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
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
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		validate:   editor.NewStructValidator(),
	}, nil
}

// Submit validates a lead and stores it as pending with no notes.
func (s *Service) Submit(ctx context.Context, input Input) (Registration, error) {
	input = input.trimmed()
	if err := editor.ValidateStruct(s.validate, input); err != nil {
		return Registration{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmit, "id_generation_failed", err)
		return Registration{}, serviceerr.New(opSubmit, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	registration := Registration{
		ID:          id,
		Name:        input.Name,
		Email:       input.Email,
		Phone:       input.Phone,
		Company:     input.Company,
		CNPJ:        input.CNPJ,
		ServiceType: input.ServiceType,
		Message:     input.Message,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&registration).Error; err != nil {
		s.logError(opSubmit, "insert_failed", err)
		return Registration{}, serviceerr.New(opSubmit, "insert_failed", err)
	}
	s.publish(realtime.EventInsert)
	return registration, nil
}

// List returns registrations newest first. An empty filter returns every
// status.
func (s *Service) List(ctx context.Context, filter Status) ([]Registration, error) {
	statement := s.db.WithContext(ctx).Model(&Registration{})
	if filter != "" {
		if _, err := ParseStatus(string(filter)); err != nil {
			return nil, err
		}
		statement = statement.Where("status = ?", filter)
	}
	registrations := make([]Registration, 0)
	if err := statement.Order("created_at DESC").Order("id DESC").Find(&registrations).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return registrations, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (Registration, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Registration{}, err
	}
	return s.update(ctx, opUpdateStatus, id, map[string]any{"status": status})
}

// UpdateNotes replaces the internal notes. Blank notes are stored as NULL.
func (s *Service) UpdateNotes(ctx context.Context, id string, notes string) (Registration, error) {
	var value any
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		value = trimmed
	}
	return s.update(ctx, opUpdateNotes, id, map[string]any{"notes": value})
}

func (s *Service) update(ctx context.Context, operation, id string, changes map[string]any) (Registration, error) {
	changes["updated_at"] = s.clock().UTC()
	var updated Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Registration{}).Where("id = ?", id).Updates(changes)
		if result.Error != nil {
			s.logError(operation, "update_failed", result.Error, zap.String("id", id))
			return serviceerr.New(operation, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return Registration{}, err
	}
	s.publish(realtime.EventUpdate)
	return updated, nil
}

// Delete removes a registration after the caller confirmed it.
func (s *Service) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Registration{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("id", id))
		return serviceerr.New(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(realtime.EventDelete)
	return nil
}

// CountByStatus reports how many registrations are in each status, for the
// admin dashboard badges.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	type row struct {
		Status Status
		Total  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&Registration{}).
		Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error
	if err != nil {
		s.logError(opList, "count_failed", err)
		return nil, serviceerr.New(opList, "count_failed", err)
	}
	counts := make(map[Status]int64, len(Statuses()))
	for _, status := range Statuses() {
		counts[status] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func (s *Service) publish(event realtime.EventType) {
	s.publisher.Publish(realtime.ChangeEvent{Event: event, Table: Table})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("registration operation failed", allFields...)
}
