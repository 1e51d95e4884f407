package certificates

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "certificates.service.new"
	opCreate      = "certificates.create"
	opUpdate      = "certificates.update"
	opDelete      = "certificates.delete"
	opList        = "certificates.list"
	opLookup      = "certificates.lookup"
	opSetDocument = "certificates.set_document"
)

var (
	// ErrNotFound covers both missing and soft-deleted certificates on the
	// public lookup.
	ErrNotFound                    = errors.New("certificates: certificate not found or inactive")
	ErrDuplicateRegistration       = errors.New("certificates: registration number already issued")
	ErrRegistrationNumberImmutable = errors.New("certificates: registration number cannot change")
	ErrConfirmationRequired        = errors.New("certificates: delete requires confirmation")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingOrigin     = errors.New("site origin is required")
)

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Publisher  realtime.Publisher
	// SiteOrigin prefixes the verification URL stored on each certificate.
	SiteOrigin string
	// Retirer deletes documents SetDocument replaced.
	Retirer media.Retirer
	Clock   func() time.Time
	Logger  *zap.Logger
}

type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	publisher  realtime.Publisher
	origin     string
	retirer    media.Retirer
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
	if strings.TrimSpace(cfg.SiteOrigin) == "" {
		return nil, serviceerr.New(opServiceNew, "missing_origin", errMissingOrigin)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	retirer := cfg.Retirer
	if retirer == nil {
		retirer = media.NopRetirer{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := editor.NewStructValidator()
	if err := validate.RegisterValidation("registration_number", func(field validator.FieldLevel) bool {
		return registrationNumberPattern.MatchString(field.Field().String())
	}); err != nil {
		return nil, serviceerr.New(opServiceNew, "validator_setup_failed", err)
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		publisher:  publisher,
		origin:     cfg.SiteOrigin,
		retirer:    retirer,
		clock:      clock,
		logger:     logger,
		validate:   validate,
	}, nil
}

// Origin is the site origin verification URLs are built from.
func (s *Service) Origin() string {
	return s.origin
}

func (s *Service) validateInput(input Input) (Input, error) {
	input = input.normalized()
	if err := editor.ValidateStruct(s.validate, input); err != nil {
		return input, err
	}
	return input, nil
}

// Create issues a certificate. Registration numbers are unique across active
// and soft-deleted certificates.
func (s *Service) Create(ctx context.Context, input Input) (Certificate, error) {
	input, err := s.validateInput(input)
	if err != nil {
		return Certificate{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Certificate{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	certificate := Certificate{
		ID:        id,
		QRCodeURL: VerificationURL(s.origin, input.RegistrationNumber),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(&certificate, input)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Certificate{}).Where("registration_number = ?", input.RegistrationNumber).Count(&existing).Error; err != nil {
			s.logError(opCreate, "duplicate_check_failed", err)
			return serviceerr.New(opCreate, "duplicate_check_failed", err)
		}
		if existing > 0 {
			return ErrDuplicateRegistration
		}
		if err := tx.Create(&certificate).Error; err != nil {
			s.logError(opCreate, "insert_failed", err, zap.String("registration_number", input.RegistrationNumber))
			return serviceerr.New(opCreate, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return Certificate{}, err
	}
	s.publish(realtime.EventInsert)
	return certificate, nil
}

// Update replaces the editable fields. The registration number must match
// the stored one.
func (s *Service) Update(ctx context.Context, id string, input Input) (Certificate, error) {
	input, err := s.validateInput(input)
	if err != nil {
		return Certificate{}, err
	}
	var certificate Certificate
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&certificate).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			s.logError(opUpdate, "query_failed", err, zap.String("id", id))
			return serviceerr.New(opUpdate, "query_failed", err)
		}
		if certificate.RegistrationNumber != input.RegistrationNumber {
			return ErrRegistrationNumberImmutable
		}
		apply(&certificate, input)
		certificate.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&certificate).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, zap.String("id", id))
			return serviceerr.New(opUpdate, "save_failed", err)
		}
		return nil
	})
	if err != nil {
		return Certificate{}, err
	}
	s.publish(realtime.EventUpdate)
	return certificate, nil
}

func apply(certificate *Certificate, input Input) {
	certificate.StudentName = input.StudentName
	certificate.CourseName = input.CourseName
	certificate.CourseNorm = input.CourseNorm
	certificate.CourseType = input.CourseType
	certificate.CourseHours = input.CourseHours
	certificate.CourseDate = parseDate(input.CourseDate)
	certificate.RegistrationNumber = input.RegistrationNumber
	certificate.ArchiveCode = input.ArchiveCode
	certificate.IssueDate = parseDate(input.IssueDate)
	certificate.IssueLocation = input.IssueLocation
	certificate.InstructorName = input.InstructorName
	certificate.InstructorCredentials = datatypes.JSONSlice[string](input.InstructorCredentials)
	certificate.Curriculum = datatypes.JSONSlice[string](input.Curriculum)
	certificate.StudentStatus = input.StudentStatus
	certificate.Grade = input.Grade
	certificate.ValidityText = input.ValidityText
}

// Delete soft-deletes a certificate after the caller confirmed it.
// Certificates are never removed from the store.
func (s *Service) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	result := s.db.WithContext(ctx).Model(&Certificate{}).Where("id = ?", id).Updates(map[string]any{
		"is_active":  false,
		"updated_at": s.clock().UTC(),
	})
	if result.Error != nil {
		s.logError(opDelete, "soft_delete_failed", result.Error, zap.String("id", id))
		return serviceerr.New(opDelete, "soft_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(realtime.EventUpdate)
	return nil
}

// ListAdmin returns every certificate, including soft-deleted ones, newest
// first.
func (s *Service) ListAdmin(ctx context.Context) ([]Certificate, error) {
	return s.list(ctx, false)
}

// ListPublic returns active certificates only.
func (s *Service) ListPublic(ctx context.Context) ([]Certificate, error) {
	return s.list(ctx, true)
}

func (s *Service) list(ctx context.Context, activeOnly bool) ([]Certificate, error) {
	statement := s.db.WithContext(ctx).Model(&Certificate{})
	if activeOnly {
		statement = statement.Where("is_active = ?", true)
	}
	certificates := make([]Certificate, 0)
	if err := statement.Order("created_at DESC").Order("id DESC").Find(&certificates).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.Bool("active_only", activeOnly))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return certificates, nil
}

// Get loads a certificate by id for the admin panel, active or not.
func (s *Service) Get(ctx context.Context, id string) (Certificate, error) {
	var certificate Certificate
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&certificate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Certificate{}, ErrNotFound
	}
	if err != nil {
		s.logError(opLookup, "query_failed", err, zap.String("id", id))
		return Certificate{}, serviceerr.New(opLookup, "query_failed", err)
	}
	return certificate, nil
}

// Lookup resolves a public registration number. The match is exact and case
// sensitive; inactive certificates are reported as ErrNotFound like missing
// ones.
func (s *Service) Lookup(ctx context.Context, registrationNumber string) (Certificate, error) {
	var certificate Certificate
	err := s.db.WithContext(ctx).
		Where("registration_number = ? AND is_active = ?", registrationNumber, true).
		Take(&certificate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Certificate{}, ErrNotFound
	}
	if err != nil {
		s.logError(opLookup, "query_failed", err, zap.String("registration_number", registrationNumber))
		return Certificate{}, serviceerr.New(opLookup, "query_failed", err)
	}
	return certificate, nil
}

// SetDocument records the PDF or flattened image shown for a certificate.
// generated marks documents produced by the annotation editor. Once the row
// is committed the replaced document is retired, except for an uploaded
// source PDF that a generated image now covers.
func (s *Service) SetDocument(ctx context.Context, id, documentURL string, generated bool) (Certificate, error) {
	var value any
	trimmed := strings.TrimSpace(documentURL)
	if trimmed != "" {
		value = trimmed
	}
	var previous, certificate Certificate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&previous).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			s.logError(opSetDocument, "query_failed", err, zap.String("id", id))
			return serviceerr.New(opSetDocument, "query_failed", err)
		}
		result := tx.Model(&Certificate{}).Where("id = ?", id).Updates(map[string]any{
			"pdf_url":      value,
			"is_generated": generated,
			"updated_at":   s.clock().UTC(),
		})
		if result.Error != nil {
			s.logError(opSetDocument, "update_failed", result.Error, zap.String("id", id))
			return serviceerr.New(opSetDocument, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).Take(&certificate).Error
	})
	if err != nil {
		return Certificate{}, err
	}
	if previous.PDFURL != nil && (previous.IsGenerated || !generated) {
		s.retirer.Retire(ctx, *previous.PDFURL, trimmed)
	}
	s.publish(realtime.EventUpdate)
	return certificate, nil
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
	s.logger.Error("certificate operation failed", allFields...)
}
